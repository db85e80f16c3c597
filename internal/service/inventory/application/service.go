// Package application 实现 Fulfillment 门面：把商品级的库存调用
// 翻译为台账仓储 + 分配算法，或软预留 Actor 的调用，并对外提供
// 下游（运费、购物车）可以信赖的"可用库存"数字。
package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/reservation"
)

// FulfillmentService 编排台账分配与软预留。
type FulfillmentService struct {
	repo   domain.InventoryRepository
	holds  *reservation.Registry
	cache  domain.QuoteCacheInvalidator
	events domain.StockEventPublisher
	tracer trace.Tracer
}

func NewFulfillmentService(
	repo domain.InventoryRepository,
	holds *reservation.Registry,
	cache domain.QuoteCacheInvalidator,
	events domain.StockEventPublisher,
	tracer trace.Tracer,
) *FulfillmentService {
	return &FulfillmentService{
		repo:   repo,
		holds:  holds,
		cache:  cache,
		events: events,
		tracer: tracer,
	}
}

// --- 聚合库存查询 ---

// GetAvailableStock 返回商品跨仓库的可用库存，向下钳制到 0。
// 没有任何台账行的商品返回 0，不是错误。
func (s *FulfillmentService) GetAvailableStock(ctx context.Context, productID string) (int, error) {
	if productID == "" {
		return 0, errors.WithMessage(domain.ErrInvalidArgument, "productId must not be empty")
	}
	rows, err := s.repo.FindByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return domain.AggregateRows(productID, rows).Available, nil
}

// GetAvailableStocks 批量查询多个商品的可用库存。
func (s *FulfillmentService) GetAvailableStocks(ctx context.Context, productIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(productIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, productID := range productIDs {
		g.Go(func() error {
			available, err := s.GetAvailableStock(gctx, productID)
			if err != nil {
				return err
			}
			mu.Lock()
			result[productID] = available
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetWarehouseStocks 返回商品的逐仓库台账行，供运费模块消费。
func (s *FulfillmentService) GetWarehouseStocks(ctx context.Context, productID string) ([]domain.InventoryRow, error) {
	if productID == "" {
		return nil, errors.WithMessage(domain.ErrInvalidArgument, "productId must not be empty")
	}
	return s.repo.FindByProduct(ctx, productID)
}

// --- 台账维护 ---

// SetStock 创建或整行替换 (商品, 仓库) 的库存记录。
func (s *FulfillmentService) SetStock(ctx context.Context, productID, warehouseID string, quantity int) (*domain.InventoryRow, error) {
	if productID == "" || warehouseID == "" {
		return nil, errors.WithMessage(domain.ErrInvalidArgument, "productId and warehouseId must not be empty")
	}
	if quantity < 0 {
		return nil, errors.WithMessage(domain.ErrInvalidArgument, "quantity must not be negative")
	}
	row, err := s.repo.SetStock(ctx, productID, warehouseID, quantity)
	if err != nil {
		return nil, err
	}
	s.afterStockChange(ctx, productID, warehouseID, "set", quantity)
	return row, nil
}

// UpdateStock 调整一条已存在的行，缺行报 NotFound。
func (s *FulfillmentService) UpdateStock(ctx context.Context, productID, warehouseID string, quantity int) (*domain.InventoryRow, error) {
	if productID == "" || warehouseID == "" {
		return nil, errors.WithMessage(domain.ErrInvalidArgument, "productId and warehouseId must not be empty")
	}
	if quantity < 0 {
		return nil, errors.WithMessage(domain.ErrInvalidArgument, "quantity must not be negative")
	}
	row, err := s.repo.UpdateQuantity(ctx, productID, warehouseID, quantity)
	if err != nil {
		return nil, err
	}
	s.afterStockChange(ctx, productID, warehouseID, "update", quantity)
	return row, nil
}

// RemoveStock 对 (商品, 仓库) 的行打墓碑标记。
func (s *FulfillmentService) RemoveStock(ctx context.Context, productID, warehouseID string) error {
	if productID == "" || warehouseID == "" {
		return errors.WithMessage(domain.ErrInvalidArgument, "productId and warehouseId must not be empty")
	}
	if err := s.repo.SoftDelete(ctx, productID, warehouseID); err != nil {
		return err
	}
	s.afterStockChange(ctx, productID, warehouseID, "remove", 0)
	return nil
}

// --- 台账分配（reduce 与旧版硬预留路径） ---

// ReduceProductStock 永久扣减商品库存，跨仓库贪心分配。
func (s *FulfillmentService) ReduceProductStock(ctx context.Context, productID string, quantity int, warehouseHint string) (int, error) {
	return s.allocate(ctx, productID, quantity, domain.OpReduce, warehouseHint)
}

// ReserveProductStock 是旧版硬预留路径：增加台账的 reserved_quantity，
// 立即影响 getAvailableStock。
func (s *FulfillmentService) ReserveProductStock(ctx context.Context, productID string, quantity int, warehouseHint string) (int, error) {
	return s.allocate(ctx, productID, quantity, domain.OpReserve, warehouseHint)
}

// ReleaseProductStock 是旧版硬预留的逆操作。
func (s *FulfillmentService) ReleaseProductStock(ctx context.Context, productID string, quantity int, warehouseHint string) (int, error) {
	return s.allocate(ctx, productID, quantity, domain.OpRelease, warehouseHint)
}

// allocate 执行 §4.2 的分配策略：修复 → 首选仓库快速路径 →
// 贪心多仓回退，每一步写入都经过条件更新的再校验。
// 出现缺口时整个操作报冲突，但已生效的行不回滚，Applied 记录实情。
func (s *FulfillmentService) allocate(ctx context.Context, productID string, quantity int, op domain.OpKind, warehouseHint string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.Allocate")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.String("stock.op", op.String()),
		attribute.Int("stock.quantity", quantity),
	)

	if productID == "" {
		return 0, errors.WithMessage(domain.ErrInvalidArgument, "productId must not be empty")
	}
	if quantity <= 0 {
		return 0, errors.WithMessage(domain.ErrInvalidArgument, "quantity must be positive")
	}

	rows, err := s.repo.FindByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.WithMessagef(domain.ErrNotFound, "product %s has no inventory rows", productID)
	}

	// 一致性修复只在 reduce 路径执行：它是绝不能超卖的提交路径
	if op == domain.OpReduce && anyNeedsRepair(rows) {
		repaired, err := s.repo.ClampReserved(ctx, productID)
		if err != nil {
			return 0, err
		}
		if repaired > 0 {
			logger.Ctx(ctx).Warn().Str("product_id", productID).Int("rows", repaired).
				Msg("Clamped reserved_quantity > quantity before allocation")
			span.AddEvent("consistency repair applied")
		}
		rows, err = s.repo.FindByProduct(ctx, productID)
		if err != nil {
			return 0, err
		}
	}

	applied := 0
	remaining := quantity

	// 首选仓库快速路径：提示仓库能独立吃下整个请求时一步完成
	if step, ok := domain.PreferredStep(rows, op, warehouseHint, quantity); ok {
		ok, err := s.tryStep(ctx, op, step)
		if err != nil {
			return 0, err
		}
		if ok {
			applied = quantity
			remaining = 0
		}
		// 条件更新失败说明快照已过期，回退到贪心路径
	}

	for attempt := 0; remaining > 0 && attempt < 2; attempt++ {
		steps := domain.PlanGreedy(rows, op, remaining)
		if len(steps) == 0 {
			break
		}
		raced := false
		for _, step := range steps {
			ok, err := s.tryStep(ctx, op, step)
			if err != nil {
				return applied, err
			}
			if !ok {
				// 并发写入者抢先，本步贡献为零
				raced = true
				continue
			}
			applied += step.Take
			remaining -= step.Take
		}
		if remaining == 0 || !raced {
			break
		}
		// 快照已过期导致计划落空，重读后再规划一轮
		rows, err = s.repo.FindByProduct(ctx, productID)
		if err != nil {
			return applied, err
		}
	}

	if remaining > 0 {
		agg := domain.AggregateRows(productID, rows)
		conflict := domain.NewInsufficientStockError(productID, quantity, applied, agg)
		span.RecordError(conflict)
		span.SetStatus(codes.Error, "allocation shortfall")
		if applied > 0 {
			// 缺口前已生效的行写入不回滚，失效缓存让读方看到真实余量
			s.afterStockChange(ctx, productID, warehouseHint, op.String(), applied)
		}
		return applied, conflict
	}

	s.afterStockChange(ctx, productID, warehouseHint, op.String(), applied)
	return applied, nil
}

func anyNeedsRepair(rows []domain.InventoryRow) bool {
	for i := range rows {
		if rows[i].NeedsRepair() {
			return true
		}
	}
	return false
}

func (s *FulfillmentService) tryStep(ctx context.Context, op domain.OpKind, step domain.AllocationStep) (bool, error) {
	switch op {
	case domain.OpReduce:
		return s.repo.TryReduce(ctx, step.InventoryID, step.Take)
	case domain.OpReserve:
		return s.repo.TryReserve(ctx, step.InventoryID, step.Take)
	case domain.OpRelease:
		return s.repo.TryRelease(ctx, step.InventoryID, step.Take)
	default:
		return false, errors.WithMessagef(domain.ErrInvalidArgument, "unknown allocation op %d", op)
	}
}

// afterStockChange 是每次台账变化后的副作用：失效运费报价缓存并
// 发布变更事件。两者都不反过来影响主操作的成败。
func (s *FulfillmentService) afterStockChange(ctx context.Context, productID, warehouseID, op string, quantity int) {
	if s.cache != nil {
		if err := s.cache.InvalidateProduct(ctx, productID); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).Msg("Failed to invalidate quote cache")
		}
	}
	if s.events == nil {
		return
	}
	available, err := s.GetAvailableStock(ctx, productID)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).Msg("Failed to read available stock for event")
		available = -1
	}
	event := &domain.StockChanged{
		EventID:     uuid.NewString(),
		ProductID:   productID,
		WarehouseID: warehouseID,
		Operation:   op,
		Quantity:    quantity,
		Available:   available,
		OccurredAt:  time.Now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).Msg("Failed to publish stock changed event")
	}
}
