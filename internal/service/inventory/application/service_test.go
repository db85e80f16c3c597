package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"

	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/infrastructure"
	"stockhub/internal/service/inventory/reservation"
)

// fakeRepo 用内存切片模拟台账仓储，Try* 实现与真实仓储相同的
// 条件更新语义，便于验证分配算法的再校验路径。
// steal 模拟并发写入者：对应行的下一次条件扣减失败，且被抢走给定数量。
type fakeRepo struct {
	mu         sync.Mutex
	rows       []domain.InventoryRow
	seq        int
	steal      map[string][]int
	clampCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{steal: make(map[string][]int)}
}

func (r *fakeRepo) seed(productID, warehouseID string, quantity, reserved int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := fmt.Sprintf("inv-%d", r.seq)
	r.rows = append(r.rows, domain.InventoryRow{
		InventoryID:      id,
		ProductID:        productID,
		WarehouseID:      warehouseID,
		Quantity:         quantity,
		ReservedQuantity: reserved,
	})
	return id
}

func (r *fakeRepo) snapshot(productID, warehouseID string) (domain.InventoryRow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ProductID == productID && row.WarehouseID == warehouseID {
			return row, true
		}
	}
	return domain.InventoryRow{}, false
}

func (r *fakeRepo) FindByProduct(_ context.Context, productID string) ([]domain.InventoryRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InventoryRow
	for _, row := range r.rows {
		if row.ProductID == productID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindRow(_ context.Context, productID, warehouseID string) (*domain.InventoryRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ProductID == productID && r.rows[i].WarehouseID == warehouseID {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRepo) SetStock(_ context.Context, productID, warehouseID string, quantity int) (*domain.InventoryRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ProductID == productID && r.rows[i].WarehouseID == warehouseID {
			r.rows[i].Quantity = quantity
			row := r.rows[i]
			return &row, nil
		}
	}
	r.seq++
	row := domain.InventoryRow{
		InventoryID: fmt.Sprintf("inv-%d", r.seq),
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    quantity,
	}
	r.rows = append(r.rows, row)
	return &row, nil
}

func (r *fakeRepo) UpdateQuantity(_ context.Context, productID, warehouseID string, quantity int) (*domain.InventoryRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ProductID == productID && r.rows[i].WarehouseID == warehouseID {
			r.rows[i].Quantity = quantity
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRepo) SoftDelete(_ context.Context, productID, warehouseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ProductID == productID && r.rows[i].WarehouseID == warehouseID {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeRepo) TryReduce(_ context.Context, inventoryID string, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if amounts := r.steal[inventoryID]; len(amounts) > 0 {
		r.steal[inventoryID] = amounts[1:]
		for i := range r.rows {
			if r.rows[i].InventoryID == inventoryID {
				r.rows[i].Quantity -= amounts[0]
			}
		}
		return false, nil
	}
	for i := range r.rows {
		if r.rows[i].InventoryID == inventoryID {
			if r.rows[i].Quantity-r.rows[i].ReservedQuantity < qty {
				return false, nil
			}
			r.rows[i].Quantity -= qty
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) TryReserve(_ context.Context, inventoryID string, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].InventoryID == inventoryID {
			if r.rows[i].Quantity-r.rows[i].ReservedQuantity < qty {
				return false, nil
			}
			r.rows[i].ReservedQuantity += qty
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) TryRelease(_ context.Context, inventoryID string, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].InventoryID == inventoryID {
			if r.rows[i].ReservedQuantity < qty {
				return false, nil
			}
			r.rows[i].ReservedQuantity -= qty
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ClampReserved(_ context.Context, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clampCalls++
	repaired := 0
	for i := range r.rows {
		if r.rows[i].ProductID == productID && r.rows[i].ReservedQuantity > r.rows[i].Quantity {
			r.rows[i].ReservedQuantity = r.rows[i].Quantity
			repaired++
		}
	}
	return repaired, nil
}

// fakeInvalidator 记录缓存失效调用。
type fakeInvalidator struct {
	mu       sync.Mutex
	products []string
}

func (f *fakeInvalidator) InvalidateProduct(_ context.Context, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products = append(f.products, productID)
	return nil
}

func (f *fakeInvalidator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.products)
}

// fakePublisher 记录发布的变更事件。
type fakePublisher struct {
	mu     sync.Mutex
	events []*domain.StockChanged
}

func (f *fakePublisher) Publish(_ context.Context, event *domain.StockChanged) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) last() *domain.StockChanged {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

type testHarness struct {
	service   *FulfillmentService
	repo      *fakeRepo
	cache     *fakeInvalidator
	publisher *fakePublisher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	repo := newFakeRepo()
	cache := &fakeInvalidator{}
	publisher := &fakePublisher{}
	registry := reservation.NewRegistry(infrastructure.NewMemoryReservationStore())
	t.Cleanup(registry.Close)
	service := NewFulfillmentService(repo, registry, cache, publisher, otel.Tracer("test"))
	return &testHarness{service: service, repo: repo, cache: cache, publisher: publisher}
}

func TestGetAvailableStockUnknownProductIsZero(t *testing.T) {
	h := newHarness(t)
	available, err := h.service.GetAvailableStock(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetAvailableStock failed: %v", err)
	}
	if available != 0 {
		t.Errorf("Expected 0 for product without ledger rows, got %d", available)
	}
}

func TestSetStockRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.SetStock(ctx, "p1", "w1", 50); err != nil {
		t.Fatalf("SetStock failed: %v", err)
	}
	available, err := h.service.GetAvailableStock(ctx, "p1")
	if err != nil {
		t.Fatalf("GetAvailableStock failed: %v", err)
	}
	if available != 50 {
		t.Errorf("Expected available=50 after setStock, got %d", available)
	}
	if h.cache.count() == 0 {
		t.Error("Expected quote cache invalidation after setStock")
	}
	if event := h.publisher.last(); event == nil || event.Operation != "set" || event.Available != 50 {
		t.Errorf("Expected set event with available=50, got %+v", event)
	}
}

func TestSetStockValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.SetStock(ctx, "", "w1", 5); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected invalid argument for empty productId, got %v", err)
	}
	if _, err := h.service.SetStock(ctx, "p1", "w1", -1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected invalid argument for negative quantity, got %v", err)
	}
}

func TestUpdateStockMissingRowIsNotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.service.UpdateStock(context.Background(), "p1", "w1", 5); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected not found for update of missing row, got %v", err)
	}
}

func TestRemoveStockExcludesRowFromAggregate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 0)
	h.repo.seed("p1", "w2", 5, 0)

	if err := h.service.RemoveStock(ctx, "p1", "w1"); err != nil {
		t.Fatalf("RemoveStock failed: %v", err)
	}
	available, err := h.service.GetAvailableStock(ctx, "p1")
	if err != nil {
		t.Fatalf("GetAvailableStock failed: %v", err)
	}
	if available != 5 {
		t.Errorf("Expected available=5 after remove, got %d", available)
	}
}

func TestReduceSpansWarehousesDescending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 3, 0)
	h.repo.seed("p1", "w2", 7, 0)

	applied, err := h.service.ReduceProductStock(ctx, "p1", 8, "")
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if applied != 8 {
		t.Errorf("Expected applied=8, got %d", applied)
	}

	// 贪心按可用量降序：w2 先被扣空，w1 补足缺口
	w2, _ := h.repo.snapshot("p1", "w2")
	if w2.Quantity != 0 {
		t.Errorf("Expected w2 drained to 0, got %d", w2.Quantity)
	}
	w1, _ := h.repo.snapshot("p1", "w1")
	if w1.Quantity != 2 {
		t.Errorf("Expected w1 left with 2, got %d", w1.Quantity)
	}

	available, _ := h.service.GetAvailableStock(ctx, "p1")
	if available != 2 {
		t.Errorf("Expected available=2 after cross-warehouse reduce, got %d", available)
	}
}

func TestReduceOversellConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 4, 0)
	h.repo.seed("p1", "w2", 6, 0)

	applied, err := h.service.ReduceProductStock(ctx, "p1", 11, "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected conflict for oversell, got applied=%d err=%v", applied, err)
	}
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError, got %v", err)
	}
	if conflict.Requested != 11 || conflict.Applied != 10 {
		t.Errorf("Expected requested=11 applied=10 in conflict, got %+v", conflict)
	}
}

func TestReduceReplansWhenStepLosesRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 3, 0)
	w2 := h.repo.seed("p1", "w2", 7, 0)
	// w2 的第一次条件扣减被并发写入者抢走 2 个
	h.repo.steal[w2] = []int{2}

	applied, err := h.service.ReduceProductStock(ctx, "p1", 8, "")
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if applied != 8 {
		t.Errorf("Expected applied=8 after replan round, got %d", applied)
	}

	// 10 总量 = 8 本次扣减 + 2 被抢走，两仓均被扣空
	w1Row, _ := h.repo.snapshot("p1", "w1")
	w2Row, _ := h.repo.snapshot("p1", "w2")
	if w1Row.Quantity != 0 || w2Row.Quantity != 0 {
		t.Errorf("Expected both warehouses drained, got w1=%d w2=%d", w1Row.Quantity, w2Row.Quantity)
	}
}

func TestReduceConflictReportsAppliedAfterRaces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 4, 0)
	w2 := h.repo.seed("p1", "w2", 6, 0)
	// w2 两轮条件扣减都被抢先，每轮被抢走 2 个
	h.repo.steal[w2] = []int{2, 2}

	applied, err := h.service.ReduceProductStock(ctx, "p1", 8, "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected conflict after two losing rounds, got applied=%d err=%v", applied, err)
	}
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError, got %v", err)
	}
	// 每轮只有 w1 的步骤生效（2+2），冲突必须如实报告已落库的数量
	if conflict.Requested != 8 || conflict.Applied != 4 {
		t.Errorf("Expected requested=8 applied=4 in conflict, got %+v", conflict)
	}
	if applied != 4 {
		t.Errorf("Expected returned applied=4, got %d", applied)
	}
}

func TestReduceUnknownProductIsNotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.service.ReduceProductStock(context.Background(), "ghost", 1, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected not found for reduce of unknown product, got %v", err)
	}
}

func TestReducePreferredWarehouseFastPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 5, 0)
	h.repo.seed("p1", "w2", 10, 0)

	// w2 可用量更大，但提示仓库能独立满足时优先走提示仓库
	if _, err := h.service.ReduceProductStock(ctx, "p1", 5, "w1"); err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	w1, _ := h.repo.snapshot("p1", "w1")
	w2, _ := h.repo.snapshot("p1", "w2")
	if w1.Quantity != 0 || w2.Quantity != 10 {
		t.Errorf("Expected hint warehouse drained and w2 untouched, got w1=%d w2=%d", w1.Quantity, w2.Quantity)
	}
}

func TestReduceClampsDriftedReservedQuantity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 12)

	// 修复后 reserved=10，可用为 0，任何扣减都应冲突
	if _, err := h.service.ReduceProductStock(ctx, "p1", 1, ""); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected conflict after clamp leaves zero available, got %v", err)
	}
	row, _ := h.repo.snapshot("p1", "w1")
	if row.ReservedQuantity != 10 {
		t.Errorf("Expected reserved clamped to 10, got %d", row.ReservedQuantity)
	}
	if h.repo.clampCalls != 1 {
		t.Errorf("Expected exactly one repair pass, got %d", h.repo.clampCalls)
	}
}

func TestReduceSkipsRepairWhenRowsHealthy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 3)

	if _, err := h.service.ReduceProductStock(ctx, "p1", 5, ""); err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if h.repo.clampCalls != 0 {
		t.Errorf("Expected no repair pass for healthy rows, got %d calls", h.repo.clampCalls)
	}
}

func TestLedgerReserveReleaseSymmetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 0)

	if _, err := h.service.ReserveProductStock(ctx, "p1", 4, ""); err != nil {
		t.Fatalf("Ledger reserve failed: %v", err)
	}
	available, _ := h.service.GetAvailableStock(ctx, "p1")
	if available != 6 {
		t.Errorf("Expected available=6 after ledger reserve, got %d", available)
	}

	if _, err := h.service.ReleaseProductStock(ctx, "p1", 4, ""); err != nil {
		t.Fatalf("Ledger release failed: %v", err)
	}
	available, _ = h.service.GetAvailableStock(ctx, "p1")
	if available != 10 {
		t.Errorf("Expected available restored to 10, got %d", available)
	}
}

func TestSoftHoldDoesNotTouchLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 0)

	if _, err := h.service.ReserveHold(ctx, "p1", "o1", 5, 0); err != nil {
		t.Fatalf("ReserveHold failed: %v", err)
	}
	available, _ := h.service.GetAvailableStock(ctx, "p1")
	if available != 10 {
		t.Errorf("Expected soft hold to leave ledger availability at 10, got %d", available)
	}
}

func TestCommitByOrderReducesLedgerAndDropsHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 0)

	if _, err := h.service.ReserveHold(ctx, "p1", "o1", 5, 0); err != nil {
		t.Fatalf("ReserveHold failed: %v", err)
	}

	result, err := h.service.CommitStock(ctx, "p1", domain.ByOrder("o1"), "")
	if err != nil {
		t.Fatalf("CommitStock failed: %v", err)
	}
	if result.Reduced != 5 || result.TotalReserved != 0 {
		t.Errorf("Expected reduced=5 totalReserved=0, got %+v", result)
	}

	available, _ := h.service.GetAvailableStock(ctx, "p1")
	if available != 5 {
		t.Errorf("Expected available=5 after commit, got %d", available)
	}
	status, err := h.service.HoldStatus(ctx, "p1")
	if err != nil {
		t.Fatalf("HoldStatus failed: %v", err)
	}
	if status.Reserved != 0 {
		t.Errorf("Expected hold dropped after commit, got reserved=%d", status.Reserved)
	}
}

func TestCommitUnknownOrderIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 0)

	result, err := h.service.CommitStock(ctx, "p1", domain.ByOrder("ghost"), "")
	if err != nil {
		t.Fatalf("CommitStock failed: %v", err)
	}
	if result.Reduced != 0 {
		t.Errorf("Expected zero-effect commit for unknown order, got reduced=%d", result.Reduced)
	}
	available, _ := h.service.GetAvailableStock(ctx, "p1")
	if available != 10 {
		t.Errorf("Expected ledger untouched, got available=%d", available)
	}
}

func TestCommitKeepsHoldWhenLedgerConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 3, 0)

	if _, err := h.service.ReserveHold(ctx, "p1", "o1", 5, 0); err != nil {
		t.Fatalf("ReserveHold failed: %v", err)
	}

	if _, err := h.service.CommitStock(ctx, "p1", domain.ByOrder("o1"), ""); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected conflict committing beyond ledger capacity, got %v", err)
	}

	// 台账扣减失败时持有原样保留，交给 TTL 兜底
	status, err := h.service.HoldStatus(ctx, "p1")
	if err != nil {
		t.Fatalf("HoldStatus failed: %v", err)
	}
	if status.Reserved != 5 {
		t.Errorf("Expected hold kept after failed commit, got reserved=%d", status.Reserved)
	}
}

func TestCommitByQuantityDropsOldestHolds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 20, 0)

	if _, err := h.service.ReserveHold(ctx, "p1", "o1", 3, 0); err != nil {
		t.Fatalf("ReserveHold failed: %v", err)
	}
	if _, err := h.service.ReserveHold(ctx, "p1", "o2", 5, 0); err != nil {
		t.Fatalf("ReserveHold failed: %v", err)
	}

	result, err := h.service.CommitStock(ctx, "p1", domain.ByQuantity(4), "")
	if err != nil {
		t.Fatalf("CommitStock failed: %v", err)
	}
	if result.Reduced != 4 || result.TotalReserved != 4 {
		t.Errorf("Expected reduced=4 totalReserved=4, got %+v", result)
	}
	available, _ := h.service.GetAvailableStock(ctx, "p1")
	if available != 16 {
		t.Errorf("Expected available=16 after commit, got %d", available)
	}
}

func TestCommitByQuantityBeyondHoldsStillReducesLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 20, 0)

	if _, err := h.service.ReserveHold(ctx, "p1", "o1", 2, 0); err != nil {
		t.Fatalf("ReserveHold failed: %v", err)
	}

	// 提交量超过持有总量不是错误：台账扣 6，持有最多丢 2
	result, err := h.service.CommitStock(ctx, "p1", domain.ByQuantity(6), "")
	if err != nil {
		t.Fatalf("CommitStock failed: %v", err)
	}
	if result.Reduced != 6 || result.TotalReserved != 0 {
		t.Errorf("Expected reduced=6 totalReserved=0, got %+v", result)
	}
	available, _ := h.service.GetAvailableStock(ctx, "p1")
	if available != 14 {
		t.Errorf("Expected available=14, got %d", available)
	}
}

func TestGetAvailableStocksBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 2)
	h.repo.seed("p2", "w1", 5, 0)

	result, err := h.service.GetAvailableStocks(ctx, []string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatalf("GetAvailableStocks failed: %v", err)
	}
	if result["p1"] != 8 || result["p2"] != 5 || result["p3"] != 0 {
		t.Errorf("Unexpected batch result: %+v", result)
	}
}

func TestGetWarehouseStocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.seed("p1", "w1", 10, 2)
	h.repo.seed("p1", "w2", 5, 0)

	rows, err := h.service.GetWarehouseStocks(ctx, "p1")
	if err != nil {
		t.Fatalf("GetWarehouseStocks failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Expected 2 warehouse rows, got %d", len(rows))
	}
}
