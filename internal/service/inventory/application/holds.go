package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/domain"
)

// 软预留（TTL 持有）相关的门面方法。持有是咨询性的，不触碰台账；
// 两套机制在 CommitStock 处汇合（见 DESIGN.md 的取舍说明）。

// ReserveHold 为订单创建或覆盖一条软预留。
func (s *FulfillmentService) ReserveHold(ctx context.Context, productID, orderID string, quantity, ttlMinutes int) (domain.ReserveResult, error) {
	actor, err := s.holds.Actor(ctx, productID)
	if err != nil {
		return domain.ReserveResult{}, err
	}
	return actor.Reserve(ctx, orderID, quantity, ttlMinutes)
}

// ReleaseHold 释放软预留，按订单号或按数量。
func (s *FulfillmentService) ReleaseHold(ctx context.Context, productID string, sel domain.SelectionKey) (domain.ReleaseResult, error) {
	actor, err := s.holds.Actor(ctx, productID)
	if err != nil {
		return domain.ReleaseResult{}, err
	}
	return actor.Release(ctx, sel)
}

// HoldStatus 返回清扫后的活跃持有快照。
func (s *FulfillmentService) HoldStatus(ctx context.Context, productID string) (domain.StatusResult, error) {
	actor, err := s.holds.Actor(ctx, productID)
	if err != nil {
		return domain.StatusResult{}, err
	}
	return actor.Status(ctx)
}

// CleanupHolds 显式触发过期清扫。
func (s *FulfillmentService) CleanupHolds(ctx context.Context, productID string) (domain.CleanupResult, error) {
	actor, err := s.holds.Actor(ctx, productID)
	if err != nil {
		return domain.CleanupResult{}, err
	}
	return actor.Cleanup(ctx)
}

// AllHolds 返回诊断视图，包含已过期但尚未清扫的持有。
func (s *FulfillmentService) AllHolds(ctx context.Context, productID string) (domain.AllResult, error) {
	actor, err := s.holds.Actor(ctx, productID)
	if err != nil {
		return domain.AllResult{}, err
	}
	return actor.All(ctx)
}

// CommitResult 是提交操作的返回载体。
type CommitResult struct {
	Reduced       int `json:"reduced"`
	TotalReserved int `json:"totalReserved"`
}

// CommitStock 把持有转为台账的永久扣减。
// 按订单号提交：读出持有量 → 台账扣减 → 丢弃持有。台账先行，
// 扣减失败时持有原样保留，由 TTL 兜底，不会泄漏库存。
// 未知订单号幂等成功（reduced=0）。
// 按数量提交（旧调用方）：台账扣减后，把持有从最老开始最多丢弃
// min(quantity, totalReserved)——持有集合比提交量小不算错误。
func (s *FulfillmentService) CommitStock(ctx context.Context, productID string, sel domain.SelectionKey, warehouseHint string) (CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.CommitStock")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID))

	if err := sel.Validate(); err != nil {
		return CommitResult{}, err
	}

	actor, err := s.holds.Actor(ctx, productID)
	if err != nil {
		return CommitResult{}, err
	}

	if orderID, ok := sel.IsByOrder(); ok {
		status, err := actor.Status(ctx)
		if err != nil {
			return CommitResult{}, err
		}
		quantity := 0
		for _, e := range status.Reservations {
			if e.OrderID == orderID {
				quantity = e.Quantity
				break
			}
		}
		if quantity == 0 {
			// 未知或已过期的订单：幂等成功，零效果
			return CommitResult{Reduced: 0, TotalReserved: status.Reserved}, nil
		}

		if _, err := s.ReduceProductStock(ctx, productID, quantity, warehouseHint); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger reduce failed, hold kept")
			return CommitResult{}, err
		}

		dropped, err := actor.Reduce(ctx, domain.ByOrder(orderID))
		if err != nil {
			// 台账已扣减；持有丢弃失败只能留给 TTL 清扫，记录现场
			logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).Str("order_id", orderID).
				Msg("Ledger reduced but hold drop failed; hold will expire by TTL")
			return CommitResult{Reduced: quantity}, nil
		}
		return CommitResult{Reduced: quantity, TotalReserved: dropped.TotalReserved}, nil
	}

	quantity, _ := sel.IsByQuantity()
	if _, err := s.ReduceProductStock(ctx, productID, quantity, warehouseHint); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger reduce failed")
		return CommitResult{}, err
	}

	status, err := actor.Status(ctx)
	if err != nil {
		return CommitResult{Reduced: quantity}, nil
	}
	drop := quantity
	if status.Reserved < drop {
		drop = status.Reserved
	}
	totalReserved := status.Reserved
	if drop > 0 {
		result, err := actor.Reduce(ctx, domain.ByQuantity(drop))
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).
				Msg("Ledger reduced but hold drop failed; holds will expire by TTL")
		} else {
			totalReserved = result.TotalReserved
		}
	}
	return CommitResult{Reduced: quantity, TotalReserved: totalReserved}, nil
}
