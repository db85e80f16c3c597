// Package reservation 实现每商品单写者的软预留 Actor。
// 同一商品的所有预留操作经由一个邮箱 goroutine 串行执行，
// 到达顺序即观察顺序；不同商品完全独立，互不协调。
package reservation

import (
	"context"
	"time"

	"stockhub/internal/service/inventory/domain"
)

// Lock 是跨副本的商品所有权锁（可选），由 zookeeper 实现。
// 进程内的串行化由邮箱保证，锁只负责"同一商品至多一个进程持有 Actor"。
type Lock interface {
	Lock() error
	Unlock() error
}

// Actor 独占持有一个商品的软预留集合。
// entries 只被邮箱 goroutine 读写，因此内部无需加锁。
type Actor struct {
	productID  string
	store      domain.ReservationStore
	now        func() time.Time
	defaultTTL int

	mailbox chan func()
	quit    chan struct{}

	entries   []domain.SoftReservation
	updatedAt time.Time

	ownership Lock
}

func newActor(productID string, store domain.ReservationStore, now func() time.Time, defaultTTL int, entries []domain.SoftReservation, ownership Lock) *Actor {
	a := &Actor{
		productID:  productID,
		store:      store,
		now:        now,
		defaultTTL: defaultTTL,
		mailbox:    make(chan func(), 64),
		quit:       make(chan struct{}),
		entries:    entries,
		updatedAt:  now(),
		ownership:  ownership,
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-a.quit:
			return
		}
	}
}

// submit 把一个操作投递进邮箱并等待其完成。
// ctx 取消时停止等待；已入队的操作仍会执行完（done 带缓冲，不会泄漏）。
func (a *Actor) submit(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case a.mailbox <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.quit:
		return context.Canceled
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close 停止邮箱并释放所有权锁。仅由 Registry 调用。
func (a *Actor) close() {
	close(a.quit)
	if a.ownership != nil {
		_ = a.ownership.Unlock()
	}
}

// sweep 过滤掉已过期的持有并落库。除 cleanup 自身外，
// 每个操作执行前都先跑一遍，保证被放弃的持有最迟在 TTL 后归还容量。
// 只在邮箱 goroutine 内调用。
func (a *Actor) sweep(ctx context.Context) (int, error) {
	now := a.now()
	kept := a.entries[:0:0]
	for _, e := range a.entries {
		if !e.Expired(now) {
			kept = append(kept, e)
		}
	}
	dropped := len(a.entries) - len(kept)
	if dropped == 0 {
		return 0, nil
	}
	if err := a.store.Save(ctx, a.productID, kept); err != nil {
		return 0, err
	}
	a.entries = kept
	a.updatedAt = now
	return dropped, nil
}

func (a *Actor) totalReserved() int {
	total := 0
	for _, e := range a.entries {
		total += e.Quantity
	}
	return total
}

// Reserve 创建或覆盖一条软预留。同一 orderId 的再次 reserve 是
// last-writer-wins：替换数量与过期时间，而不是累加。
func (a *Actor) Reserve(ctx context.Context, orderID string, quantity, ttlMinutes int) (domain.ReserveResult, error) {
	var result domain.ReserveResult
	if quantity <= 0 {
		return result, domain.ErrInvalidArgument
	}
	if orderID == "" {
		return result, domain.ErrInvalidArgument
	}
	if ttlMinutes == 0 {
		ttlMinutes = a.defaultTTL
	}
	ttl, err := domain.ValidateTTLMinutes(ttlMinutes)
	if err != nil {
		return result, err
	}

	err = a.submit(ctx, func() error {
		if _, err := a.sweep(ctx); err != nil {
			return err
		}
		previous := a.totalReserved()
		expiresAt := a.now().Add(time.Duration(ttl) * time.Minute)

		next := make([]domain.SoftReservation, len(a.entries))
		copy(next, a.entries)
		replaced := false
		for i := range next {
			if next[i].OrderID == orderID {
				next[i].Quantity = quantity
				next[i].ExpiresAt = expiresAt
				replaced = true
				break
			}
		}
		if !replaced {
			next = append(next, domain.SoftReservation{OrderID: orderID, Quantity: quantity, ExpiresAt: expiresAt})
		}
		if err := a.store.Save(ctx, a.productID, next); err != nil {
			return err
		}
		a.entries = next
		a.updatedAt = a.now()

		result = domain.ReserveResult{
			Reserved:         quantity,
			TotalReserved:    a.totalReserved(),
			PreviousReserved: previous,
			ExpiresAt:        expiresAt,
		}
		return nil
	})
	return result, err
}

// Release 按 SelectionKey 释放持有。按订单号释放未知订单是
// 幂等成功（released=0）；按数量释放超过活跃总量则冲突，状态不变。
func (a *Actor) Release(ctx context.Context, sel domain.SelectionKey) (domain.ReleaseResult, error) {
	return a.remove(ctx, sel, "release exceeds total active reservations")
}

// Reduce 与 Release 的选择语义相同，但表达的是"持有已转为台账的
// 永久扣减，丢弃该持有"——台账扣减由调用方在此之前单独完成。
func (a *Actor) Reduce(ctx context.Context, sel domain.SelectionKey) (domain.ReleaseResult, error) {
	return a.remove(ctx, sel, "reduce exceeds total active reservations")
}

func (a *Actor) remove(ctx context.Context, sel domain.SelectionKey, conflictReason string) (domain.ReleaseResult, error) {
	var result domain.ReleaseResult
	if err := sel.Validate(); err != nil {
		return result, err
	}

	err := a.submit(ctx, func() error {
		if _, err := a.sweep(ctx); err != nil {
			return err
		}
		previous := a.totalReserved()

		var next []domain.SoftReservation
		released := 0

		if orderID, ok := sel.IsByOrder(); ok {
			next = make([]domain.SoftReservation, 0, len(a.entries))
			for _, e := range a.entries {
				if e.OrderID == orderID {
					released += e.Quantity
					continue
				}
				next = append(next, e)
			}
		} else {
			quantity, _ := sel.IsByQuantity()
			if quantity > previous {
				return &domain.ConflictError{
					ProductID: a.productID,
					Requested: quantity,
					Reserved:  previous,
					Reason:    conflictReason,
				}
			}
			// 兼容路径：从最老的持有开始消耗，最后一条吃不满就拆分，
			// 拆分后保留原 expiresAt。
			remaining := quantity
			next = make([]domain.SoftReservation, 0, len(a.entries))
			for _, e := range a.entries {
				if remaining <= 0 {
					next = append(next, e)
					continue
				}
				if e.Quantity <= remaining {
					remaining -= e.Quantity
					released += e.Quantity
					continue
				}
				released += remaining
				e.Quantity -= remaining
				remaining = 0
				next = append(next, e)
			}
		}

		if released > 0 {
			if err := a.store.Save(ctx, a.productID, next); err != nil {
				return err
			}
			a.entries = next
			a.updatedAt = a.now()
		}

		result = domain.ReleaseResult{
			Released:         released,
			TotalReserved:    a.totalReserved(),
			PreviousReserved: previous,
		}
		return nil
	})
	return result, err
}

// Status 返回清扫后的活跃持有快照。
func (a *Actor) Status(ctx context.Context) (domain.StatusResult, error) {
	var result domain.StatusResult
	err := a.submit(ctx, func() error {
		if _, err := a.sweep(ctx); err != nil {
			return err
		}
		snapshot := make([]domain.SoftReservation, len(a.entries))
		copy(snapshot, a.entries)
		result = domain.StatusResult{
			Reserved:     a.totalReserved(),
			UpdatedAt:    a.updatedAt,
			Reservations: snapshot,
		}
		return nil
	})
	return result, err
}

// Cleanup 显式触发过期清扫。
func (a *Actor) Cleanup(ctx context.Context) (domain.CleanupResult, error) {
	var result domain.CleanupResult
	err := a.submit(ctx, func() error {
		cleaned, err := a.sweep(ctx)
		if err != nil {
			return err
		}
		result = domain.CleanupResult{Cleaned: cleaned, TotalReserved: a.totalReserved()}
		return nil
	})
	return result, err
}

// All 是诊断视图：不清扫，连同已过期记录一起返回并加以标注。
func (a *Actor) All(ctx context.Context) (domain.AllResult, error) {
	var result domain.AllResult
	err := a.submit(ctx, func() error {
		now := a.now()
		annotated := make([]domain.AnnotatedReservation, 0, len(a.entries))
		for _, e := range a.entries {
			expired := e.Expired(now)
			annotated = append(annotated, domain.AnnotatedReservation{
				SoftReservation: e,
				IsExpired:       expired,
				ExpiresIn:       int64(e.ExpiresAt.Sub(now) / time.Second),
			})
			if expired {
				result.ExpiredReserved += e.Quantity
				result.ExpiredCount++
			} else {
				result.TotalReserved += e.Quantity
				result.ActiveCount++
			}
		}
		result.Reservations = annotated
		return nil
	})
	return result, err
}
