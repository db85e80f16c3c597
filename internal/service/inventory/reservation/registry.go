package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"stockhub/internal/service/inventory/domain"
)

// LockFactory 为某个商品创建跨副本所有权锁。为 nil 时只做进程内串行化。
type LockFactory interface {
	NewLock(resourceID string) Lock
}

// Registry 按需惰性创建并持有各商品的 Actor。
// Actor 没有终止状态，创建后常驻，重启时从 store 恢复持有集合。
type Registry struct {
	store      domain.ReservationStore
	locks      LockFactory
	now        func() time.Time
	defaultTTL int

	mu      sync.Mutex
	entries map[string]*actorEntry
}

// actorEntry 保证每个商品的 Actor 至多创建一次。创建过程本身
// （取所有权锁、从 store 恢复）可能阻塞很久，必须在注册表锁之外
// 执行：等待只发生在同一商品的调用方之间，不同商品互不影响。
type actorEntry struct {
	once  sync.Once
	actor *Actor
	err   error
}

// Option 配置 Registry。
type Option func(*Registry)

// WithClock 注入时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLockFactory 启用跨副本的商品所有权锁。
func WithLockFactory(locks LockFactory) Option {
	return func(r *Registry) { r.locks = locks }
}

// WithDefaultTTL 覆盖 reserve 未显式指定 TTL 时的默认分钟数。
func WithDefaultTTL(minutes int) Option {
	return func(r *Registry) {
		if minutes > 0 {
			r.defaultTTL = minutes
		}
	}
}

// NewRegistry 创建一个 Actor 注册表。
func NewRegistry(store domain.ReservationStore, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		now:        time.Now,
		defaultTTL: domain.DefaultReservationTTLMinutes,
		entries:    make(map[string]*actorEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Actor 返回该商品的 Actor，首次访问时创建：
// 先取所有权锁（如配置了），再从 store 恢复持有集合。
func (r *Registry) Actor(ctx context.Context, productID string) (*Actor, error) {
	if productID == "" {
		return nil, errors.WithMessage(domain.ErrInvalidArgument, "productId must not be empty")
	}

	r.mu.Lock()
	e, ok := r.entries[productID]
	if !ok {
		e = &actorEntry{}
		r.entries[productID] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		var ownership Lock
		if r.locks != nil {
			ownership = r.locks.NewLock(productID)
			if err := ownership.Lock(); err != nil {
				e.err = errors.Wrapf(err, "failed to acquire ownership lock for product %s", productID)
				return
			}
		}

		entries, err := r.store.Load(ctx, productID)
		if err != nil {
			if ownership != nil {
				_ = ownership.Unlock()
			}
			e.err = errors.Wrapf(err, "failed to load reservations for product %s", productID)
			return
		}

		e.actor = newActor(productID, r.store, r.now, r.defaultTTL, entries, ownership)
	})

	if e.err != nil {
		// 创建失败的条目从表里摘掉，后续调用可以重试
		r.mu.Lock()
		if r.entries[productID] == e {
			delete(r.entries, productID)
		}
		r.mu.Unlock()
		return nil, e.err
	}
	return e.actor, nil
}

// Close 停止所有 Actor 并释放它们持有的所有权锁。
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.actor != nil {
			e.actor.close()
		}
		delete(r.entries, id)
	}
}
