package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultReservationTTLMinutes 是软预留的默认有效期。
	DefaultReservationTTLMinutes = 15
	// MinReservationTTLMinutes / MaxReservationTTLMinutes 限定了调用方可指定的范围。
	MinReservationTTLMinutes = 1
	MaxReservationTTLMinutes = 60
)

// SoftReservation 是一条带 TTL 的咨询性持有，不直接扣减仓库库存。
// 同一商品的持有集合内，每个 OrderID 至多一条活跃记录。
type SoftReservation struct {
	OrderID   string    `json:"orderId"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired 判断该持有在 now 时刻是否已经失效。
func (r SoftReservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// ValidateTTLMinutes 将调用方传入的 TTL 规范化：0 取默认值，越界报错。
func ValidateTTLMinutes(ttlMinutes int) (int, error) {
	if ttlMinutes == 0 {
		return DefaultReservationTTLMinutes, nil
	}
	if ttlMinutes < MinReservationTTLMinutes || ttlMinutes > MaxReservationTTLMinutes {
		return 0, fmt.Errorf("%w: ttlMinutes must be within [%d, %d]",
			ErrInvalidArgument, MinReservationTTLMinutes, MaxReservationTTLMinutes)
	}
	return ttlMinutes, nil
}

type selectionKind int

const (
	selectionNone selectionKind = iota
	selectionByOrder
	selectionByQuantity
)

// SelectionKey 是 release/reduce 的目标选择器：按订单号整体移除，
// 或按数量从最老的持有开始消耗（兼容旧调用方的回退路径）。
// 原始请求体是鸭子类型的 orderId/quantity 二选一，这里收敛为
// 一个在分发前就完成校验的带标签联合。
type SelectionKey struct {
	kind     selectionKind
	orderID  string
	quantity int
}

// ByOrder 构造一个按订单号选择的 SelectionKey。
func ByOrder(orderID string) SelectionKey {
	return SelectionKey{kind: selectionByOrder, orderID: orderID}
}

// ByQuantity 构造一个按数量选择的 SelectionKey。
func ByQuantity(quantity int) SelectionKey {
	return SelectionKey{kind: selectionByQuantity, quantity: quantity}
}

// Validate 在分发前穷尽校验联合的两个分支。
func (k SelectionKey) Validate() error {
	switch k.kind {
	case selectionByOrder:
		if k.orderID == "" {
			return fmt.Errorf("%w: orderId must not be empty", ErrInvalidArgument)
		}
		return nil
	case selectionByQuantity:
		if k.quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
		}
		return nil
	default:
		return fmt.Errorf("%w: either orderId or quantity is required", ErrInvalidArgument)
	}
}

// IsByOrder 返回是否为按订单号选择，以及订单号本身。
func (k SelectionKey) IsByOrder() (string, bool) {
	return k.orderID, k.kind == selectionByOrder
}

// IsByQuantity 返回是否为按数量选择，以及数量本身。
func (k SelectionKey) IsByQuantity() (int, bool) {
	return k.quantity, k.kind == selectionByQuantity
}

// ReserveResult 是 reserve 操作的返回载体。
type ReserveResult struct {
	Reserved         int       `json:"reserved"`
	TotalReserved    int       `json:"totalReserved"`
	PreviousReserved int       `json:"previousReserved"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// ReleaseResult 同时服务于 release 与 reduce（字段语义一致，动词不同）。
type ReleaseResult struct {
	Released         int `json:"released"`
	TotalReserved    int `json:"totalReserved"`
	PreviousReserved int `json:"previousReserved"`
}

// StatusResult 是 status 操作的返回载体。
type StatusResult struct {
	Reserved     int               `json:"reserved"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Reservations []SoftReservation `json:"reservations"`
}

// CleanupResult 是显式过期清扫的返回载体。
type CleanupResult struct {
	Cleaned       int `json:"cleaned"`
	TotalReserved int `json:"totalReserved"`
}

// AnnotatedReservation 是诊断视图里带过期标注的持有记录。
type AnnotatedReservation struct {
	SoftReservation
	IsExpired bool  `json:"isExpired"`
	ExpiresIn int64 `json:"expiresIn"` // 剩余秒数，已过期为负
}

// AllResult 是诊断视图的返回载体，包含已过期但尚未清扫的记录。
type AllResult struct {
	Reservations    []AnnotatedReservation `json:"reservations"`
	TotalReserved   int                    `json:"totalReserved"`
	ExpiredReserved int                    `json:"expiredReserved"`
	ActiveCount     int                    `json:"activeCount"`
	ExpiredCount    int                    `json:"expiredCount"`
}
