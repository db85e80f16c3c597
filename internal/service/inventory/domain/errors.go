package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument 表示入参非法，在任何状态变更之前同步拒绝。
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound 表示引用的商品/仓库在台账中不存在。
	ErrNotFound = errors.New("not found")

	// ErrConflict 是冲突类错误的哨兵，用于 errors.Is 判断。
	// 具体数字信息由 ConflictError 携带。
	ErrConflict = errors.New("conflict")
)

// ConflictError 携带冲突现场的完整数字，便于调用方渲染精确的提示。
// Applied 记录在出现缺口之前已经实际落库的数量——跨仓库的逐行写入
// 不会回滚，调用方需要据此做补偿（见 DESIGN.md 的已知限制说明）。
type ConflictError struct {
	ProductID string
	Requested int
	Available int
	Total     int
	Reserved  int
	Applied   int
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on product %s: %s (requested=%d available=%d total=%d reserved=%d applied=%d)",
		e.ProductID, e.Reason, e.Requested, e.Available, e.Total, e.Reserved, e.Applied)
}

// Is 使 errors.Is(err, ErrConflict) 对 ConflictError 成立。
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewInsufficientStockError 构造一个库存不足的冲突错误。
func NewInsufficientStockError(productID string, requested, applied int, agg AggregateStock) *ConflictError {
	return &ConflictError{
		ProductID: productID,
		Requested: requested,
		Available: agg.Available,
		Total:     agg.Quantity,
		Reserved:  agg.ReservedQuantity,
		Applied:   applied,
		Reason:    "insufficient stock",
	}
}
