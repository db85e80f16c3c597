package domain

import "context"

// InventoryRepository 定义台账行的持久化接口。
// 它位于领域层，由基础设施层实现。Try* 系列是条件更新（CAS）：
// 写入时重新校验容量，返回 false 表示被并发写入者抢先、本步贡献为零。
type InventoryRepository interface {
	// FindByProduct 返回某商品全部未删除的台账行。
	FindByProduct(ctx context.Context, productID string) ([]InventoryRow, error)

	// FindRow 按 (商品, 仓库) 查找单行；不存在返回 ErrNotFound。
	FindRow(ctx context.Context, productID, warehouseID string) (*InventoryRow, error)

	// SetStock 创建或整行替换 (商品, 仓库) 的库存记录。
	SetStock(ctx context.Context, productID, warehouseID string, quantity int) (*InventoryRow, error)

	// UpdateQuantity 调整一条已存在的行；行不存在返回 ErrNotFound。
	UpdateQuantity(ctx context.Context, productID, warehouseID string, quantity int) (*InventoryRow, error)

	// SoftDelete 对行打墓碑标记，之后的聚合读取不再包含它。
	SoftDelete(ctx context.Context, productID, warehouseID string) error

	// TryReduce 条件扣减物理库存：仅当 quantity - reserved_quantity >= qty 时生效。
	TryReduce(ctx context.Context, inventoryID string, qty int) (bool, error)

	// TryReserve 条件增加预留计数：仅当 quantity - reserved_quantity >= qty 时生效。
	TryReserve(ctx context.Context, inventoryID string, qty int) (bool, error)

	// TryRelease 条件减少预留计数：仅当 reserved_quantity >= qty 时生效。
	TryRelease(ctx context.Context, inventoryID string, qty int) (bool, error)

	// ClampReserved 自愈修复：把 reserved_quantity > quantity 的行钳回 quantity。
	ClampReserved(ctx context.Context, productID string) (int, error)
}

// ReservationStore 是软预留集合的持久化接口。
// 预留的唯一写入者是该商品的 Reservation Actor，store 不做并发控制。
type ReservationStore interface {
	Load(ctx context.Context, productID string) ([]SoftReservation, error)
	Save(ctx context.Context, productID string, entries []SoftReservation) error
}

// StockEventPublisher 发布库存变更事件。
type StockEventPublisher interface {
	Publish(ctx context.Context, event *StockChanged) error
}

// QuoteCacheInvalidator 在库存变化后按商品前缀失效运费报价缓存。
type QuoteCacheInvalidator interface {
	InvalidateProduct(ctx context.Context, productID string) error
}
