package infrastructure

import (
	"time"

	"gorm.io/gorm"
)

// InventoryModel 对应数据库中的 inventories 表。
// 墓碑化（软删除）通过 gorm.DeletedAt 实现；唯一索引把 deleted_at
// 纳入进来，保证同一 (商品, 仓库) 至多一条未删除行，且删除后可以重建。
type InventoryModel struct {
	ID               uint   `gorm:"primaryKey"`
	InventoryID      string `gorm:"size:36;uniqueIndex"`
	ProductID        string `gorm:"size:64;uniqueIndex:idx_product_warehouse"`
	WarehouseID      string `gorm:"size:64;uniqueIndex:idx_product_warehouse"`
	Quantity         int
	ReservedQuantity int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"uniqueIndex:idx_product_warehouse"`
}

// TableName 指定 GORM 应该使用的表名。
func (InventoryModel) TableName() string {
	return "inventories"
}
