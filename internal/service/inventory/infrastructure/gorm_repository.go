package infrastructure

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"stockhub/internal/service/inventory/domain"
)

// GormInventoryRepository 是 domain.InventoryRepository 的 GORM 实现。
// Try* 系列把容量校验放进 UPDATE 的 WHERE 条件里，通过 RowsAffected
// 判断条件更新是否生效，这是台账路径的乐观并发原语。
type GormInventoryRepository struct {
	db *gorm.DB
}

// NewGormInventoryRepository 创建一个新的 GORM 仓储实例。
func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

// FindByProduct 返回某商品全部未删除的台账行。
// gorm 软删除默认排除已打墓碑的行。
func (r *GormInventoryRepository) FindByProduct(ctx context.Context, productID string) ([]domain.InventoryRow, error) {
	var models []InventoryModel
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query inventory rows for product %s", productID)
	}
	return toDomainRows(models), nil
}

// FindRow 按 (商品, 仓库) 查找单行。
func (r *GormInventoryRepository) FindRow(ctx context.Context, productID, warehouseID string) (*domain.InventoryRow, error) {
	var model InventoryModel
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to query inventory row")
	}
	return toDomainRow(&model), nil
}

// SetStock 创建或整行替换库存记录。替换只覆盖 quantity，
// 预留计数由各自的操作路径维护。
func (r *GormInventoryRepository) SetStock(ctx context.Context, productID, warehouseID string, quantity int) (*domain.InventoryRow, error) {
	res := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		Update("quantity", quantity)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to update inventory row")
	}
	if res.RowsAffected == 0 {
		model := InventoryModel{
			InventoryID: uuid.NewString(),
			ProductID:   productID,
			WarehouseID: warehouseID,
			Quantity:    quantity,
		}
		if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
			return nil, errors.Wrap(err, "failed to create inventory row")
		}
		return toDomainRow(&model), nil
	}
	return r.FindRow(ctx, productID, warehouseID)
}

// UpdateQuantity 调整一条已存在的行。
func (r *GormInventoryRepository) UpdateQuantity(ctx context.Context, productID, warehouseID string, quantity int) (*domain.InventoryRow, error) {
	res := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		Update("quantity", quantity)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to update inventory row")
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return r.FindRow(ctx, productID, warehouseID)
}

// SoftDelete 对行打墓碑标记。
func (r *GormInventoryRepository) SoftDelete(ctx context.Context, productID, warehouseID string) error {
	res := r.db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		Delete(&InventoryModel{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to soft delete inventory row")
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TryReduce 条件扣减物理库存。WHERE 里重新校验可用容量，
// 并发写入者抢先时 RowsAffected 为 0，本步贡献为零。
func (r *GormInventoryRepository) TryReduce(ctx context.Context, inventoryID string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("inventory_id = ? AND quantity - reserved_quantity >= ?", inventoryID, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to reduce stock")
	}
	return res.RowsAffected > 0, nil
}

// TryReserve 条件增加预留计数。
func (r *GormInventoryRepository) TryReserve(ctx context.Context, inventoryID string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("inventory_id = ? AND quantity - reserved_quantity >= ?", inventoryID, qty).
		Update("reserved_quantity", gorm.Expr("reserved_quantity + ?", qty))
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to reserve stock")
	}
	return res.RowsAffected > 0, nil
}

// TryRelease 条件减少预留计数。
func (r *GormInventoryRepository) TryRelease(ctx context.Context, inventoryID string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("inventory_id = ? AND reserved_quantity >= ?", inventoryID, qty).
		Update("reserved_quantity", gorm.Expr("reserved_quantity - ?", qty))
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to release stock")
	}
	return res.RowsAffected > 0, nil
}

// ClampReserved 自愈修复：把 reserved_quantity > quantity 的行钳回 quantity。
func (r *GormInventoryRepository) ClampReserved(ctx context.Context, productID string) (int, error) {
	res := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND reserved_quantity > quantity", productID).
		Update("reserved_quantity", gorm.Expr("quantity"))
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to clamp reserved quantity")
	}
	return int(res.RowsAffected), nil
}
