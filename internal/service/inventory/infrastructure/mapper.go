package infrastructure

import "stockhub/internal/service/inventory/domain"

// toDomainRow 将数据库模型转换为领域模型。
func toDomainRow(model *InventoryModel) *domain.InventoryRow {
	if model == nil {
		return nil
	}
	return &domain.InventoryRow{
		InventoryID:      model.InventoryID,
		ProductID:        model.ProductID,
		WarehouseID:      model.WarehouseID,
		Quantity:         model.Quantity,
		ReservedQuantity: model.ReservedQuantity,
		UpdatedAt:        model.UpdatedAt,
	}
}

func toDomainRows(models []InventoryModel) []domain.InventoryRow {
	rows := make([]domain.InventoryRow, len(models))
	for i := range models {
		rows[i] = *toDomainRow(&models[i])
	}
	return rows
}
