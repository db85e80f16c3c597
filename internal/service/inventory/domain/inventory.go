// Package domain 定义库存领域模型：仓库台账行、聚合库存与核心业务规则。
package domain

import "time"

// InventoryRow 是台账的核心实体，每个 (商品, 仓库) 组合一行。
// Quantity 是该仓库记录的物理库存总量；ReservedQuantity 是
// 旧版硬预留路径使用的预留计数，不变量 ReservedQuantity <= Quantity
// 必须通过修复逻辑保证，不能假设它天然成立。
type InventoryRow struct {
	InventoryID      string
	ProductID        string
	WarehouseID      string
	Quantity         int
	ReservedQuantity int
	UpdatedAt        time.Time
}

// Available 返回该行的可用库存，向下钳制到 0。
// 数据漂移可能导致 ReservedQuantity > Quantity，此处不报错，只钳制。
func (r *InventoryRow) Available() int {
	available := r.Quantity - r.ReservedQuantity
	if available < 0 {
		return 0
	}
	return available
}

// NeedsRepair 判断该行是否违反了 ReservedQuantity <= Quantity 不变量。
func (r *InventoryRow) NeedsRepair() bool {
	return r.ReservedQuantity > r.Quantity
}

// AggregateStock 是按商品聚合后的库存视图，不落库，按需计算。
type AggregateStock struct {
	ProductID        string `json:"productId"`
	Quantity         int    `json:"quantity"`
	ReservedQuantity int    `json:"reservedQuantity"`
	Available        int    `json:"available"`
}

// AggregateRows 将某商品的全部未删除台账行聚合为一个库存视图。
// 没有任何行时返回全零视图，而不是错误。
func AggregateRows(productID string, rows []InventoryRow) AggregateStock {
	agg := AggregateStock{ProductID: productID}
	for i := range rows {
		agg.Quantity += rows[i].Quantity
		agg.ReservedQuantity += rows[i].ReservedQuantity
	}
	agg.Available = agg.Quantity - agg.ReservedQuantity
	if agg.Available < 0 {
		agg.Available = 0
	}
	return agg
}
