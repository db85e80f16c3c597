package domain

import "sort"

// OpKind 标识一次台账分配要执行的操作类型。
// reduce/reserve 消耗可用库存，release 消耗的是预留计数，
// 三者共用同一个排序比较器，只是容量的取法不同。
type OpKind int

const (
	OpReduce OpKind = iota
	OpReserve
	OpRelease
)

func (op OpKind) String() string {
	switch op {
	case OpReduce:
		return "reduce"
	case OpReserve:
		return "reserve"
	case OpRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Capacity 返回某行在该操作下还能吸收多少数量。
func (op OpKind) Capacity(row *InventoryRow) int {
	if op == OpRelease {
		return row.ReservedQuantity
	}
	return row.Available()
}

// RankRows 返回按该操作容量降序排列的行快照副本。
// 容量相同时按 WarehouseID 升序，保证平局裁决稳定、可独立测试。
func RankRows(rows []InventoryRow, op OpKind) []InventoryRow {
	ranked := make([]InventoryRow, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := op.Capacity(&ranked[i]), op.Capacity(&ranked[j])
		if ci != cj {
			return ci > cj
		}
		return ranked[i].WarehouseID < ranked[j].WarehouseID
	})
	return ranked
}

// AllocationStep 是分配计划中的一步：从某一行取走 Take 个。
type AllocationStep struct {
	InventoryID string
	WarehouseID string
	Take        int
}

// PreferredStep 实现首选仓库快速路径：当给出 warehouseId 提示且
// 该行能独立吃下整个请求量时，返回单步计划；否则返回 false，
// 由调用方退回贪心多仓分配。
func PreferredStep(rows []InventoryRow, op OpKind, preferredWarehouseID string, requested int) (AllocationStep, bool) {
	if preferredWarehouseID == "" {
		return AllocationStep{}, false
	}
	for i := range rows {
		if rows[i].WarehouseID != preferredWarehouseID {
			continue
		}
		if op.Capacity(&rows[i]) >= requested {
			return AllocationStep{
				InventoryID: rows[i].InventoryID,
				WarehouseID: rows[i].WarehouseID,
				Take:        requested,
			}, true
		}
		return AllocationStep{}, false
	}
	return AllocationStep{}, false
}

// PlanGreedy 基于读时快照计算贪心多仓计划。计划只是一个提议：
// 每一步在写入时还要再经过条件更新的校验，快照可能已经过期。
func PlanGreedy(rows []InventoryRow, op OpKind, requested int) []AllocationStep {
	var steps []AllocationStep
	remaining := requested
	for _, row := range RankRows(rows, op) {
		if remaining <= 0 {
			break
		}
		capacity := op.Capacity(&row)
		if capacity <= 0 {
			continue
		}
		take := remaining
		if capacity < take {
			take = capacity
		}
		steps = append(steps, AllocationStep{
			InventoryID: row.InventoryID,
			WarehouseID: row.WarehouseID,
			Take:        take,
		})
		remaining -= take
	}
	return steps
}
