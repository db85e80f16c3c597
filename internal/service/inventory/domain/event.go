package domain

import "time"

// StockChanged 在每次影响台账的调用之后发布。
// 下游（运费报价缓存、购物车校验）依赖它感知各仓库可用量的变化。
type StockChanged struct {
	EventID     string    `json:"eventId"`
	ProductID   string    `json:"productId"`
	WarehouseID string    `json:"warehouseId,omitempty"`
	Operation   string    `json:"operation"`
	Quantity    int       `json:"quantity"`
	Available   int       `json:"available"`
	OccurredAt  time.Time `json:"occurredAt"`
}
