package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/mq"
	"stockhub/internal/service/inventory/domain"
)

// StockEventProducerAdapter 把库存变更事件发布到 Kafka。
// 以 productId 为 key，保证同一商品的事件在分区内有序。
type StockEventProducerAdapter struct {
	writer *kafka.Writer
}

func NewStockEventProducerAdapter(writer *kafka.Writer) *StockEventProducerAdapter {
	return &StockEventProducerAdapter{writer: writer}
}

func (p *StockEventProducerAdapter) Publish(ctx context.Context, event *domain.StockChanged) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to marshal stock changed event")
		return err
	}

	if err := mq.ProduceMessage(ctx, p.writer, []byte(event.ProductID), eventBytes); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("product_id", event.ProductID).Msg("Failed to produce stock event to Kafka")
		return err
	}
	return nil
}
