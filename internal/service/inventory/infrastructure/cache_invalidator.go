package infrastructure

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"stockhub/internal/pkg/redis"
)

// QuoteCacheRedisInvalidator 按商品前缀失效运费报价缓存。
// 运费报价模块按 shipping_quote:{productId}:<zone> 记忆化各仓库
// 可用量推导出的报价，库存一变这些条目就全部作废。
type QuoteCacheRedisInvalidator struct {
	redisClient *redis.Client
}

func NewQuoteCacheRedisInvalidator(redisClient *redis.Client) *QuoteCacheRedisInvalidator {
	return &QuoteCacheRedisInvalidator{redisClient: redisClient}
}

// InvalidateProduct 扫描并删除该商品的全部报价缓存条目。
func (i *QuoteCacheRedisInvalidator) InvalidateProduct(ctx context.Context, productID string) error {
	rdb := i.redisClient.GetClient()
	pattern := fmt.Sprintf("shipping_quote:{%s}:*", productID)

	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return errors.Wrapf(err, "failed to scan quote cache for product %s", productID)
		}
		if len(keys) > 0 {
			// 使用 pipeline 提高效率
			pipe := rdb.Pipeline()
			for _, key := range keys {
				pipe.Del(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return errors.Wrapf(err, "failed to delete quote cache keys for product %s", productID)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
