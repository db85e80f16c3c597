package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"stockhub/internal/pkg/redis"
	"stockhub/internal/service/inventory/domain"
)

// RedisReservationStore 是 domain.ReservationStore 的 Redis 实现。
// 每个商品一个 key，值为 JSON 编码的有序持有集合。并发控制不在这里：
// 唯一的写入者是该商品的 Actor。
type RedisReservationStore struct {
	redisClient *redis.Client
}

// NewRedisReservationStore 创建一个新的预留存储实例。
func NewRedisReservationStore(redisClient *redis.Client) *RedisReservationStore {
	return &RedisReservationStore{redisClient: redisClient}
}

func reservationKey(productID string) string {
	// hash tag 保证集群模式下同一商品的 key 落在同一 slot
	return fmt.Sprintf("reservations:{%s}", productID)
}

// Load 读取某商品的持有集合；key 不存在返回空集合。
func (s *RedisReservationStore) Load(ctx context.Context, productID string) ([]domain.SoftReservation, error) {
	data, err := s.redisClient.GetClient().Get(ctx, reservationKey(productID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to load reservations for product %s", productID)
	}
	var entries []domain.SoftReservation
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "corrupt reservation payload for product %s", productID)
	}
	return entries, nil
}

// Save 整体覆盖某商品的持有集合；空集合直接删 key。
func (s *RedisReservationStore) Save(ctx context.Context, productID string, entries []domain.SoftReservation) error {
	key := reservationKey(productID)
	if len(entries) == 0 {
		if err := s.redisClient.GetClient().Del(ctx, key).Err(); err != nil {
			return errors.Wrapf(err, "failed to clear reservations for product %s", productID)
		}
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "failed to marshal reservations")
	}
	if err := s.redisClient.GetClient().Set(ctx, key, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to save reservations for product %s", productID)
	}
	return nil
}
