// internal/pkg/redis/client.go
package redis

import (
	"github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 客户端。
type Client struct {
	rdb redis.UniversalClient
}

// NewClient 创建一个新的 Redis 客户端。
// addrs 只有一个地址时为单机模式，多个地址时为集群模式。
func NewClient(addrs []string) *Client {
	return &Client{
		rdb: redis.NewUniversalClient(&redis.UniversalOptions{Addrs: addrs}),
	}
}

// GetClient 返回底层客户端，供需要 pipeline 等高级能力的调用方使用。
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	return c.rdb.Close()
}
