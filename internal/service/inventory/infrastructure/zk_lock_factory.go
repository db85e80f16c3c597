package infrastructure

import (
	"stockhub/internal/service/inventory/reservation"
	"stockhub/internal/zookeeper"
)

// ZkLockFactory 把 zookeeper.DistributedLock 适配成 Actor 注册表
// 需要的 LockFactory，资源 ID 即商品 ID。
type ZkLockFactory struct {
	conn *zookeeper.Conn
}

func NewZkLockFactory(conn *zookeeper.Conn) *ZkLockFactory {
	return &ZkLockFactory{conn: conn}
}

func (f *ZkLockFactory) NewLock(resourceID string) reservation.Lock {
	return zookeeper.NewDistributedLock(f.conn, resourceID)
}
