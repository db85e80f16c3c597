// cmd/inventory-service/main.go
package main

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"stockhub/internal/pkg/bootstrap"
	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/mq"
	redispkg "stockhub/internal/pkg/redis"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/infrastructure"
	"stockhub/internal/service/inventory/interfaces"
	"stockhub/internal/service/inventory/reservation"
	"stockhub/internal/zookeeper"
)

const serviceName = "inventory-service"

func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	// 台账存储
	db, err := infrastructure.NewDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	repo := infrastructure.NewGormInventoryRepository(db)

	// Redis：软预留持久化 + 运费报价缓存失效
	redisClient := redispkg.NewClient(cfg.Infra.Redis.Addrs)
	defer redisClient.Close()
	store := infrastructure.NewRedisReservationStore(redisClient)
	cache := infrastructure.NewQuoteCacheRedisInvalidator(redisClient)

	// Kafka：库存变更事件
	writer := mq.NewWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.StockTopic)
	defer writer.Close()
	events := infrastructure.NewStockEventProducerAdapter(writer)

	// 预留 Actor 注册表；多副本部署时用 ZooKeeper 锁保证商品所有权
	opts := []reservation.Option{reservation.WithDefaultTTL(cfg.App.DefaultReservationTTLMinutes)}
	var zkConn *zookeeper.Conn
	if cfg.Infra.Zookeeper.Enabled {
		zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
		if err != nil {
			log.Fatalf("failed to connect zookeeper: %v", err)
		}
		opts = append(opts, reservation.WithLockFactory(infrastructure.NewZkLockFactory(zkConn)))
	}
	registry := reservation.NewRegistry(store, opts...)

	service := application.NewFulfillmentService(repo, registry, cache, events, otel.Tracer(serviceName))
	handler := interfaces.NewInventoryHandler(service)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8082,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			registry.Close()
			if zkConn != nil {
				zkConn.Close()
			}
		},
	})
}
