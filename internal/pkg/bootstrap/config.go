// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"log"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config 是服务的全量配置。yaml 文件为主，环境变量兜底。
type Config struct {
	App struct {
		// 软预留在 reserve 未显式指定 TTL 时的默认分钟数
		DefaultReservationTTLMinutes int `yaml:"defaultReservationTTLMinutes"`
	} `yaml:"app"`
	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addrs []string `yaml:"addrs"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers    []string `yaml:"brokers"`
			StockTopic string   `yaml:"stockTopic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Enabled bool     `yaml:"enabled"`
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置。CONFIG_PATH 指向 yaml 文件；缺省时全部走环境变量与默认值。
func Init() {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("FATAL: cannot read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatalf("FATAL: cannot parse config file %s: %v", path, err)
		}
	}

	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前配置。必须先调用 Init。
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		log.Fatal("FATAL: bootstrap.Init must be called before GetCurrentConfig")
	}
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.DefaultReservationTTLMinutes = 15
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockhub?charset=utf8mb4&parseTime=True&loc=Local")
	cfg.Infra.Redis.Addrs = strings.Split(getEnv("REDIS_ADDRS", "localhost:6379"), ",")
	cfg.Infra.Kafka.Brokers = strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	cfg.Infra.Kafka.StockTopic = getEnv("KAFKA_STOCK_TOPIC", "stock-changed-topic")
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	cfg.Infra.Zookeeper.Enabled = getEnv("ZK_ENABLED", "false") == "true"
	cfg.Infra.Zookeeper.Servers = strings.Split(getEnv("ZK_SERVERS", "localhost:2181"), ",")
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", "localhost:8848")
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", "")
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", "DEFAULT_GROUP")
	return cfg
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
