// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"mall/internal/pkg/logger"
	"mall/internal/pkg/nacos"
)

// Config 是整个进程的配置树，从本地 yaml 加载，
// 可选地被 Nacos 配置中心的同名配置覆盖。
type Config struct {
	App struct {
		// 订单创建后多久未支付被视为超时（分钟）
		OrderTimeoutMinutes int `yaml:"orderTimeoutMinutes"`
		// 支付流水多久未完成被标记失败（分钟）
		PaymentTimeoutMinutes int `yaml:"paymentTimeoutMinutes"`
		// 超时对账扫描间隔（秒）
		ReconcileIntervalSeconds int `yaml:"reconcileIntervalSeconds"`
		// 缓存预扣记录的存活时间（秒），到期自动失效，属于兜底机制
		ReservationTTLSeconds int `yaml:"reservationTTLSeconds"`
		// 商品锁的持有上限（秒），防止崩溃进程永久持锁
		LockTTLSeconds int `yaml:"lockTTLSeconds"`
		// 订单折扣规则（CEL 表达式），为空则不打折
		DiscountRule string `yaml:"discountRule"`

		FeatureFlags struct {
			EnableVipDiscount bool `yaml:"enableVipDiscount"`
		} `yaml:"featureFlags"`
	} `yaml:"app"`

	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers          []string `yaml:"brokers"`
			OrderEventsTopic string   `yaml:"orderEventsTopic"`
			DLTTopic         string   `yaml:"dltTopic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Lock struct {
			// 分布式锁实现: "redis" 或 "zookeeper"
			Provider string `yaml:"provider"`
		} `yaml:"lock"`
	} `yaml:"infra"`
}

var (
	configMu      sync.RWMutex
	currentConfig Config
)

// GetCurrentConfig 返回当前配置的副本。
func GetCurrentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return currentConfig
}

// Init 加载配置：先读本地文件，再尝试用 Nacos 配置中心覆盖。
func Init() {
	cfg := defaultConfig()

	path := getEnv("CONFIG_PATH", "config/config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logger.Logger.Fatal().Err(err).Str("path", path).Msg("failed to parse config file")
		}
	} else {
		logger.Logger.Warn().Str("path", path).Msg("config file not found, using defaults")
	}

	// 配置中心覆盖（可选）
	if addrs := os.Getenv("NACOS_SERVER_ADDRS"); addrs != "" {
		dataId := getEnv("NACOS_CONFIG_DATA_ID", "mall-config")
		client, err := nacos.NewClient(addrs, os.Getenv("NACOS_NAMESPACE"), os.Getenv("NACOS_GROUP"))
		if err != nil {
			logger.Logger.Error().Err(err).Msg("failed to connect nacos config center, keeping local config")
		} else {
			content, err := client.GetConfig(dataId)
			if err != nil || content == "" {
				logger.Logger.Warn().Err(err).Str("dataId", dataId).Msg("no config from nacos, keeping local config")
			} else if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
				logger.Logger.Error().Err(err).Msg("failed to parse nacos config, keeping local config")
			}
		}
	}

	configMu.Lock()
	currentConfig = cfg
	configMu.Unlock()
}

func defaultConfig() Config {
	var cfg Config
	cfg.App.OrderTimeoutMinutes = 30
	cfg.App.PaymentTimeoutMinutes = 120
	cfg.App.ReconcileIntervalSeconds = 180
	cfg.App.ReservationTTLSeconds = 600
	cfg.App.LockTTLSeconds = 30
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/mall?charset=utf8mb4&parseTime=True&loc=Local")
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Infra.Kafka.Brokers = []string{getEnv("KAFKA_BROKERS", "localhost:9092")}
	cfg.Infra.Kafka.OrderEventsTopic = "order-events"
	cfg.Infra.Kafka.DLTTopic = "order-events-dlt"
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	cfg.Infra.Zookeeper.Servers = []string{getEnv("ZK_SERVERS", "localhost:2181")}
	cfg.Infra.Lock.Provider = "redis"
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
