// cmd/order-service/main.go
package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/database"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/redis"
	invapp "mall/internal/service/inventory/application"
	invport "mall/internal/service/inventory/domain/port"
	invinfra "mall/internal/service/inventory/infrastructure"
	"mall/internal/service/order/application"
	"mall/internal/service/order/infrastructure"
	"mall/internal/service/order/infrastructure/adapter"
	"mall/internal/service/order/infrastructure/rule"
	"mall/internal/service/order/interfaces"
)

const (
	serviceName = "order-service"
	servicePort = 8084
)

// main 是订单服务的组装根：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := bootstrap.GetCurrentConfig()
			tracer := otel.Tracer(serviceName)

			db, err := database.Open(cfg.Infra.Mysql.DSN)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to connect mysql")
			}

			redisClient := redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
			if err := redisClient.Ping(context.Background()); err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to connect redis")
			}

			stockCache, err := invinfra.NewStockRedisCache(redisClient)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to load stock cache scripts")
			}

			var locker invport.ProductLocker
			switch cfg.Infra.Lock.Provider {
			case "zookeeper":
				zkLocker, err := invinfra.NewZkProductLocker(cfg.Infra.Zookeeper.Servers, 5*time.Second)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect zookeeper")
				}
				locker = zkLocker
			default:
				redisLocker, err := invinfra.NewRedisProductLocker(redisClient)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to load lock scripts")
				}
				locker = redisLocker
			}

			stockStore := invinfra.NewGormStockStore(db)
			reservationSvc := invapp.NewStockReservationService(
				stockCache, locker, stockStore, tracer,
				time.Duration(cfg.App.ReservationTTLSeconds)*time.Second,
				time.Duration(cfg.App.LockTTLSeconds)*time.Second,
			)

			discountRule := ""
			if cfg.App.FeatureFlags.EnableVipDiscount {
				discountRule = cfg.App.DiscountRule
			}
			discountEngine, err := rule.NewCelDiscountEngine(discountRule)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to compile discount rule")
			}

			notifier := adapter.NewKafkaNotificationProducer(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.OrderEventsTopic)

			orderSvc := application.NewOrderService(
				infrastructure.NewGormOrderRepository(db),
				infrastructure.NewGormProductReader(db),
				reservationSvc,
				infrastructure.NewGormTransactor(db),
				notifier,
				discountEngine,
				tracer,
			)

			handler := interfaces.NewOrderHandler(orderSvc, reservationSvc)
			handler.RegisterRoutes(appCtx.Mux)
		},
	})
}
