// cmd/order-reconciler/main.go
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
	invinfra "mall/internal/service/inventory/infrastructure"
	"mall/internal/service/order/application"
	"mall/internal/service/order/infrastructure"
)

const (
	serviceName = "order-reconciler"
	servicePort = 8085
)

// main 启动超时对账服务：周期性取消超时未支付的订单并归还库存。
// 对账不需要分布式锁，归还走数据库加缓存补偿路径。
func main() {
	var reconciler *application.TimeoutReconciler
	var interval time.Duration

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
			redisLocker, err := invinfra.NewRedisProductLocker(redisClient)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to load lock scripts")
			}

			reservationSvc := invapp.NewStockReservationService(
				stockCache, redisLocker, invinfra.NewGormStockStore(db), tracer,
				time.Duration(cfg.App.ReservationTTLSeconds)*time.Second,
				time.Duration(cfg.App.LockTTLSeconds)*time.Second,
			)

			reconciler = application.NewTimeoutReconciler(
				infrastructure.NewGormOrderRepository(db),
				reservationSvc,
				infrastructure.NewGormTransactor(db),
				tracer,
				time.Duration(cfg.App.OrderTimeoutMinutes)*time.Minute,
				time.Duration(cfg.App.PaymentTimeoutMinutes)*time.Minute,
			)
			interval = time.Duration(cfg.App.ReconcileIntervalSeconds) * time.Second
		},
		BackgroundTasks: []func(ctx context.Context) error{
			func(ctx context.Context) error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if _, err := reconciler.ProcessOrderTimeouts(ctx); err != nil {
							logger.Ctx(ctx).Error().Err(err).Msg("order timeout sweep failed")
						}
						if _, err := reconciler.ProcessPaymentTimeouts(ctx); err != nil {
							logger.Ctx(ctx).Error().Err(err).Msg("payment timeout sweep failed")
						}
					}
				}
			},
		},
	})
}
