// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mall/internal/pkg/logger"
	"mall/internal/pkg/nacos"
	"mall/internal/pkg/tracing"
	"mall/internal/pkg/utils"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	// BackgroundTasks 在服务运行期间持续执行（消费者、对账循环等），
	// 收到退出信号后通过 ctx 取消。
	BackgroundTasks []func(ctx context.Context) error
}

// StartService 封装了所有服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)
	Init()

	cfg := GetCurrentConfig()

	// Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 服务注册（未配置 Nacos 地址时跳过，方便本地运行）
	var namingClient *nacos.Client
	var registeredIP string
	if addrs := os.Getenv("NACOS_SERVER_ADDRS"); addrs != "" {
		namingClient, err = nacos.NewClient(addrs, os.Getenv("NACOS_NAMESPACE"), os.Getenv("NACOS_GROUP"))
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		registeredIP, err = utils.GetOutboundIP()
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, registeredIP, info.Port); err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	runCtx, cancelRun := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.Logger.Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	for _, task := range info.BackgroundTasks {
		task := task
		g.Go(func() error { return task(gCtx) })
	}

	// 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-gCtx.Done():
	}
	logger.Logger.Info().Msgf("Shutting down service %s...", info.ServiceName)
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 后进先出地执行清理
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, registeredIP, info.Port); err != nil {
			logger.Logger.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		namingClient.Close()
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("Error shutting down http server")
	}

	if err := g.Wait(); err != nil {
		logger.Logger.Error().Err(err).Msg("background task exited with error")
	}

	logger.Logger.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}
