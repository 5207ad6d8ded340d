package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/nacos"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/tracing"
)

const shutdownTimeout = 10 * time.Second

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// Worker 是随服务一起运行的后台任务（消费者、清理器等），ctx 取消时应尽快返回
type Worker func(ctx context.Context) error

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	Workers          []Worker
	// Closers 在 HTTP 服务和 worker 全部退出后按后进先出顺序执行
	Closers []func(ctx context.Context) error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
// 阻塞直到收到 SIGINT/SIGTERM 或任一 worker 返回错误。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()
	log := logger.Ctx(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}

	// 2. 服务注册（可选）
	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return errors.Wrap(err, "init nacos client")
		}
		if ip, err = GetOutboundIP(); err != nil {
			return errors.Wrap(err, "get outbound ip")
		}
		if err = namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return errors.Wrap(err, "register service with nacos")
		}
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("✅ %s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, w := range info.Workers {
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msgf("Shutting down service %s...", info.ServiceName)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// 4. 在关停流程中，按顺序执行清理操作 (后进先出)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	for i := len(info.Closers) - 1; i >= 0; i-- {
		if err := info.Closers[i](shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error running closer")
		}
	}
	// 最后关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	return nil
}

// GetOutboundIP 返回本机对外通信所用的 IP，用于服务注册。
// UDP Dial 不会真正发包，只借助路由表选出出口地址。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
