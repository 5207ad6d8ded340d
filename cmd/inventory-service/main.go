package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/bootstrap"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/mq"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/redis"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/application"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain/port"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/infrastructure"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/infrastructure/adapter"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/infrastructure/rule"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/interfaces"
	"github.com/nayanjcode/OBAI-InventoryService/internal/zookeeper"
)

type closer = func(ctx context.Context) error

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.App.Name, cfg.App.LogLevel)
	ctx := context.Background()

	// 1. 基础设施
	store, closeStore, err := buildStore(cfg.Storage)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize store")
	}
	locks, closeLocks, err := buildLockService(ctx, cfg.Lock)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize lock service")
	}
	policy, err := rule.NewCELAdmissionPolicy(cfg.Reservation.AdmissionRule)
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid admission rule")
	}

	// 2. 应用服务
	svc := application.NewInventoryApplicationService(store, locks, policy,
		otel.Tracer(cfg.App.Name), application.NewMetrics(prometheus.DefaultRegisterer),
		application.Options{
			LockWait:       cfg.Reservation.LockWait,
			LockHold:       cfg.Reservation.LockHold,
			ReserveTimeout: cfg.Reservation.ReserveTimeout,
		})
	sweeper := application.NewReservationSweeper(svc, cfg.Reservation.TTL, cfg.Reservation.SweepInterval)

	// 3. 驱动适配器
	kafkaCfg := cfg.Infra.Kafka
	brokers := kafkaCfg.BrokerList()
	// DLT writer 不指定主题，由 FailureHandler 在消息上设置
	dltWriter := mq.NewKafkaWriter(brokers, "")
	consumer := interfaces.NewPaymentResultConsumerAdapter(
		mq.NewKafkaReader(brokers, kafkaCfg.PaymentResultTopic, kafkaCfg.ConsumerGroup),
		svc,
		mq.NewFailureHandler(dltWriter, kafkaCfg.DLTTopic),
		kafkaCfg.MaxAttempts,
	)
	dltConsumer := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(brokers, kafkaCfg.DLTTopic, kafkaCfg.ConsumerGroup+"-dlt"),
	)
	handler := interfaces.NewInventoryHandler(svc)

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: cfg.App.Name,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers: []bootstrap.Worker{consumer.Run, dltConsumer.Run, sweeper.Run},
		Closers: []closer{
			closeStore,
			closeLocks,
			func(context.Context) error { return dltWriter.Close() },
			func(context.Context) error { return dltConsumer.Close() },
			func(context.Context) error { return consumer.Close() },
		},
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("service exited with error")
	}
}

func buildStore(cfg bootstrap.StorageConfig) (domain.Store, closer, error) {
	if cfg.Driver == "memory" {
		zlog.Warn().Msg("⚠️ using in-memory store, data is lost on restart")
		return infrastructure.NewMemoryStore(), func(context.Context) error { return nil }, nil
	}

	db, err := infrastructure.NewMySQLDB(cfg.MySQL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := infrastructure.AutoMigrate(db); err != nil {
			return nil, nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	zlog.Info().Str("addr", cfg.MySQL.Addr).Msg("✅ Connected to MySQL.")
	return infrastructure.NewGormStore(db), func(context.Context) error { return sqlDB.Close() }, nil
}

func buildLockService(ctx context.Context, cfg bootstrap.LockConfig) (port.LockService, closer, error) {
	if cfg.Backend == "zookeeper" {
		conn, err := zookeeper.Connect(strings.Split(cfg.Zookeeper.Servers, ","), cfg.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		locks := adapter.NewZookeeperLockAdapter(zookeeper.NewLocker(conn, zookeeper.DefaultLockRoot))
		return locks, func(context.Context) error { conn.Close(); return nil }, nil
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis.Addrs, cfg.Redis.Password)
	if err != nil {
		return nil, nil, err
	}
	locks, err := adapter.NewRedisLockAdapter(redisClient)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, err
	}
	zlog.Info().Str("addrs", cfg.Redis.Addrs).Msg("✅ Connected to Redis.")
	return locks, func(context.Context) error { return redisClient.Close() }, nil
}
