package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medsync/internal/config"
	"medsync/internal/consumer"
	"medsync/internal/database"
	httpapi "medsync/internal/http"
	"medsync/internal/logger"
	"medsync/internal/mqtt"
	rediscommon "medsync/internal/redis"
	"medsync/internal/repository"
	"medsync/internal/service"
	"medsync/internal/store"
	"medsync/internal/validation"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Starting medsync",
		zap.String("domain", cfg.Sync.Domain),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	// 主系统只读连接 + 微服务副本连接
	mainDB, err := database.NewPostgresDB(&cfg.MainDB)
	if err != nil {
		log.Fatal("Failed to connect to main database", zap.Error(err))
	}
	replicaDB, err := database.NewPostgresDB(&cfg.ReplicaDB)
	if err != nil {
		log.Fatal("Failed to connect to replica database", zap.Error(err))
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}

	kv := store.NewRedisKV(redisClient)
	lease := store.NewRedisLease(redisClient)

	mainRepo := repository.NewPostgresRecordsRepository(mainDB)
	replicaRepo := repository.NewPostgresRecordsRepository(replicaDB)
	conflictsRepo := repository.NewPostgresConflictsRepository(replicaDB)
	quarantineRepo := repository.NewPostgresQuarantineRepository(replicaDB)
	auditRepo := repository.NewPostgresAuditRepository(replicaDB)

	// 隔离服务与校验引擎互相依赖：先建服务，再注入引擎
	quarantineSvc := service.NewQuarantineService(quarantineRepo, replicaRepo, auditRepo, log)
	validator := validation.NewEngine(replicaRepo, quarantineSvc, log)
	quarantineSvc.SetValidator(validator)

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.Alerting.Enabled {
		notifier = service.NewAlertClient(cfg.Alerting.BaseURL, cfg.Alerting.Timeout, log)
		log.Info("Alerting webhook enabled", zap.String("base_url", cfg.Alerting.BaseURL))
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			// MQTT 是可选的转发通道，连不上降级继续跑
			log.Warn("MQTT broker unavailable, critical value forwarding disabled", zap.Error(err))
			mqttClient = nil
		}
	}

	resolver := service.NewConflictResolver(
		conflictsRepo, replicaRepo, auditRepo,
		validator, notifier, cfg.Sync.MergeThreshold, log,
	)
	engine := service.NewSyncEngine(
		mainRepo, replicaRepo, conflictsRepo,
		kv, lease,
		cfg.Sync.Domain, cfg.Sync.DefaultLookback, cfg.Sync.LeaseTTL,
		log,
	)

	router := httpapi.NewRouter(log)
	router.RegisterSyncRoutes(httpapi.NewSyncHandler(engine, log))
	router.RegisterConflictRoutes(httpapi.NewConflictHandler(resolver, log))
	router.RegisterQuarantineRoutes(httpapi.NewQuarantineHandler(quarantineSvc, log))
	router.RegisterQualityRoutes(httpapi.NewQualityHandler(resolver, quarantineSvc, replicaRepo, validator, log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 定时增量同步
	scheduler := service.NewScheduler(engine, cfg.Sync.Interval, log)
	go scheduler.Start(ctx)

	// 事件网关：实体事件 / 同步命令 / 危急值告警
	gateway := consumer.NewEventGateway(
		&cfg.Sync, cfg.ServiceName, redisClient,
		engine, notifier,
		mqttClient, cfg.MQTT.Topic, cfg.MQTT.QoS,
		log,
	)
	go func() {
		if err := gateway.Start(ctx); err != nil {
			log.Error("Event gateway stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)

	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	_ = redisClient.Close()
	_ = mainDB.Close()
	_ = replicaDB.Close()

	log.Info("medsync stopped")
}
