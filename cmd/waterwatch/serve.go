package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"waterwatch/api"
	"waterwatch/api/middleware"
	"waterwatch/api/services"
	"waterwatch/db"
	"waterwatch/pkg/config"
	"waterwatch/pkg/flow"
	"waterwatch/pkg/logger"
	"waterwatch/pkg/metrics"
	embeddednats "waterwatch/pkg/services/embedded-nats"
	"waterwatch/pkg/services/flowstate"
	"waterwatch/pkg/services/flowstore"
	"waterwatch/pkg/services/ingest"
	"waterwatch/pkg/services/realtime"
	"waterwatch/pkg/services/workers"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting waterwatch",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"port", cfg.HTTP.Port)

	dbService, err := initDB(cfg.Database)
	if err != nil {
		return err
	}
	defer dbService.Close()

	natsService, err := initNATS(cfg.NATS)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := natsService.Shutdown(ctx); err != nil {
			logger.Error("NATS shutdown failed", "error", err)
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	sqlDB := dbService.GetDB()
	tankService := services.NewTankService(sqlDB, natsService, m)
	pipelineService := services.NewPipelineService(sqlDB, natsService, m)
	valveService := services.NewValveService(sqlDB, pipelineService, natsService, m)
	telemetryService := services.NewTelemetryService(dbService, tankService, natsService, m)

	store, err := initFlowStore(cfg.Redis)
	if err != nil {
		return err
	}
	defer store.Close()

	hubCfg := realtime.DefaultConfig()
	hubCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hub := realtime.NewHub(hubCfg, m)
	defer hub.Close()

	recomputer := flowstate.NewRecomputer(flowstate.Config{
		Flow: flow.Config{
			ConnectDistance: cfg.Flow.ConnectDistance,
			BlockDistance:   cfg.Flow.BlockDistance,
			MaxIterations:   cfg.Flow.MaxIterations,
		},
		Debounce: cfg.Flow.Debounce,
	},
		&services.SnapshotStore{Tanks: tankService, Valves: valveService, Pipelines: pipelineService},
		m,
		flowstore.Sink(store),
		hub,
		flowstate.NewNATSSink(natsService),
	)
	defer recomputer.Stop()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := recomputer.Start(startCtx); err != nil {
		// The first trigger retries; the API answers 503 for the flow until then.
		logger.Error("initial flow computation failed", "error", err)
	}
	cancelStart()

	var mirror workers.ReadingMirror
	if cfg.Influx.Enabled {
		influx, err := ingest.NewInfluxMirror(ingest.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize influx mirror: %w", err)
		}
		defer influx.Close()
		mirror = influx
		logger.Info("mirroring readings to InfluxDB", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	workerManager, err := workers.NewManager(natsService,
		workers.NewTelemetryWorker(natsService.JetStream(), telemetryService, hub, mirror),
		workers.NewAssetWorker(natsService.JetStream(), hub, recomputer),
	)
	if err != nil {
		return fmt.Errorf("failed to create worker manager: %w", err)
	}
	if err := workerManager.Start(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer workerManager.Stop()

	feedCtx, cancelFeed := context.WithCancel(context.Background())
	defer cancelFeed()
	if cfg.MQTT.Enabled {
		feed := ingest.NewMQTTFeed(ingest.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, telemetryService, m)
		go func() {
			if err := feed.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MQTT feed stopped", "error", err)
			}
		}()
	}

	checks := []api.HealthCheck{
		{Name: "database", Critical: true, Check: dbService.Health},
		{Name: "nats", Critical: true, Check: func(context.Context) error { return natsService.HealthCheck() }},
		{Name: "realtime", Check: hub.Health},
	}
	if redisStore, ok := store.(*flowstore.RedisStore); ok {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: redisStore.Ping})
	}

	handlers := api.NewHandlers(api.Config{
		Tanks:     tankService,
		Valves:    valveService,
		Pipelines: pipelineService,
		Telemetry: telemetryService,
		Flow:      recomputer,
		Store:     store,
		Checks:    checks,
		Version:   cfg.App.Version,
	})

	routes := api.Routes{Realtime: hub}
	if m != nil {
		routes.Metrics = m.Handler()
		routes.MetricsPath = cfg.Metrics.Path
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, routes)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      middleware.Chain(mux, middleware.RequestLogger(m), middleware.CORS(cfg.HTTP.AllowedOrigins)),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	logger.Info("shutting down services")
	return nil
}

func initDB(cfg config.DatabaseConfig) (*db.Service, error) {
	dbCfg := db.DefaultConfig()
	if cfg.Path != "" {
		dbCfg.DBPath = cfg.Path
	}
	dbCfg.AutoInitialize = cfg.AutoInitialize

	dbService, err := db.New(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}
	if err := dbService.VerifySchema(); err != nil {
		dbService.Close()
		return nil, fmt.Errorf("database schema verification failed: %w", err)
	}
	logger.Info("database ready", "path", dbCfg.DBPath)
	return dbService, nil
}

func initNATS(cfg config.NATSConfig) (*embeddednats.EmbeddedNATS, error) {
	natsCfg := embeddednats.DefaultConfig()
	if cfg.Port != 0 {
		natsCfg.Port = cfg.Port
	}
	if cfg.DataDir != "" {
		natsCfg.DataDir = cfg.DataDir
	}
	if cfg.MaxMemory > 0 {
		natsCfg.MaxMemory = cfg.MaxMemory
	}
	if cfg.MaxFileStore > 0 {
		natsCfg.MaxFileStore = cfg.MaxFileStore
	}

	natsService, err := embeddednats.New(natsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS service: %w", err)
	}
	if err := natsService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start NATS: %w", err)
	}
	if err := natsService.CreateWaterStreams(); err != nil {
		natsService.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create streams: %w", err)
	}
	return natsService, nil
}

func initFlowStore(cfg config.RedisConfig) (flowstore.Store, error) {
	if !cfg.Enabled {
		return flowstore.NewMemoryStore(), nil
	}
	store, err := flowstore.NewRedisStore(flowstore.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Key:      cfg.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("flow state stored in redis", "addr", cfg.Addr)
	return store, nil
}
