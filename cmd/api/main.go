package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"netwatch/internal/batch"
	"netwatch/internal/cache"
	"netwatch/internal/config"
	"netwatch/internal/flapping"
	"netwatch/internal/handler"
	"netwatch/internal/history"
	"netwatch/internal/ingest"
	"netwatch/internal/logger"
	"netwatch/internal/models"
	"netwatch/internal/mqtt"
	"netwatch/internal/prober"
	"netwatch/internal/scheduler"
	"netwatch/internal/server"
	"netwatch/internal/status"
	"netwatch/internal/topology"
	"netwatch/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Mode:        cfg.Logging.Mode,
		LogFilePath: cfg.Logging.FilePath,
		UseColors:   cfg.Logging.UseColors,
	})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("configuration validation failed: %v", err)
	}
	cfg.Print()
	log.Info("starting netwatch")

	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		log.Fatal("failed to create data directory: %v", err)
	}

	configPath := filepath.Join(cfg.Server.DataDir, "config.json")
	configStore := topology.New(configPath, log)
	if err := configStore.Load(); err != nil {
		log.Fatal("failed to load topology config: %v", err)
	}

	historyStore, err := history.Open(cfg.History, log)
	if err != nil {
		log.Fatal("failed to open history store: %v", err)
	}
	defer historyStore.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hotCache := cache.New(rootCtx, cfg.Cache, log)
	defer hotCache.Close()

	batchWriter := batch.New(historyStore, log, cfg.Monitor.BatchMaxSize, cfg.Monitor.BatchFlushInterval, cfg.Monitor.BatchMaxRetained)
	go batchWriter.Run(rootCtx)

	flapSink := &flappingSink{cache: hotCache, history: historyStore, log: log}
	flapDetector := flapping.New(flapSink, log, flapping.Options{
		RingSize:        cfg.Monitor.FlappingRingSize,
		Window:          cfg.Monitor.FlappingWindow,
		ChangeThreshold: cfg.Monitor.FlappingChangeThreshold,
		MinSpeedChange:  cfg.Monitor.FlappingMinSpeedChange,
		EmitCooldown:    cfg.Monitor.FlappingEmitCooldown,
	})

	prb := prober.New(log)

	onResult := func(result models.ProbeResult) {
		publishProbeResult(rootCtx, hotCache, batchWriter, result)
	}
	sched := scheduler.New(configStore, prb, log, onResult, scheduler.Options{
		TickInterval:            cfg.Monitor.TickInterval,
		MaxConcurrentPings:      cfg.Monitor.MaxConcurrentPings,
		StaggerDelay:            cfg.Monitor.StaggerDelay,
		InFlightWatchdog:        cfg.Monitor.InFlightWatchdog,
		BreakerFailureThreshold: cfg.Monitor.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.Monitor.BreakerOpenTimeout,
	})
	sched.Reload(configStore.Current())
	go sched.Run(rootCtx)

	ingestor := ingest.New(configStore, hotCache, batchWriter, flapDetector, log)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{MQTT: &cfg.MQTT, Logger: log})
		if err != nil {
			log.Error("failed to create mqtt client: %v", err)
			mqttClient = nil
		} else if err := mqttClient.Connect(); err != nil {
			log.Error("failed to connect to mqtt broker: %v", err)
			mqttClient = nil
		} else {
			defer mqttClient.Disconnect()
			if err := ingest.SubscribeMQTT(mqttClient, ingestor, log); err != nil {
				log.Error("failed to subscribe mqtt ingestion topics: %v", err)
			}
		}
	}

	statusSource := status.NewCacheHistorySource(configStore, hotCache, historyStore)
	deriver := status.New(statusSource, statusSource, nil)

	hub := websocket.NewHub(log)
	go hub.Run(rootCtx)
	go hub.SubscribeCache(rootCtx, hotCache,
		cache.ChannelDeviceUpdate, cache.ChannelInterfaceUpdate, cache.ChannelWirelessUpdate,
		cache.ChannelAlertFlapping, cache.ChannelSystemStatus)

	go runMaintenanceLoops(rootCtx, historyStore, cfg.Monitor, log)

	srv := server.New(cfg, log)
	handlers := server.Handlers{
		Status:  handler.NewStatusHandler(configStore, deriver, log),
		History: handler.NewHistoryHandler(historyStore, log),
		Config:  handler.NewConfigHandler(configStore, sched, log),
		SNMP:    handler.NewSNMPHandler(historyStore, log),
		System:  handler.NewSystemHandler(sched, batchWriter, hotCache, &ingestor.Counters, log),
		Export:  handler.NewExportHandler(configPath, historyStore.FilePath(), configStore, configStore, sched, sched, log),
		Health:  handler.NewHealthHandler(historyStore, hotCache, mqttClient, log),
		Ingest:  ingest.NewHandler(ingestor, log),
		WS:      handler.NewWSHandler(hub, log),
	}
	srv.RegisterHandlers(handlers)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("server failed: %v", err)
		}
	}()
	log.Info("api server ready on http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	<-rootCtx.Done()
	log.Warn("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error: %v", err)
	}

	<-batchWriter.Done()
	log.Info("shutdown complete")
}

func publishProbeResult(ctx context.Context, c cache.Cache, w *batch.Writer, result models.ProbeResult) {
	ds := models.DeviceStatus{
		DeviceID:    result.DeviceID,
		Status:      result.Status,
		LatencyMs:   result.LatencyMs,
		PacketLoss:  result.PacketLoss,
		LastChecked: time.UnixMilli(result.Timestamp).UTC().Format(time.RFC3339),
	}
	_ = c.Set(ctx, cache.DeviceStatusKey(result.DeviceID), ds, time.Hour)
	_ = c.Publish(ctx, cache.ChannelDeviceUpdate, ds)
	w.AddProbe(result)
}

// runMaintenanceLoops drives the History store's periodic aggregate and
// expiry passes.
func runMaintenanceLoops(ctx context.Context, h *history.Store, mon config.MonitorConfig, log *logger.Logger) {
	aggTicker := time.NewTicker(mon.AggregatorInterval)
	expTicker := time.NewTicker(mon.ExpireInterval)
	defer aggTicker.Stop()
	defer expTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-aggTicker.C:
			if err := h.UpsertAggregates(ctx); err != nil {
				log.Error("aggregate upsert failed: %v", err)
			}
		case <-expTicker.C:
			if err := h.Expire(ctx); err != nil {
				log.Error("history expiry failed: %v", err)
			}
		}
	}
}

// flappingSink adapts the History store and hot cache into flapping.Sink.
type flappingSink struct {
	cache   cache.Cache
	history *history.Store
	log     *logger.Logger
}

func (s *flappingSink) Emit(ctx context.Context, evt models.FlappingEvent) {
	if err := s.history.InsertFlappingEvent(ctx, evt); err != nil {
		s.log.Error("flapping: persist event failed: %v", err)
	}
	if err := s.cache.Publish(ctx, cache.ChannelAlertFlapping, evt); err != nil {
		s.log.Warn("flapping: publish failed: %v", err)
	}
}
