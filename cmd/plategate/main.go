package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plategate/internal/api"
	"plategate/internal/capture"
	"plategate/internal/config"
	"plategate/internal/events"
	"plategate/internal/evidence"
	"plategate/internal/gate"
	"plategate/internal/logging"
	"plategate/internal/notify"
	"plategate/internal/registry"
	"plategate/internal/sessions"
	"plategate/internal/stats"
	"plategate/internal/storage"
	"plategate/internal/vision"
)

const version = "0.1.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "plategate.yaml", "path to configuration file")
	flag.Parse()

	manager, err := config.NewManager(config.ResolvePath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "config", manager.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statsStore := stats.NewStore()
	notices := notify.NewStore(cfg.Notifications.StoreLimit, logging.Component(logger, "notify"))

	driver := capture.NewStreamDriver(cfg.Capture.Cameras)
	cameras := capture.NewManager(driver, cfg.Capture, statsStore, logging.Component(logger, "capture"))

	detector := vision.NewHTTPDetector(cfg.Pipeline.DetectorURL)
	recognizer := vision.NewHTTPRecognizer(cfg.Pipeline.RecognizerURL)
	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := detector.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Error("detector unreachable", "url", cfg.Pipeline.DetectorURL, "err", err)
		os.Exit(1)
	}
	if err := recognizer.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Error("recognizer unreachable", "url", cfg.Pipeline.RecognizerURL, "err", err)
		os.Exit(1)
	}
	pingCancel()

	pipeline := vision.NewPipeline(detector, recognizer, cfg.Pipeline, statsStore, logging.Component(logger, "vision"))
	pipeline.SetLiveness(cameras)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open storage", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("init storage", "err", err)
			os.Exit(1)
		}
		pipeline.SetRecorder(store)
	}

	publisher := events.NewPublisher(cfg.Events, logging.Component(logger, "events"))
	if publisher != nil {
		pipeline.SetPublisher(publisher)
	}

	archive, err := evidence.NewArchive(cfg.Evidence, logging.Component(logger, "evidence"))
	if err != nil {
		logger.Error("open evidence archive", "err", err)
		os.Exit(1)
	}
	if archive != nil {
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn("ensure evidence bucket", "err", err)
		}
	}

	sessionsClient := sessions.NewClient(cfg.Sessions, sessions.StaticToken(cfg.Sessions.Token))
	registryClient := registry.NewClient(cfg.Registry)

	deps := gate.Deps{
		Sessions: sessionsClient,
		Registry: registryClient,
		Notifier: notices,
		Capturer: cameras,
		Recorder: store,
		Logger:   logging.Component(logger, "gate"),
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	if archive != nil {
		deps.Evidence = archive
	}
	orchestrator := gate.New(deps, cfg.Gate)

	devices, err := cameras.Devices()
	if err != nil {
		logger.Error("enumerate cameras", "err", err)
		os.Exit(1)
	}
	for _, dev := range devices {
		if !cameras.Initialize(dev.Index) {
			logger.Warn("camera unavailable", "camera", dev.Index, "name", dev.Name)
			continue
		}
		cameras.Start(dev.Index)
	}

	pipeline.Run(ctx, cameras.Recognition())
	orchestrator.Run(ctx, pipeline.Events())

	apiServer := api.Start(ctx, manager, statsStore, notices, orchestrator, cameras, logging.Component(logger, "api"), version)

	stopWatch := make(chan struct{})
	go manager.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("configuration reloaded")
		orchestrator.UpdateConfig(next.Gate)
		for idx := range next.Capture.Cameras {
			cameras.SetRecognitionInterval(idx, next.Capture.RecognitionInterval)
		}
	}, func(err error) {
		logger.Error("config reload failed", "err", err)
	}, stopWatch)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	close(stopWatch)
	cancel()
	cameras.ReleaseAll()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("close storage", "err", err)
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", "err", err)
		}
	}
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
}
