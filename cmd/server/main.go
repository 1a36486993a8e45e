package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-monitor/internal/aggregate"
	"github.com/technosupport/ts-monitor/internal/api"
	"github.com/technosupport/ts-monitor/internal/config"
	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/frames"
	"github.com/technosupport/ts-monitor/internal/genai"
	"github.com/technosupport/ts-monitor/internal/health"
	"github.com/technosupport/ts-monitor/internal/monitor"
	"github.com/technosupport/ts-monitor/internal/notify"
	"github.com/technosupport/ts-monitor/internal/smart"
)

const serviceName = "ts-monitor"

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// DB
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	// Models
	camRepo := data.CameraModel{DB: db}
	sessionRepo := data.SessionModel{DB: db}
	eventRepo := data.EventModel{DB: db}
	featureRepo := data.SmartFeatureModel{DB: db}

	// Event bus + NATS mirror
	bus := events.NewBus()
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			log.Printf("[WARN] Main: NATS connect failed, mirror disabled: %v", err)
		} else {
			defer nc.Close()
			dedup := events.NewDedup(4096, 2*time.Second)
			mirror := events.NewNATSMirror(nc, "vms.events", 3, dedup)
			defer mirror.Attach(bus)()
		}
	}

	// Frame acquisition
	registry := frames.NewGrabberRegistry(cfg.Frames.FFmpegPath)
	var segments *frames.SegmentWatcher
	if cfg.Frames.HLSRoot != "" {
		segments, err = frames.NewSegmentWatcher()
		if err != nil {
			log.Printf("[WARN] Main: segment watcher disabled: %v", err)
		}
	}
	source := frames.NewSource(registry, segments, cfg.Frames.FFmpegPath)

	// Collaborator clients
	detector := detect.NewClient(cfg.Detection.URL)
	analyzer := genai.NewClient(cfg.GenAI.URL, cfg.GenAI.APIKey)

	// Aggregators
	heatmap := aggregate.NewHeatmapGenerator()
	people := aggregate.NewPeopleCounter()
	shelf := aggregate.NewShelfMonitor(bus)
	audio := aggregate.NewAudioAnalyzer(detector, bus)
	crossCam := aggregate.NewCrossCameraTracker(detector)

	// Smart features + monitor
	engine := smart.NewEngine(featureRepo, eventRepo, bus)
	sessions := monitor.NewSessionManager(sessionRepo, eventRepo, bus, analyzer, cfg.Frames.StorageRoot)
	streams := health.NewStreamTracker(camRepo, eventRepo, bus, cfg.Monitor.MaxStreamFailures)
	mon := monitor.NewCameraMonitor(camRepo, eventRepo, source, detector, engine, sessions, streams,
		monitor.Aggregators{Heatmap: heatmap, People: people, Shelf: shelf, Tracker: crossCam},
		bus, cfg.PollInterval())

	// Notification dispatcher
	if len(cfg.Notify.Webhooks) > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		dispatcher := notify.NewDispatcher(rdb, cfg.Notify.Webhooks, cfg.NotifyCooldown())
		defer dispatcher.Attach(bus)()
	}

	// Auto-restore previously monitored cameras
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mon.Restore(restoreCtx); err != nil {
		log.Printf("[ERROR] Main: restore: %v", err)
	}
	cancelRestore()

	// HTTP API
	server := api.NewServer(mon, bus, camRepo, api.Aggregates{
		Heatmap: heatmap,
		People:  people,
		Shelf:   shelf,
		Audio:   audio,
		Tracker: crossCam,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[INFO] Main: listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Shutdown on SIGINT/SIGTERM: stop monitors first so grabber
	// subprocesses and sessions close cleanly.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("[INFO] Main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mon.StopAll(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Main: HTTP shutdown: %v", err)
	}
}
