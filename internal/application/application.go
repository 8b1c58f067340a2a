package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/stream-registry-service/internal/bus"
	"github.com/psds-microservice/stream-registry-service/internal/config"
	"github.com/psds-microservice/stream-registry-service/internal/database"
	"github.com/psds-microservice/stream-registry-service/internal/handler"
	"github.com/psds-microservice/stream-registry-service/internal/metrics"
	"github.com/psds-microservice/stream-registry-service/internal/presence"
	"github.com/psds-microservice/stream-registry-service/internal/repository"
	"github.com/psds-microservice/stream-registry-service/internal/router"
	"github.com/psds-microservice/stream-registry-service/internal/service"
)

// API is the HTTP API application.
type API struct {
	cfg      *config.Config
	srv      *http.Server
	db       *gorm.DB
	bus      bus.Bus
	cron     *cron.Cron
	registry *service.Registry
	logger   *zap.Logger
}

// NewAPI creates the API application: validates config, runs migrations,
// opens DB, connects the bus, builds the presence store and router. No
// ambient singletons: every handle is constructed here and injected down.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}

	var msgBus bus.Bus
	if cfg.NATSURL != "" {
		natsBus, err := bus.ConnectNATS(cfg.NATSURL, cfg.NATSName, logger)
		if err != nil {
			return nil, fmt.Errorf("bus: %w", err)
		}
		msgBus = natsBus
	} else {
		logger.Warn("NATS_URL empty, using in-process bus (single node only)")
		msgBus = bus.NewMemoryBus()
	}

	store, err := buildPresenceStore(cfg, msgBus)
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}

	m := metrics.New()
	hub := service.NewEventHub(logger)
	historyRepo := repository.NewHistoryRepo(db)
	typeRepo := repository.NewTypeRepo(db)

	tracker := service.NewTracker(store, historyRepo, hub, cfg.SessionTTL, logger)
	broker := service.NewBroker(store, msgBus, tracker, cfg.NegotiationTimeout, logger)
	registry := service.NewRegistry(store, broker, tracker, typeRepo, hub, m, cfg.StreamTTL, logger)

	streamHandler := handler.NewStreamHandler(registry)
	sessionHandler := handler.NewSessionHandler(registry)
	eventsWS := handler.NewEventsWSHandler(hub, logger)
	health := handler.NewHealthHandler()
	metricsHandler := m.Handler(func() {
		m.SetLive(registry.LiveCounts())
	})

	r := router.New(streamHandler, sessionHandler, eventsWS, health, metricsHandler)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Negotiations block up to the 5s timeout; leave headroom.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	app := &API{
		cfg:      cfg,
		srv:      srv,
		db:       db,
		bus:      msgBus,
		registry: registry,
		logger:   logger,
	}
	app.cron = buildHousekeeping(cfg, store, tracker, registry, logger)
	return app, nil
}

func buildPresenceStore(cfg *config.Config, msgBus bus.Bus) (presence.Store, error) {
	if cfg.PresenceBackend == config.PresenceBackendNATS {
		natsBus, ok := msgBus.(*bus.NATSBus)
		if !ok {
			return nil, fmt.Errorf("nats presence backend requires a NATS bus")
		}
		js, err := natsBus.Conn().JetStream()
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		maxTTL := cfg.StreamTTL
		if cfg.SessionTTL > maxTTL {
			maxTTL = cfg.SessionTTL
		}
		// Bucket TTL is a coarse upper bound; precise expiry lives in the
		// stored envelope.
		return presence.NewNATSKVStore(js, "STREAM_REGISTRY", 2*maxTTL)
	}
	return presence.NewMemoryStore(), nil
}

// buildHousekeeping schedules the presence sweep, stale session expiry, and
// history retention purge. Correctness never depends on these jobs; they only
// keep storage tidy and settle history rows for sessions that died silently.
func buildHousekeeping(cfg *config.Config, store presence.Store, tracker *service.Tracker, registry *service.Registry, logger *zap.Logger) *cron.Cron {
	c := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	_, err := c.AddFunc(sweepSpec, func() {
		if mem, ok := store.(*presence.MemoryStore); ok {
			if removed := mem.Sweep(); removed > 0 {
				logger.Debug("presence sweep", zap.Int("removed", removed))
			}
		}
		registry.NotifyExpired()
		tracker.ExpireStale()
	})
	if err != nil {
		logger.Warn("failed to schedule sweep", zap.Error(err))
	}
	_, err = c.AddFunc("30 3 * * *", func() {
		tracker.PurgeHistory(cfg.HistoryRetention())
	})
	if err != nil {
		logger.Warn("failed to schedule history purge", zap.Error(err))
	}
	return c
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	addr := a.srv.Addr
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Streams:       %s/streams", base)
	log.Printf("  Sessions:      %s/streams/sessions", base)
	log.Printf("  Metrics:       %s/metrics", base)
	log.Printf("  Events:        ws://%s:%s/ws/events", host, a.cfg.HTTPPort)

	a.cron.Start()

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	cronCtx := a.cron.Stop()
	<-cronCtx.Done()
	a.bus.Close()
	_ = a.logger.Sync()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
