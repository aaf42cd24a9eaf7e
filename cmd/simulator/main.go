package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"bus-simulator/internal/api"
	"bus-simulator/internal/cache"
	"bus-simulator/internal/conditions"
	"bus-simulator/internal/config"
	"bus-simulator/internal/db"
	"bus-simulator/internal/fleet"
	"bus-simulator/internal/hub"
	"bus-simulator/internal/metrics"
	"bus-simulator/internal/publisher"
	"bus-simulator/internal/sim"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	cfg.ConfigureLogging()
	runID := uuid.New().String()
	log.WithField("run_id", runID).Info("bus simulator starting")

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if store.Dialect() == db.SQLite {
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("db schema error: %v", err)
		}
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.TickInterval, cfg.SimDelta, cfg.RefreshInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(srv, "metrics")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	simulator := sim.New(sim.WithSeed(seed))

	weather := conditions.RandomWeather(rand.New(rand.NewSource(seed)))
	if cfg.Weather != "random" {
		if weather, err = conditions.ParseWeather(cfg.Weather); err != nil {
			log.Fatalf("invalid WEATHER: %v", err)
		}
	}
	simulator.SetWeatherFactor(weather.Factor())
	log.Printf("weather %s (factor %.2f)", weather, weather.Factor())

	var regime sim.TimeOfDay
	if cfg.TimeOfDay != "" {
		if regime, err = sim.ParseTimeOfDay(cfg.TimeOfDay); err != nil {
			log.Fatalf("invalid TIME_OF_DAY: %v", err)
		}
		log.Printf("time of day pinned to %s", regime)
	}

	// Sinks
	wsHub := hub.NewHub(func(n int) {
		if mcol != nil {
			mcol.WSClients.Set(float64(n))
		}
	})
	go wsHub.Run(ctx)
	sinks := []fleet.Sink{wsHub}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	var statusCache *cache.StatusCache
	if cfg.RedisAddr != "" {
		statusCache, err = cache.NewStatusCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer statusCache.Close()
		sinks = append(sinks, statusCache)
	}

	mgr := fleet.NewManager(simulator, store, fleet.Options{
		TickInterval:    cfg.TickInterval,
		SimDelta:        cfg.SimDelta,
		RefreshInterval: cfg.RefreshInterval,
		Location:        cfg.Location,
		Regime:          regime,
		Seed:            seed,
	}, mcol, sinks...)
	if _, err := mgr.Load(ctx); err != nil {
		log.Fatalf("load fleet error: %v", err)
	}
	if simulator.Len() == 0 {
		log.Warn("no active buses with stops; waiting for the next refresh")
	}
	mgr.Start(ctx)
	// Start periodic fleet refresher so new assignments start running
	mgr.StartRefresher(ctx)

	apiOpts := api.Options{
		DB:          store,
		Routes:      store,
		WS:          wsHub.ServeWS,
		CORSOrigins: cfg.CORSOrigins,
	}
	if statusCache != nil {
		apiOpts.Cache = statusCache
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(mgr, apiOpts).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()
	log.Printf("api listening on %s", cfg.HTTPAddr)

	// Block until context cancelled
	<-ctx.Done()
	shutdown(httpSrv, "api")
	mgr.Stop()
	log.Println("shutdown complete")
}

func shutdown(srv *http.Server, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("%s server shutdown: %v", name, err)
	}
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
