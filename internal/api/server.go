// Package api exposes the running fleet over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"bus-simulator/internal/conditions"
	"bus-simulator/internal/fleet"
	"bus-simulator/internal/gtfsrt"
	"bus-simulator/internal/sim"
	"bus-simulator/internal/transit"
)

// Pinger reports whether the route source is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouteLister lists the active routes. *db.Store implements it.
type RouteLister interface {
	FetchRoutes(ctx context.Context) ([]transit.Route, error)
}

// StatusCache serves last known snapshots of buses and fleet stats the
// process no longer simulates.
type StatusCache interface {
	Status(ctx context.Context, busID string) (sim.StatusSnapshot, bool, error)
	Stats(ctx context.Context) (sim.Stats, bool, error)
	Forget(ctx context.Context, busID string) error
}

type Options struct {
	DB          Pinger
	Routes      RouteLister
	Cache       StatusCache
	WS          http.HandlerFunc
	CORSOrigins []string
	Now         func() time.Time
}

type Server struct {
	mgr  *fleet.Manager
	sim  *sim.Simulator
	opts Options
}

func NewServer(mgr *fleet.Manager, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{mgr: mgr, sim: mgr.Simulator(), opts: opts}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.ready)

	if s.opts.WS != nil {
		// upgrades must bypass the gzip wrapper
		r.Get("/ws", s.opts.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(gzipMiddleware)
		r.Get("/api/buses", s.listBuses)
		r.Get("/api/buses/{busID}", s.getBus)
		r.Delete("/api/buses/{busID}", s.deleteBus)
		r.Post("/api/buses/{busID}/tick", s.tickBus)
		r.Get("/api/stats", s.stats)
		if s.opts.Routes != nil {
			r.Get("/api/routes", s.listRoutes)
		}
		r.Get("/api/environment", s.getEnvironment)
		r.Put("/api/environment", s.putEnvironment)
		r.Post("/api/reset", s.reset)
		r.Get("/api/gtfs-rt/vehicle-positions", s.vehiclePositions)
	})
	return r
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB != nil {
		if err := s.opts.DB.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "error",
				"database": "disconnected",
				"error":    err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"buses":  s.sim.Len(),
	})
}

type BusesResponse struct {
	Buses      []sim.StatusSnapshot `json:"buses"`
	Count      int                  `json:"count"`
	ServerTime time.Time            `json:"serverTime"`
}

func (s *Server) listBuses(w http.ResponseWriter, r *http.Request) {
	all := s.sim.AllBusesStatus()
	buses := all
	if routeID := r.URL.Query().Get("route_id"); routeID != "" {
		buses = make([]sim.StatusSnapshot, 0, len(all))
		for _, b := range all {
			if b.RouteID == routeID {
				buses = append(buses, b)
			}
		}
	}
	respondJSON(w, http.StatusOK, BusesResponse{
		Buses:      buses,
		Count:      len(buses),
		ServerTime: s.opts.Now(),
	})
}

func (s *Server) getBus(w http.ResponseWriter, r *http.Request) {
	busID := chi.URLParam(r, "busID")
	if st, ok := s.sim.BusStatus(busID); ok {
		respondJSON(w, http.StatusOK, st)
		return
	}
	if s.opts.Cache != nil {
		st, ok, err := s.opts.Cache.Status(r.Context(), busID)
		if err != nil {
			log.WithError(err).WithField("bus", busID).Warn("cache lookup failed")
		} else if ok {
			w.Header().Set("X-Cache", "hit")
			respondJSON(w, http.StatusOK, st)
			return
		}
	}
	respondError(w, http.StatusNotFound, "bus not found")
}

func (s *Server) deleteBus(w http.ResponseWriter, r *http.Request) {
	busID := chi.URLParam(r, "busID")
	if !s.sim.RemoveBus(busID) {
		respondError(w, http.StatusNotFound, "bus not found")
		return
	}
	if s.opts.Cache != nil {
		if err := s.opts.Cache.Forget(r.Context(), busID); err != nil {
			log.WithError(err).WithField("bus", busID).Warn("cache forget failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) tickBus(w http.ResponseWriter, r *http.Request) {
	busID := chi.URLParam(r, "busID")
	delta := sim.DefaultTickDelta
	if v := r.URL.Query().Get("delta_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			respondError(w, http.StatusBadRequest, "invalid delta_ms: must be a positive integer")
			return
		}
		delta = time.Duration(ms) * time.Millisecond
	}
	st, ok := s.sim.UpdateBusPosition(busID, delta)
	if !ok {
		respondError(w, http.StatusNotFound, "bus not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// stats serves the live fleet stats. With no buses loaded it falls back to the
// last stats a previous run left in the cache.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.sim.Len() == 0 && s.opts.Cache != nil {
		st, ok, err := s.opts.Cache.Stats(r.Context())
		if err != nil {
			log.WithError(err).Warn("cache stats lookup failed")
		} else if ok {
			w.Header().Set("X-Cache", "hit")
			respondJSON(w, http.StatusOK, st)
			return
		}
	}
	respondJSON(w, http.StatusOK, s.sim.SimulationStats())
}

type RoutesResponse struct {
	Routes []transit.Route `json:"routes"`
	Count  int             `json:"count"`
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.opts.Routes.FetchRoutes(r.Context())
	if err != nil {
		log.WithError(err).Warn("fetch routes failed")
		respondError(w, http.StatusServiceUnavailable, "fetch routes: "+err.Error())
		return
	}
	if routes == nil {
		routes = []transit.Route{}
	}
	respondJSON(w, http.StatusOK, RoutesResponse{Routes: routes, Count: len(routes)})
}

type Environment struct {
	TimeOfDay     sim.TimeOfDay `json:"timeOfDay"`
	WeatherFactor float64       `json:"weatherFactor"`
	Pinned        bool          `json:"pinned"`
}

// EnvironmentUpdate changes the regime and the weather. TimeOfDay "auto"
// returns the regime to the wall clock. Weather wins over WeatherFactor.
type EnvironmentUpdate struct {
	TimeOfDay     string   `json:"timeOfDay,omitempty"`
	Weather       string   `json:"weather,omitempty"`
	WeatherFactor *float64 `json:"weatherFactor,omitempty"`
}

func (s *Server) environment() Environment {
	_, pinned := s.mgr.Pinned()
	return Environment{
		TimeOfDay:     s.sim.TimeOfDay(),
		WeatherFactor: s.sim.WeatherFactor(),
		Pinned:        pinned,
	}
}

func (s *Server) getEnvironment(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.environment())
}

func (s *Server) putEnvironment(w http.ResponseWriter, r *http.Request) {
	var req EnvironmentUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	var regime sim.TimeOfDay
	auto := strings.EqualFold(req.TimeOfDay, "auto")
	if req.TimeOfDay != "" && !auto {
		t, err := sim.ParseTimeOfDay(req.TimeOfDay)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		regime = t
	}
	factor := req.WeatherFactor
	if req.Weather != "" {
		wx, err := conditions.ParseWeather(req.Weather)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		f := wx.Factor()
		factor = &f
	}

	switch {
	case auto:
		s.mgr.Unpin()
	case regime != "":
		s.mgr.PinRegime(regime)
	}
	if factor != nil {
		s.sim.SetWeatherFactor(*factor)
	}
	log.WithFields(log.Fields{"timeOfDay": s.sim.TimeOfDay(), "weatherFactor": s.sim.WeatherFactor()}).Info("environment updated")
	respondJSON(w, http.StatusOK, s.environment())
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	loaded, err := s.mgr.Reset(ctx)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "reload fleet: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"loaded":     loaded,
		"totalBuses": s.sim.Len(),
	})
}

func (s *Server) vehiclePositions(w http.ResponseWriter, r *http.Request) {
	feed := gtfsrt.BuildFeed(s.sim.AllBusesStatus(), s.opts.Now(), s.mgr.Label)

	if r.URL.Query().Get("format") == "json" {
		data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(feed)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "encode feed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
		return
	}

	data, err := proto.Marshal(feed)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode feed")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(data)
}
