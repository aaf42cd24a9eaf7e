package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"bus-simulator/internal/sim"
)

var regimes = []sim.TimeOfDay{sim.RushMorning, sim.RushEvening, sim.Normal, sim.LateNight, sim.Weekend}

type Collector struct {
	reg *prometheus.Registry

	ActiveBuses  prometheus.Gauge
	BusesLoaded  prometheus.Counter
	BusesRemoved prometheus.Counter
	LoadErrors   prometheus.Counter

	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	SinkErrors *prometheus.CounterVec // sink label: nats|websocket|redis
	WSClients  prometheus.Gauge

	AverageSpeed      prometheus.Gauge
	AverageDelay      prometheus.Gauge
	OnTimePerformance prometheus.Gauge
	Passengers        prometheus.Gauge
	WeatherFactor     prometheus.Gauge
	TimeOfDay         *prometheus.GaugeVec // 1 for the active regime

	TickInterval    prometheus.Gauge // seconds
	SimDelta        prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(tickInterval, simDelta, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_active_buses",
			Help: "Number of buses registered in the simulator.",
		}),
		BusesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_buses_loaded_total",
			Help: "Total buses initialized from the route source.",
		}),
		BusesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_buses_removed_total",
			Help: "Total buses dropped because they lost their assignment.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_load_errors_total",
			Help: "Total failed fleet loads.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_ticks_total",
			Help: "Total simulation ticks.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of a fleet tick including sink fan-out.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_sink_errors_total",
			Help: "Frames a sink failed to deliver.",
		}, []string{"sink"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_websocket_clients",
			Help: "Connected WebSocket clients.",
		}),
		AverageSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_fleet_average_speed_kmh",
			Help: "Mean instantaneous speed across the fleet.",
		}),
		AverageDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_fleet_average_delay_minutes",
			Help: "Mean schedule delay across the fleet.",
		}),
		OnTimePerformance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_fleet_on_time_percent",
			Help: "Share of buses within two minutes of schedule.",
		}),
		Passengers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_fleet_passengers",
			Help: "Passengers on board across the fleet.",
		}),
		WeatherFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_weather_factor",
			Help: "Current weather speed multiplier.",
		}),
		TimeOfDay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simulator_time_of_day",
			Help: "1 for the active time-of-day regime, 0 otherwise.",
		}, []string{"regime"}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_tick_interval_seconds",
			Help: "Wall-clock interval between ticks.",
		}),
		SimDelta: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_tick_delta_seconds",
			Help: "Simulated time applied per tick.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_refresh_interval_seconds",
			Help: "Fleet reload interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveBuses, c.BusesLoaded, c.BusesRemoved, c.LoadErrors,
		c.Ticks, c.TickDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.SinkErrors, c.WSClients,
		c.AverageSpeed, c.AverageDelay, c.OnTimePerformance, c.Passengers,
		c.WeatherFactor, c.TimeOfDay,
		c.TickInterval, c.SimDelta, c.RefreshInterval,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.SimDelta.Set(simDelta.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

// ObserveStats mirrors a fleet summary into the gauges.
func (c *Collector) ObserveStats(st sim.Stats) {
	c.ActiveBuses.Set(float64(st.TotalBuses))
	c.AverageSpeed.Set(float64(st.AverageSpeed))
	c.AverageDelay.Set(st.AverageDelay)
	c.OnTimePerformance.Set(float64(st.OnTimePerformance))
	c.Passengers.Set(float64(st.TotalPassengers))
	c.WeatherFactor.Set(st.WeatherFactor)
	for _, r := range regimes {
		v := 0.0
		if r == st.TimeOfDay {
			v = 1
		}
		c.TimeOfDay.WithLabelValues(string(r)).Set(v)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
