package flowsniffer

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sniffer's prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesIngested prometheus.Counter
	framesDropped  *prometheus.CounterVec
	flowsCreated   prometheus.Counter
	flowsEvicted   prometheus.Counter
	flowsActive    prometheus.Gauge
	hostnames      prometheus.Gauge
	dnsLookups     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsniffer",
			Name:      "frames_ingested_total",
			Help:      "Frames accounted to a flow.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsniffer",
			Name:      "frames_dropped_total",
			Help:      "Frames not accounted to any flow, by reason.",
		}, []string{"reason"}),
		flowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsniffer",
			Name:      "flows_created_total",
			Help:      "Flows seen for the first time.",
		}),
		flowsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsniffer",
			Name:      "flows_evicted_total",
			Help:      "Flows removed after the inactivity timeout.",
		}),
		flowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowsniffer",
			Name:      "flows_active",
			Help:      "Flows currently held in the flow table.",
		}),
		hostnames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowsniffer",
			Name:      "hostname_cache_entries",
			Help:      "Addresses held in the hostname cache.",
		}),
		dnsLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsniffer",
			Name:      "dns_lookups_total",
			Help:      "Reverse lookups by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.framesIngested,
		m.framesDropped,
		m.flowsCreated,
		m.flowsEvicted,
		m.flowsActive,
		m.hostnames,
		m.dnsLookups,
	)
	return m
}

func (m *Metrics) frameIngested() {
	if m != nil {
		m.framesIngested.Inc()
	}
}

func (m *Metrics) frameDropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) flowCreated() {
	if m != nil {
		m.flowsCreated.Inc()
	}
}

func (m *Metrics) flowsSwept(evicted, active int) {
	if m != nil {
		m.flowsEvicted.Add(float64(evicted))
		m.flowsActive.Set(float64(active))
	}
}

func (m *Metrics) setHostnames(n int) {
	if m != nil {
		m.hostnames.Set(float64(n))
	}
}

func (m *Metrics) dnsLookup(result string) {
	if m != nil {
		m.dnsLookups.WithLabelValues(result).Inc()
	}
}

// Handler exposes /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// Serve runs the metrics endpoint on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "serve metrics on %s", addr)
	}
}
