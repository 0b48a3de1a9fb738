// Package metrics exposes Prometheus instruments for backup runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semmidev/dbkeep/internal/domain"
)

const namespace = "dbkeep"

type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	artifactSize  *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
	deleted       prometheus.Counter
}

// New registers the instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_runs_total",
			Help:      "Backup runs by database kind and outcome.",
		}, []string{"database", "status"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_phase_duration_seconds",
			Help:      "Duration of each backup phase.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"phase"}),
		artifactSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_artifact_size_bytes",
			Help:      "Size of the most recent artifact.",
		}, []string{"database"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Local artifacts removed by the retention sweep.",
		}),
	}

	m.registry.MustRegister(
		m.runs,
		m.phaseDuration,
		m.artifactSize,
		m.lastSuccess,
		m.deleted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RunFinished(kind domain.DatabaseKind, at time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		m.lastSuccess.Set(float64(at.Unix()))
	}
	m.runs.WithLabelValues(string(kind), status).Inc()
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) ArtifactCreated(a domain.Artifact) {
	m.artifactSize.WithLabelValues(string(a.Kind)).Set(float64(a.Size))
}

func (m *Metrics) Deleted(n int) {
	m.deleted.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Server serves /metrics until Shutdown.
type Server struct {
	http   *http.Server
	logger Logger
}

func NewServer(addr string, m *Metrics, logger Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Metrics server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Metrics server error: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	return nil
}
