package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "catalogsync"

// Metrics holds the run counters on a private registry so tests and repeated runs never collide.
type Metrics struct {
	Registry *prometheus.Registry

	Records       *prometheus.CounterVec
	Skipped       *prometheus.CounterVec
	Embeddings    *prometheus.CounterVec
	WriteFailures prometheus.Counter
	StageDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records that passed a pipeline stage.",
		}, []string{"stage"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Records skipped, by reason.",
		}, []string{"reason"}),
		Embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Embeddings produced, by kind.",
		}, []string{"kind"}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Batches that failed to commit.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per stage call.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
	}
	m.Registry.MustRegister(m.Records, m.Skipped, m.Embeddings, m.WriteFailures, m.StageDuration)
	return m
}

func (m *Metrics) Record(stage string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordN(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Records.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Embedding(kind string) {
	if m == nil {
		return
	}
	m.Embeddings.WithLabelValues(kind).Inc()
}

func (m *Metrics) WriteFailed() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

// Observe records the time elapsed since start for stage.
func (m *Metrics) Observe(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Start serves /metrics on port until ctx is done.
func (m *Metrics) Start(ctx context.Context, port string) <-chan error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return errc
}

// Push sends the registry to a Pushgateway under the given job, grouped by run id.
func (m *Metrics) Push(ctx context.Context, url, job, runID string) error {
	return push.New(url, job).
		Gatherer(m.Registry).
		Grouping("run_id", runID).
		PushContext(ctx)
}
