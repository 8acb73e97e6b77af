package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	registerOnce sync.Once

	chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sealwire",
			Subsystem: "transport",
			Name:      "chunks_total",
			Help:      "Sealed chunks moved over the wire.",
		},
		[]string{"direction"},
	)
	chunkBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sealwire",
			Subsystem: "transport",
			Name:      "chunk_bytes",
			Help:      "Sealed chunk size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 12),
		},
		[]string{"direction"},
	)
	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sealwire",
			Subsystem: "session",
			Name:      "items_total",
			Help:      "Items decoded from peers.",
		},
		[]string{"kind", "name"},
	)
	faultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sealwire",
			Subsystem: "session",
			Name:      "faults_total",
			Help:      "Sessions torn down by a fatal protocol error.",
		},
		[]string{"reason"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sealwire",
			Subsystem: "session",
			Name:      "handshake_duration_seconds",
			Help:      "Key exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "result"},
	)
	activePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sealwire",
			Subsystem: "transport",
			Name:      "active_peers",
			Help:      "Peers with a keyed session.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(chunksTotal, chunkBytes, itemsTotal, faultsTotal, handshakeDuration, activePeers)
	})
}

func RecordChunk(direction string, size int) {
	RegisterMetrics()
	chunksTotal.WithLabelValues(direction).Inc()
	chunkBytes.WithLabelValues(direction).Observe(float64(size))
}

func RecordItem(kind, name string) {
	RegisterMetrics()
	itemsTotal.WithLabelValues(kind, name).Inc()
}

func RecordFault(reason string) {
	RegisterMetrics()
	faultsTotal.WithLabelValues(reason).Inc()
}

func RecordHandshake(role string, duration time.Duration, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	handshakeDuration.WithLabelValues(role, result).Observe(duration.Seconds())
}

func PeerUp() {
	RegisterMetrics()
	activePeers.Inc()
}

func PeerDown() {
	RegisterMetrics()
	activePeers.Dec()
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// ServeMetrics serves /metrics on addr until ctx is canceled.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           RequestLogger(log.With().Str("component", "metrics").Logger(), mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
