// Package telemetry provides Prometheus metrics for the channel monitors and the Kick client.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PollsTotal       *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	NextWaitSeconds  *prometheus.GaugeVec
	APIRequestTime   *prometheus.HistogramVec
	CircuitOpenGauge prometheus.Gauge // 1=open,0=closed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kickminer_polls_total",
			Help: "Poll cycles by channel, outcome and reason",
		}, []string{"channel", "outcome", "reason"})
		MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kickminer_messages_sent_total",
			Help: "Chat messages sent by channel",
		}, []string{"channel"})
		NextWaitSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kickminer_next_wait_seconds",
			Help: "Sleep chosen after the last poll cycle",
		}, []string{"channel"})
		APIRequestTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kickminer_api_request_duration_seconds",
			Help:    "Kick API request duration seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"})
		CircuitOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kickminer_circuit_open",
			Help: "Kick API circuit breaker open=1 closed=0",
		})
	})
}

// ObservePoll records one finished poll cycle. No-op before Init.
func ObservePoll(channel, outcome, reason string, wait time.Duration) {
	if PollsTotal == nil {
		return
	}
	PollsTotal.WithLabelValues(channel, outcome, reason).Inc()
	NextWaitSeconds.WithLabelValues(channel).Set(wait.Seconds())
	if outcome == "sent" {
		MessagesSent.WithLabelValues(channel).Inc()
	}
}

// ObserveRequest records the duration of one API call.
func ObserveRequest(endpoint string, d time.Duration) {
	if APIRequestTime != nil {
		APIRequestTime.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if CircuitOpenGauge == nil {
		return
	}
	if open {
		CircuitOpenGauge.Set(1)
	} else {
		CircuitOpenGauge.Set(0)
	}
}

// Handler exposes /metrics and a trivial /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics server until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
