package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for visitnote.
type Metrics struct {
	Registry *prometheus.Registry

	// Request client
	CompletionAttempts *prometheus.CounterVec
	CompletionRetries  *prometheus.CounterVec
	CompletionOutcomes *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec

	// Recorder
	Recordings        prometheus.Counter
	RecordingDuration prometheus.Histogram

	// Live session
	LiveSessions       *prometheus.CounterVec
	LiveActive         prometheus.Gauge
	LiveFramesSent     prometheus.Counter
	LiveFramesDropped  prometheus.Counter
	LiveClipsScheduled prometheus.Counter
	LiveInterruptions  prometheus.Counter
	LiveTurns          prometheus.Counter
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CompletionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitnote_completion_attempts_total",
			Help: "Total number of requests sent to the completion service",
		}, []string{"operation"}),
		CompletionRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitnote_completion_retries_total",
			Help: "Total number of retries after transient completion failures",
		}, []string{"operation"}),
		CompletionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitnote_completion_outcomes_total",
			Help: "Completion calls by final outcome",
		}, []string{"operation", "outcome"}),
		CompletionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visitnote_completion_duration_seconds",
			Help:    "Wall time of completion calls including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"operation"}),

		Recordings: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitnote_recordings_total",
			Help: "Total number of finalized recordings",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "visitnote_recording_duration_seconds",
			Help:    "Length of finalized recordings",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),

		LiveSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitnote_live_sessions_total",
			Help: "Live sessions by terminal state",
		}, []string{"result"}),
		LiveActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "visitnote_live_sessions_active",
			Help: "Number of open live sessions",
		}),
		LiveFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitnote_live_frames_sent_total",
			Help: "Microphone frames sent upstream",
		}),
		LiveFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitnote_live_frames_dropped_total",
			Help: "Microphone frames dropped because the outbound queue was full",
		}),
		LiveClipsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitnote_live_clips_scheduled_total",
			Help: "Inbound audio clips scheduled for playback",
		}),
		LiveInterruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitnote_live_interruptions_total",
			Help: "Barge-in interruptions received from the service",
		}),
		LiveTurns: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitnote_live_turns_total",
			Help: "Completed conversational turns",
		}),
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics listener started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
