// Package metrics exposes prometheus instrumentation for the call
// orchestration pipeline.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CallDirectionCounter returns stored call counts grouped by direction.
type CallDirectionCounter interface {
	CountByDirection(ctx context.Context) (map[string]int64, error)
}

// Metrics holds the event counters incremented on the hot paths.
type Metrics struct {
	WebhooksReceived   *prometheus.CounterVec
	RecordingsStarted  prometheus.Counter
	MonoDegradations   prometheus.Counter
	TranscriptJobs     prometheus.Counter
	PipelineFailures   *prometheus.CounterVec
	DuplicatesAbsorbed prometheus.Counter
}

// New creates the counter set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayline_webhooks_received_total",
			Help: "Webhook deliveries received, by kind",
		}, []string{"kind"}),
		RecordingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayline_recordings_started_total",
			Help: "Dual-channel recordings started",
		}),
		MonoDegradations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayline_recording_mono_degradations_total",
			Help: "Recordings that silently degraded from dual to mono",
		}),
		TranscriptJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayline_transcript_jobs_created_total",
			Help: "Transcription jobs created at the provider",
		}),
		PipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayline_pipeline_failures_total",
			Help: "Absorbed failures, by pipeline stage",
		}, []string{"stage"}),
		DuplicatesAbsorbed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayline_webhook_duplicates_total",
			Help: "Webhook redeliveries absorbed by the dedup cache",
		}),
	}

	reg.MustRegister(
		m.WebhooksReceived,
		m.RecordingsStarted,
		m.MonoDegradations,
		m.TranscriptJobs,
		m.PipelineFailures,
		m.DuplicatesAbsorbed,
	)
	return m
}

// Collector gathers scrape-time gauges from the durable store.
type Collector struct {
	calls     CallDirectionCounter
	startTime time.Time

	callsTotalDesc *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewCollector creates a scrape-time collector. calls may be nil.
func NewCollector(calls CallDirectionCounter, startTime time.Time) *Collector {
	return &Collector{
		calls:     calls,
		startTime: startTime,

		callsTotalDesc: prometheus.NewDesc(
			"relayline_calls_total",
			"Stored call records, by direction",
			[]string{"direction"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"relayline_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the store at scrape
// time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		counts, err := c.calls.CountByDirection(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by direction", "error", err)
		} else {
			for _, dir := range []string{"inbound", "outbound"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.GaugeValue,
					float64(counts[dir]), dir,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.CounterValue,
		time.Since(c.startTime).Seconds(),
	)
}
