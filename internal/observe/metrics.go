// Package observe wires OpenTelemetry metrics and HTTP instrumentation for
// the lingopair server. Metrics are exported through a Prometheus bridge and
// scraped from the /metrics endpoint.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lingopair/lingopair"

// latencyBuckets covers the range of model-call latencies seen in practice,
// from sub-100ms cached responses up to the per-stage deadlines.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30}

// Metrics bundles every instrument the server records. Construct one with
// [NewMetrics] or share the process-wide instance from [DefaultMetrics].
type Metrics struct {
	// Stage latencies, in seconds, labeled by provider name.
	ASRDuration metric.Float64Histogram
	MTDuration  metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// UtteranceDuration measures captured speech length per finalized
	// utterance, in seconds.
	UtteranceDuration metric.Float64Histogram

	// PipelineDuration measures end-to-end time from utterance close to
	// synthesized audio ready, in seconds.
	PipelineDuration metric.Float64Histogram

	HTTPRequestDuration metric.Float64Histogram

	ActiveRooms       metric.Int64UpDownCounter
	ActiveConnections metric.Int64UpDownCounter

	UtterancesTotal metric.Int64Counter
	PartialsTotal   metric.Int64Counter
	DroppedTotal    metric.Int64Counter
	ProviderErrors  metric.Int64Counter
}

// NewMetrics creates all instruments on the given meter provider. Pass nil to
// use the globally registered provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.ASRDuration, err = meter.Float64Histogram("lingopair.asr.duration",
		metric.WithDescription("Speech recognition call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, fmt.Errorf("observe: asr duration histogram: %w", err)
	}
	if m.MTDuration, err = meter.Float64Histogram("lingopair.mt.duration",
		metric.WithDescription("Translation call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, fmt.Errorf("observe: mt duration histogram: %w", err)
	}
	if m.TTSDuration, err = meter.Float64Histogram("lingopair.tts.duration",
		metric.WithDescription("Speech synthesis call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, fmt.Errorf("observe: tts duration histogram: %w", err)
	}
	if m.UtteranceDuration, err = meter.Float64Histogram("lingopair.utterance.duration",
		metric.WithDescription("Captured speech length per finalized utterance"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("observe: utterance duration histogram: %w", err)
	}
	if m.PipelineDuration, err = meter.Float64Histogram("lingopair.pipeline.duration",
		metric.WithDescription("Utterance close to synthesized audio ready"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, fmt.Errorf("observe: pipeline duration histogram: %w", err)
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("lingopair.http.request.duration",
		metric.WithDescription("HTTP request handling latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("observe: http request duration histogram: %w", err)
	}
	if m.ActiveRooms, err = meter.Int64UpDownCounter("lingopair.rooms.active",
		metric.WithDescription("Rooms currently registered"),
	); err != nil {
		return nil, fmt.Errorf("observe: active rooms counter: %w", err)
	}
	if m.ActiveConnections, err = meter.Int64UpDownCounter("lingopair.connections.active",
		metric.WithDescription("Open WebSocket connections"),
	); err != nil {
		return nil, fmt.Errorf("observe: active connections counter: %w", err)
	}
	if m.UtterancesTotal, err = meter.Int64Counter("lingopair.utterances.total",
		metric.WithDescription("Finalized utterances entering the pipeline"),
	); err != nil {
		return nil, fmt.Errorf("observe: utterances counter: %w", err)
	}
	if m.PartialsTotal, err = meter.Int64Counter("lingopair.partials.total",
		metric.WithDescription("Interim transcripts produced"),
	); err != nil {
		return nil, fmt.Errorf("observe: partials counter: %w", err)
	}
	if m.DroppedTotal, err = meter.Int64Counter("lingopair.dropped.total",
		metric.WithDescription("Utterance results discarded before delivery, labeled by reason"),
	); err != nil {
		return nil, fmt.Errorf("observe: dropped counter: %w", err)
	}
	if m.ProviderErrors, err = meter.Int64Counter("lingopair.provider.errors",
		metric.WithDescription("Failed provider calls, labeled by capability and provider"),
	); err != nil {
		return nil, fmt.Errorf("observe: provider errors counter: %w", err)
	}

	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide Metrics instance built on the global
// meter provider. Instrument creation errors are deferred to a panic because
// they indicate a programming error, not a runtime condition.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(nil)
		if err != nil {
			panic(fmt.Sprintf("observe: default metrics: %v", err))
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for a string attribute in metric recording calls.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records one provider call on the matching stage histogram and,
// on failure, the provider error counter. capability is one of "asr", "mt",
// "tts".
func (m *Metrics) RecordStage(ctx context.Context, capability, provider string, seconds float64, err error) {
	attrs := metric.WithAttributes(Attr("provider", provider))
	switch capability {
	case "asr":
		m.ASRDuration.Record(ctx, seconds, attrs)
	case "mt":
		m.MTDuration.Record(ctx, seconds, attrs)
	case "tts":
		m.TTSDuration.Record(ctx, seconds, attrs)
	}
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			Attr("capability", capability),
			Attr("provider", provider),
		))
	}
}
