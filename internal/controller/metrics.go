package controller

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/voicepay/controller"

// Instrument names shared with the runtime's metric views.
const (
	MetricPaymentAmount  = "voicepay.payment.amount"
	MetricListenDuration = "voicepay.listen.duration"
)

type instruments struct {
	commands   metric.Int64Counter
	stales     metric.Int64Counter
	rejections metric.Int64Counter
	utterances metric.Int64Counter
	payments   metric.Int64Histogram
	listening  metric.Float64Histogram
}

func newInstruments(log *slog.Logger) *instruments {
	meter := otel.Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			log.Warn("failed to initialize metric", slog.String("metric", name), slogError(err))
			c, _ = noop.Meter{}.Int64Counter(name)
		}
		return c
	}
	payments, err := meter.Int64Histogram(MetricPaymentAmount,
		metric.WithDescription("Confirmed payment amounts"), metric.WithUnit("{IDR}"))
	if err != nil {
		log.Warn("failed to initialize metric", slog.String("metric", MetricPaymentAmount), slogError(err))
		payments, _ = noop.Meter{}.Int64Histogram(MetricPaymentAmount)
	}
	listening, err := meter.Float64Histogram(MetricListenDuration,
		metric.WithDescription("How long the microphone stayed open"), metric.WithUnit("s"))
	if err != nil {
		log.Warn("failed to initialize metric", slog.String("metric", MetricListenDuration), slogError(err))
		listening, _ = noop.Meter{}.Float64Histogram(MetricListenDuration)
	}
	return &instruments{
		commands:   counter("voicepay.commands", "Commands applied to the navigation machine"),
		stales:     counter("voicepay.commands.stale", "Commands discarded because the screen moved on"),
		rejections: counter("voicepay.input.rejected", "Payment triggers rejected for a missing or invalid amount"),
		utterances: counter("voicepay.utterances", "Speech output lifecycle events"),
		payments:   payments,
		listening:  listening,
	}
}

func newTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func (m *instruments) command(ctx context.Context, source, kind string, changed bool) {
	m.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("kind", kind),
		attribute.Bool("changed", changed),
	))
}

func (m *instruments) stale(ctx context.Context, source string) {
	m.stales.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *instruments) rejected(ctx context.Context) {
	m.rejections.Add(ctx, 1)
}

func (m *instruments) utterance(ctx context.Context, kind string) {
	m.utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("event", kind)))
}

func (m *instruments) payment(ctx context.Context, method string, amount int64) {
	m.payments.Record(ctx, amount, metric.WithAttributes(attribute.String("method", method)))
}

func (m *instruments) listened(ctx context.Context, d time.Duration) {
	m.listening.Record(ctx, d.Seconds())
}
