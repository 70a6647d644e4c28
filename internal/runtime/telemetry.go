package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/voicepay/internal/config"
	"github.com/loqalabs/voicepay/internal/controller"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
)

const applySpan = "kiosk.apply"

// Rupiah amounts a kiosk typically takes, from coffee to groceries.
var paymentBuckets = []float64{5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000}

// A customer usually speaks for a few seconds; a forgotten microphone runs on.
var listenBuckets = []float64{1, 2, 5, 10, 20, 30, 60, 120}

type telemetry struct {
	metrics  http.Handler
	shutdown func(context.Context) error
}

// setupTelemetry installs the global tracer and meter providers for one
// kiosk. Spans and metrics carry the kiosk's node id and build version.
func setupTelemetry(cfg config.Config, version string, logger *slog.Logger) (*telemetry, error) {
	res, err := kioskResource(cfg, version)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp, err := newTracerProvider(cfg, res, logger)
	if err != nil {
		return nil, err
	}
	mp, handler := newMeterProvider(res, logger)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &telemetry{
		metrics: handler,
		shutdown: func(ctx context.Context) error {
			return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
		},
	}, nil
}

func kioskResource(cfg config.Config, version string) (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceVersion(version),
			semconv.ServiceInstanceID(cfg.Node.ID),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("kiosk.language", cfg.Kiosk.Language),
			attribute.String("kiosk.merchant_id", cfg.Kiosk.MerchantID),
		),
	)
}

// newTracerProvider exports to OTLP when an endpoint is set, to stdout in
// development, and nowhere otherwise. Spans are still created without an
// exporter so trace ids reach the logs.
func newTracerProvider(cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(voiceFirstSampler{
			fallback: sdktrace.TraceIDRatioBased(cfg.Telemetry.TraceRatio),
		})),
	}
	exporter := "none"
	switch endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); {
	case endpoint != "":
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(context.Background(), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		exporter = "otlp"
	case cfg.Environment == "development":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		exporter = "stdout"
	}
	logger.Info("tracing initialized",
		slog.String("exporter", exporter),
		slog.Float64("trace_ratio", cfg.Telemetry.TraceRatio))
	return sdktrace.NewTracerProvider(opts...), nil
}

// newMeterProvider serves the kiosk's instruments for Prometheus. Payment
// amounts and microphone time get buckets sized for a kiosk rather than the
// SDK's latency defaults.
func newMeterProvider(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithView(
			histogramView(controller.MetricPaymentAmount, paymentBuckets),
			histogramView(controller.MetricListenDuration, listenBuckets),
		),
	}
	exp, err := prometheus.New()
	if err != nil {
		logger.Warn("prometheus exporter unavailable, metrics are not served", slogError(err))
		return sdkmetric.NewMeterProvider(opts...), nil
	}
	return sdkmetric.NewMeterProvider(append(opts, sdkmetric.WithReader(exp))...), promhttp.Handler()
}

func histogramView(name string, bounds []float64) sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: name},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
	)
}

// voiceFirstSampler always records command spans started from speech and
// leaves the rest to fallback.
type voiceFirstSampler struct {
	fallback sdktrace.Sampler
}

func (s voiceFirstSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if p.Name == applySpan {
		for _, kv := range p.Attributes {
			if kv.Key == "source" && kv.Value.AsString() == controller.SourceVoice {
				return sdktrace.SamplingResult{
					Decision:   sdktrace.RecordAndSample,
					Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
				}
			}
		}
	}
	return s.fallback.ShouldSample(p)
}

func (s voiceFirstSampler) Description() string {
	return fmt.Sprintf("VoiceFirst{%s}", s.fallback.Description())
}
