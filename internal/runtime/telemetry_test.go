package runtime

import (
	"context"
	"slices"
	"testing"

	"github.com/loqalabs/voicepay/internal/controller"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestVoiceFirstSampler(t *testing.T) {
	sampler := voiceFirstSampler{fallback: sdktrace.NeverSample()}
	cases := []struct {
		name   string
		span   string
		source string
		want   sdktrace.SamplingDecision
	}{
		{"voice command", applySpan, controller.SourceVoice, sdktrace.RecordAndSample},
		{"ui command", applySpan, controller.SourceUI, sdktrace.Drop},
		{"other span", "kiosk.persist", controller.SourceVoice, sdktrace.Drop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := sampler.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				Name:          tc.span,
				Attributes:    []attribute.KeyValue{attribute.String("source", tc.source)},
			})
			if res.Decision != tc.want {
				t.Fatalf("expected decision %v, got %v", tc.want, res.Decision)
			}
		})
	}
	if got := sampler.Description(); got != "VoiceFirst{AlwaysOffSampler}" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestHistogramViewsUseKioskBuckets(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(
			histogramView(controller.MetricPaymentAmount, paymentBuckets),
			histogramView(controller.MetricListenDuration, listenBuckets),
		),
	)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	meter := mp.Meter("voicepay/test")
	amounts, err := meter.Int64Histogram(controller.MetricPaymentAmount)
	if err != nil {
		t.Fatalf("payment histogram: %v", err)
	}
	listening, err := meter.Float64Histogram(controller.MetricListenDuration)
	if err != nil {
		t.Fatalf("listen histogram: %v", err)
	}
	amounts.Record(context.Background(), 25000)
	listening.Record(context.Background(), 3.5)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	bounds := map[string][]float64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Histogram[int64]:
				bounds[m.Name] = data.DataPoints[0].Bounds
			case metricdata.Histogram[float64]:
				bounds[m.Name] = data.DataPoints[0].Bounds
			}
		}
	}
	if !slices.Equal(bounds[controller.MetricPaymentAmount], paymentBuckets) {
		t.Fatalf("payment buckets %v", bounds[controller.MetricPaymentAmount])
	}
	if !slices.Equal(bounds[controller.MetricListenDuration], listenBuckets) {
		t.Fatalf("listen buckets %v", bounds[controller.MetricListenDuration])
	}
}
