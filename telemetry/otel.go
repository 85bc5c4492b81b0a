package telemetry

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// otelProvider owns the OpenTelemetry SDK pipeline: a batching trace
// exporter and a periodic metric reader, both shipping to one OTLP/HTTP
// endpoint. Registry is the only caller; every exported metric function
// in this package except TrackGoroutines ultimately goes through its
// record method.
type otelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	shutdownOnce sync.Once
}

func newOTelProvider(serviceName, endpoint string) (*otelProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetrichttp.New(context.Background(), otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &otelProvider{
		tracer:         tp.Tracer(serviceName),
		meter:          mp.Meter(serviceName),
		traceProvider:  tp,
		metricProvider: mp,
	}, nil
}

// record routes a value to a counter or histogram based on the metric
// name, so call sites never have to pick an instrument type themselves.
func (o *otelProvider) record(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	ctx := context.Background()
	if containsAny(name, "duration", "latency", "time_ms") {
		h, _ := o.meter.Float64Histogram(name)
		h.Record(ctx, value, metric.WithAttributes(attrs...))
		return
	}
	if containsAny(name, "count", "total", "errors", "error", "success", "retries", "calls") {
		c, _ := o.meter.Float64Counter(name)
		c.Add(ctx, value, metric.WithAttributes(attrs...))
		return
	}
	h, _ := o.meter.Float64Histogram(name)
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}

func (o *otelProvider) shutdown(ctx context.Context) error {
	var err error
	o.shutdownOnce.Do(func() {
		if tErr := o.traceProvider.Shutdown(ctx); tErr != nil {
			err = tErr
		}
		if mErr := o.metricProvider.Shutdown(ctx); mErr != nil && err == nil {
			err = mErr
		}
	})
	return err
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
