package graphqlapp

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// instrumentationName is used to identify the instrumentation in the
// OpenTelemetry collector. It maps to the attribute `otel.library.name`.
const instrumentationName string = "github.com/movio/graphqlapp"

// TelemetryConfig is the configuration for OpenTelemetry tracing and metrics.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`      // Enabled enables OpenTelemetry tracing and metrics.
	Insecure    bool   `json:"insecure"`     // Insecure enables insecure communication with the OpenTelemetry collector.
	Endpoint    string `json:"endpoint"`     // Endpoint is the OpenTelemetry collector endpoint.
	ServiceName string `json:"service_name"` // ServiceName is the name of the service.
}

// TelemetryErrHandler is an error handler that logs errors.
type TelemetryErrHandler struct {
	log *logrus.Logger
}

// Handle implements otel.ErrorHandler.
func (e *TelemetryErrHandler) Handle(err error) {
	e.log.Error(err.Error())
}

// InitTelemetry initializes OpenTelemetry tracing and metrics. It returns a
// shutdown function that should be called when the application terminates.
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (func(context.Context) error, error) {
	// If telemetry is disabled, return a no-op shutdown function. The standard
	// behaviour of the application will not be affected, since a
	// `NoopTracerProvider` is used by default.
	if !cfg.Enabled || cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	var flushAndShutdownFuncs []func(context.Context) error

	// flushAndShutdown calls cleanup functions registered via shutdownFuncs.
	// The errors from the calls are joined.
	// Each registered cleanup will be invoked once.
	flushAndShutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range flushAndShutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		flushAndShutdownFuncs = nil
		return err
	}

	handleErr := func(inErr error) error {
		return errors.Join(inErr, flushAndShutdown(ctx))
	}

	res, err := resources(cfg)
	if err != nil {
		return nil, handleErr(err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetErrorHandler(&TelemetryErrHandler{
		log: logrus.StandardLogger(),
	})

	traceShutdown, err := setupOTelTraceProvider(ctx, cfg, res)
	if err != nil {
		return nil, handleErr(err)
	}

	flushAndShutdownFuncs = append(flushAndShutdownFuncs, traceShutdown...)

	meterShutdown, err := setupOTelMeterProvider(ctx, cfg, res)
	if err != nil {
		return nil, handleErr(err)
	}

	flushAndShutdownFuncs = append(flushAndShutdownFuncs, meterShutdown...)

	return flushAndShutdown, nil
}

func resources(cfg TelemetryConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "graphqlapp"
	}

	return resource.New(context.Background(),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
		),
	)
}

func setupOTelTraceProvider(ctx context.Context, cfg TelemetryConfig, res *resource.Resource) ([]func(context.Context) error, error) {
	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	// Sample every trace without a parent, otherwise follow the parent's
	// sampling decision.
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)),
	)

	otel.SetTracerProvider(tracerProvider)
	return []func(context.Context) error{
		tracerProvider.ForceFlush,
		tracerProvider.Shutdown,
	}, nil
}

func setupOTelMeterProvider(ctx context.Context, cfg TelemetryConfig, res *resource.Resource) ([]func(context.Context) error, error) {
	exporterOpts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)

	otel.SetMeterProvider(meterProvider)
	return []func(context.Context) error{
		meterProvider.ForceFlush,
		meterProvider.Shutdown,
	}, nil
}
