package otelcol

import (
	"context"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module installs the global tracer provider. Without OTEL.ADDR spans stay on
// the no-op provider.
var Module = fx.Module("otelcol", fx.Invoke(registerTracing))

func defaultTraceProviderOption(cfg *config.Config) []trace.TracerProviderOption {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		res = resource.Default()
	}
	return []trace.TracerProviderOption{
		trace.WithResource(res),
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func registerTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		zap.L().Info("tracing exporter disabled")
		return nil
	}

	var exporter trace.SpanExporter
	var err error
	switch cfg.Otel.Protocol {
	case "grpc":
		exporter, err = exporters.ProvideGrpc(cfg)
	default:
		exporter, err = exporters.ProvideHttp(cfg)
	}
	if err != nil {
		return err
	}

	tp := ProvideTrace(exporter, defaultTraceProviderOption(cfg)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	zap.L().Info("tracing exporter enabled", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
