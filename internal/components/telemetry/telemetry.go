// Package telemetry implements a telemetry component, adapted to this
// module's Factory shape: service_name now comes straight from this
// component's own section instead of being injected by an outer APPInfo
// struct, since there is no such outer struct in this model.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// Provider owns the trace/meter SDK providers, reachable through
// bc.FindComponent(consts.ComponentTelemetry) by anything that wants its
// own Tracer (httpclient looks it up only to decide whether to use its
// otelhttp transport).
type Provider struct {
	cfg           Config
	tp            *sdktrace.TracerProvider
	mp            *sdkmetric.MeterProvider
	shutdownFuncs []func(context.Context) error
}

// Factory builds the resource, trace provider and meter provider for the
// configured exporter, installs them as the process-wide otel globals, and
// returns the Provider.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("telemetry: component disabled")
		}
		cfg.applyDefaults()
		if cfg.ServiceName == "" {
			return nil, fmt.Errorf("telemetry: service_name must be set")
		}

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("telemetry: logging component has unexpected type %T", loggerComp)
		}

		ctx := context.Background()
		res, err := resource.New(ctx,
			resource.WithFromEnv(),
			resource.WithProcess(),
			resource.WithOS(),
			resource.WithHost(),
			resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: resource init: %w", err)
		}

		p := &Provider{cfg: cfg}
		if err := p.initTracing(ctx, res); err != nil {
			return nil, err
		}
		if err := p.initMetrics(ctx, res); err != nil {
			p.shutdown(ctx)
			return nil, err
		}

		otel.SetTracerProvider(p.tp)
		otel.SetMeterProvider(p.mp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		logger.Info(ctx, "telemetry component started",
			zap.String("exporter", string(cfg.Exporter)),
			zap.Float64("sample_ratio", cfg.SampleRatio),
			zap.String("service_name", cfg.ServiceName),
		)
		return p, nil
	}
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	var (
		exp sdktrace.SpanExporter
		err error
	)

	switch p.cfg.Exporter {
	case ExporterStdout:
		writer, errW := p.stdoutWriter()
		if errW != nil {
			return errW
		}
		opts := []stdouttrace.Option{stdouttrace.WithWriter(writer)}
		if p.cfg.StdoutPretty {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		exp, err = stdouttrace.New(opts...)
	case ExporterOTLP:
		if p.cfg.OTLP == nil || p.cfg.OTLP.Endpoint == "" {
			return errors.New("telemetry: otlp exporter selected but otlp.endpoint empty")
		}
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(p.cfg.OTLP.Endpoint),
			otlptracegrpc.WithTimeout(p.cfg.otlpTimeout()),
		}
		if p.cfg.OTLP.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithBlock()))
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	default:
		return fmt.Errorf("telemetry: unsupported exporter %q", p.cfg.Exporter)
	}
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter init: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.cfg.SampleRatio))
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	p.shutdownFuncs = append(p.shutdownFuncs, func(c context.Context) error {
		c2, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		return p.tp.Shutdown(c2)
	})
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	var (
		err  error
		mExp sdkmetric.Exporter
	)

	switch p.cfg.Exporter {
	case ExporterStdout:
		writer, errW := p.stdoutWriter()
		if errW != nil {
			return errW
		}
		mExp, err = stdoutmetric.New(stdoutmetric.WithWriter(writer))
	case ExporterOTLP:
		if p.cfg.OTLP == nil || p.cfg.OTLP.Endpoint == "" {
			return errors.New("telemetry: otlp exporter selected but otlp.endpoint empty (metrics)")
		}
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(p.cfg.OTLP.Endpoint),
			otlpmetricgrpc.WithTimeout(p.cfg.otlpTimeout()),
		}
		if p.cfg.OTLP.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		} else {
			opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithBlock()))
		}
		mExp, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		return fmt.Errorf("telemetry: unsupported exporter %q", p.cfg.Exporter)
	}
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter init: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(mExp, sdkmetric.WithInterval(15*time.Second))
	p.mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	p.shutdownFuncs = append(p.shutdownFuncs, func(c context.Context) error {
		c2, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		return p.mp.Shutdown(c2)
	})
	return nil
}

func (p *Provider) stdoutWriter() (io.Writer, error) {
	if p.cfg.StdoutFile == "" {
		return os.Stdout, nil
	}
	f, err := os.OpenFile(p.cfg.StdoutFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open stdout file: %w", err)
	}
	p.shutdownFuncs = append(p.shutdownFuncs, func(ctx context.Context) error {
		return f.Close()
	})
	return f, nil
}

func (p *Provider) shutdown(ctx context.Context) {
	for i := len(p.shutdownFuncs) - 1; i >= 0; i-- {
		_ = p.shutdownFuncs[i](ctx)
	}
}

// Tracer returns a named tracer from the provider, or the otel global if
// the provider somehow failed to initialize.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// ClearComponent shuts every registered exporter/provider down in reverse
// registration order, matching Stop().
func (p *Provider) ClearComponent() {
	p.shutdown(context.Background())
}
