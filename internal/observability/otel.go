// Package observability provides OpenTelemetry integration for metrics, tracing, and logging.
// Metrics are exposed through a Prometheus registry; traces and logs are exported over OTLP
// (gRPC or HTTP).
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	MetricsEnabled   bool
	TracingEnabled   bool
	LogExport        bool
	TraceSampleRatio float64
	Traces           OTLPExporterConfig
	Logs             OTLPExporterConfig
}

// OTLPExporterConfig holds OTLP exporter configuration options
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

const shutdownTimeout = 5 * time.Second

// Providers bundles the telemetry providers enabled by Config. Disabled
// signals are left nil and every method tolerates that.
type Providers struct {
	meter    *metric.MeterProvider
	registry *promclient.Registry
	tracer   *sdktrace.TracerProvider
	logs     *log.LoggerProvider
}

// Setup creates the enabled providers and installs the meter and tracer
// providers globally.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	p := &Providers{}

	if cfg.MetricsEnabled {
		p.registry = promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.meter = metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		)
		otel.SetMeterProvider(p.meter)
	}

	if cfg.TracingEnabled {
		exporter, err := newTraceExporter(ctx, cfg.Traces)
		if err != nil {
			_ = p.Shutdown(ctx, nil)
			return nil, err
		}
		p.tracer = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(traceSamplerForRatio(cfg.TraceSampleRatio)),
		)
		otel.SetTracerProvider(p.tracer)
	}

	if cfg.LogExport {
		exporter, err := newLogExporter(ctx, cfg.Logs)
		if err != nil {
			_ = p.Shutdown(ctx, nil)
			return nil, err
		}
		p.logs = log.NewLoggerProvider(
			log.WithResource(res),
			log.WithProcessor(log.NewBatchProcessor(exporter)),
		)
	}
	return p, nil
}

// MetricsHandler serves the Prometheus registry, or nil when metrics are off.
func (p *Providers) MetricsHandler() http.Handler {
	if p == nil || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// LoggerProvider returns the OTLP logger provider, or nil when log export is off.
func (p *Providers) LoggerProvider() *log.LoggerProvider {
	if p == nil {
		return nil
	}
	return p.logs
}

// Shutdown flushes and stops every provider. Logs go to logger when set.
func (p *Providers) Shutdown(ctx context.Context, logger *slog.Logger) error {
	if p == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	stop := func(name string, fn func(context.Context) error) {
		if err := fn(shutdownCtx); err != nil {
			if logger != nil {
				logger.Error("failed to shutdown "+name+" provider", slog.String("error", err.Error()))
			}
			errs = append(errs, fmt.Errorf("%s provider: %w", name, err))
			return
		}
		if logger != nil {
			logger.Debug(name + " provider shutdown successfully")
		}
	}
	// Logs last so the shutdown of the other providers can still be exported.
	if p.meter != nil {
		stop("meter", p.meter.Shutdown)
	}
	if p.tracer != nil {
		stop("tracer", p.tracer.Shutdown)
	}
	if p.logs != nil {
		stop("logger", p.logs.Shutdown)
	}
	return errors.Join(errs...)
}

func newResource(cfg Config) (*resource.Resource, error) {
	// No schema URL, so the merge with resource.Default cannot conflict.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func traceSamplerForRatio(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
