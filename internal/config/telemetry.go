package config

import "relstore/internal/observability"

// Telemetry returns the provider configuration for the observability and log
// sections, with the per-signal OTLP overrides applied.
func (c *Config) Telemetry() observability.Config {
	return observability.Config{
		ServiceName:      c.Observability.ServiceName,
		ServiceVersion:   c.Observability.ServiceVersion,
		Environment:      c.Observability.Environment,
		MetricsEnabled:   c.Observability.MetricsEnabled,
		TracingEnabled:   c.Observability.TracingEnabled,
		LogExport:        c.Log.ExportsEnabled,
		TraceSampleRatio: c.Observability.TraceSampleRatio,
		Traces:           c.Observability.GetTracesConfig().exporter(),
		Logs:             c.Observability.GetLogsConfig().exporter(),
	}
}

func (o OTLPConfig) exporter() observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          o.Endpoint,
		Protocol:          o.Protocol,
		Insecure:          o.Insecure,
		TLSCertFile:       o.TLSCertFile,
		TLSClientCertFile: o.TLSClientCertFile,
		TLSClientKeyFile:  o.TLSClientKeyFile,
		Headers:           o.Headers,
		Timeout:           o.Timeout,
		Compression:       o.Compression,
		RetryEnabled:      o.RetryEnabled,
		RetryMaxAttempts:  o.RetryMaxAttempts,
	}
}
