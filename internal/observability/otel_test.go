package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupMetricsServesRegistry(t *testing.T) {
	p, err := Setup(context.Background(), Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		MetricsEnabled: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background(), nil) })
	require.NotNil(t, p.MetricsHandler())
	assert.Nil(t, p.LoggerProvider())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics, err := InitMetrics(logger)
	require.NoError(t, err)
	metrics.RecordOperation(context.Background(), 3*time.Millisecond, "create", "User", nil)
	metrics.RecordEvent(context.Background(), "create", "User")

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relstore_operations")
	assert.Contains(t, rec.Body.String(), `record="User"`)
}

func TestSetupDisabledSignals(t *testing.T) {
	p, err := Setup(context.Background(), Config{ServiceName: "test-service"})
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Shutdown(context.Background(), nil))

	var none *Providers
	assert.NoError(t, none.Shutdown(context.Background(), nil))
}

func TestSetupRejectsUnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), Config{
		TracingEnabled: true,
		Traces:         OTLPExporterConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported OTLP protocol")
}

func TestSetupLogExportOverHTTP(t *testing.T) {
	p, err := Setup(context.Background(), Config{
		LogExport: true,
		Logs:      OTLPExporterConfig{Endpoint: "http://localhost:4318", Protocol: "http/protobuf", Insecure: true},
	})
	require.NoError(t, err)
	assert.NotNil(t, p.LoggerProvider())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Shutdown(ctx, nil)
}

func TestInitMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics, err := InitMetrics(logger)
	require.NoError(t, err, "Should initialize metrics without error")
	require.NotNil(t, metrics, "Metrics should not be nil")

	require.NotNil(t, metrics.operationDuration, "Operation duration metric should be initialized")
	require.NotNil(t, metrics.operationCounter, "Operation counter should be initialized")
	require.NotNil(t, metrics.errorCounter, "Error counter should be initialized")
	require.NotNil(t, metrics.statementCounter, "Statement counter should be initialized")

	// Recording on a nil receiver is a no-op.
	var none *StorageMetrics
	none.RecordOperation(context.Background(), 0, "find", "User", nil)
	metrics.RecordStatement(context.Background(), "query", 0, nil)
}

func TestParseOTLPProtocol(t *testing.T) {
	p, err := parseOTLPProtocol("")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolGRPC, p)

	p, err = parseOTLPProtocol(" HTTP ")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolHTTP, p)
}

func TestRetryWindow(t *testing.T) {
	enabled, _ := retryWindow(OTLPExporterConfig{RetryEnabled: true})
	assert.False(t, enabled)

	enabled, window := retryWindow(OTLPExporterConfig{RetryEnabled: true, RetryMaxAttempts: 3})
	assert.True(t, enabled)
	assert.Equal(t, 15*time.Second, window)
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	// Missing CA file should surface a clear error.
	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: "/nonexistent/ca.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ca.pem"

	// Write a non-PEM payload to trigger parse failure.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestBuildTLSConfig_MissingClientKeyPair(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/client.crt"

	// Only set the cert path to ensure missing key is rejected.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSClientCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	never := traceSamplerForRatio(0)
	always := traceSamplerForRatio(1)

	decisionNever := never.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionNever)

	decisionAlways := always.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionAlways)
}

func TestTraceSamplerForRatio_ParentAwareMidRange(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	parentSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	decisionSampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentSampled,
		TraceID:       trace.TraceID{4},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionSampledParent)

	parentNotSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	decisionUnsampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentNotSampled,
		TraceID:       trace.TraceID{6},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionUnsampledParent)
}
