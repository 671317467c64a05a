package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StorageMetrics holds the metrics of storage operations and SQL statements.
type StorageMetrics struct {
	operationDuration metric.Float64Histogram
	operationCounter  metric.Int64Counter
	errorCounter      metric.Int64Counter
	activeOperations  metric.Int64UpDownCounter
	recordsCount      metric.Int64Histogram
	eventCounter      metric.Int64Counter
	statementCounter  metric.Int64Counter
	statementDuration metric.Float64Histogram
}

// InitStorageMetrics initializes storage metrics on the global meter provider.
func InitStorageMetrics() (*StorageMetrics, error) {
	meter := otel.Meter("relstore")

	operationDuration, err := meter.Float64Histogram(
		"relstore.operation.duration",
		metric.WithDescription("Duration of storage operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	operationCounter, err := meter.Int64Counter(
		"relstore.operations.total",
		metric.WithDescription("Total number of storage operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"relstore.errors.total",
		metric.WithDescription("Total number of failed storage operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeOperations, err := meter.Int64UpDownCounter(
		"relstore.operations.active",
		metric.WithDescription("Number of storage operations in progress"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active operations counter: %w", err)
	}

	recordsCount, err := meter.Int64Histogram(
		"relstore.records.count",
		metric.WithDescription("Number of records returned or affected by an operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records count histogram: %w", err)
	}

	eventCounter, err := meter.Int64Counter(
		"relstore.events.total",
		metric.WithDescription("Total number of mutation events emitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event counter: %w", err)
	}

	statementCounter, err := meter.Int64Counter(
		"relstore.sql.statements.total",
		metric.WithDescription("Total number of SQL statements executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement counter: %w", err)
	}

	statementDuration, err := meter.Float64Histogram(
		"relstore.sql.statement.duration",
		metric.WithDescription("Duration of SQL statements in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement duration histogram: %w", err)
	}

	return &StorageMetrics{
		operationDuration: operationDuration,
		operationCounter:  operationCounter,
		errorCounter:      errorCounter,
		activeOperations:  activeOperations,
		recordsCount:      recordsCount,
		eventCounter:      eventCounter,
		statementCounter:  statementCounter,
		statementDuration: statementDuration,
	}, nil
}

// RecordOperation records a storage operation with its duration and outcome.
func (m *StorageMetrics) RecordOperation(ctx context.Context, duration time.Duration, operation, record string, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("record", record),
		attribute.Bool("has_errors", err != nil),
	}
	m.operationDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.operationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// RecordRecordsCount records how many records an operation returned.
func (m *StorageMetrics) RecordRecordsCount(ctx context.Context, count int64, operation string) {
	if m == nil {
		return
	}
	m.recordsCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordEvent counts one emitted mutation event.
func (m *StorageMetrics) RecordEvent(ctx context.Context, eventType, record string) {
	if m == nil {
		return
	}
	m.eventCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("record", record),
	))
}

// RecordStatement records one executed SQL statement.
func (m *StorageMetrics) RecordStatement(ctx context.Context, kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("has_errors", err != nil),
	)
	m.statementCounter.Add(ctx, 1, attrs)
	m.statementDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// IncrementActiveOperations increments the active operations counter.
func (m *StorageMetrics) IncrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, 1)
}

// DecrementActiveOperations decrements the active operations counter.
func (m *StorageMetrics) DecrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the StorageMetrics instance.
func InitMetrics(logger *slog.Logger) (*StorageMetrics, error) {
	metrics, err := InitStorageMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage metrics: %w", err)
	}

	logger.Info("storage metrics initialized")
	return metrics, nil
}
