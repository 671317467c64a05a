package storage

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relstore/internal/storeerr"
)

func startOperationSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relstore/storage")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishOperationSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case storeerr.IsProgrammer(err):
		outcome = "programmer_error"
	case storeerr.IsConflict(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	span.SetAttributes(attribute.String("relstore.operation.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
