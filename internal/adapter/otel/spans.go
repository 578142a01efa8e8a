package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "webscout"

// StartTaskSpan starts a span covering a research task execution.
func StartTaskSpan(ctx context.Context, taskID, engine string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.search_engine", engine),
		),
	)
}

// StartNavigationSpan starts a span for a browser navigation.
func StartNavigationSpan(ctx context.Context, taskID, url string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "navigate",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("page.url", url),
		),
	)
}

// StartAgentCallSpan starts a span for a call to the research agent.
func StartAgentCallSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.research",
		trace.WithAttributes(
			attribute.String("task.id", taskID)),
	)
}
