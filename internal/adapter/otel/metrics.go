package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "webscout"

// Metrics holds all WebScout metric instruments.
type Metrics struct {
	TasksSubmitted metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TasksCancelled metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	PagesVisited   metric.Int64Counter
	AgentCalls     metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("webscout.tasks.submitted",
		metric.WithDescription("Number of research tasks submitted"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("webscout.tasks.completed",
		metric.WithDescription("Number of research tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("webscout.tasks.failed",
		metric.WithDescription("Number of research tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TasksCancelled, err = meter.Int64Counter("webscout.tasks.cancelled",
		metric.WithDescription("Number of research tasks cancelled"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("webscout.task.duration_seconds",
		metric.WithDescription("Research task duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.PagesVisited, err = meter.Int64Counter("webscout.pages.visited",
		metric.WithDescription("Number of pages navigated by browser tools"))
	if err != nil {
		return nil, err
	}

	m.AgentCalls, err = meter.Int64Counter("webscout.agent.calls",
		metric.WithDescription("Number of calls to the research agent"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
