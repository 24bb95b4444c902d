// Package telemetry holds the OpenTelemetry instruments recorded by the
// engine and the notification hub.
//
// Metrics are collected by a MeterProvider built in Setup. With stdout
// disabled the provider has no readers and recording is effectively free.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationScope = "guardrails"

const stdoutInterval = 15 * time.Second

type Instruments struct {
	submissions       metric.Int64Counter
	decisions         metric.Int64Counter
	decisionConflicts metric.Int64Counter
	decisionLatency   metric.Float64Histogram
	workflows         metric.Int64Counter
	advisoryTokens    metric.Int64Counter
	droppedEvents     metric.Int64Counter
}

// Setup builds a MeterProvider, installs it globally and returns it so the
// caller can Shutdown on exit.
func Setup(stdout bool) (*sdkmetric.MeterProvider, error) {
	var opts []sdkmetric.Option
	if stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(stdoutInterval)),
		))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Meter returns the guardrails meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

func New(m metric.Meter) (*Instruments, error) {
	var ins Instruments
	var err error
	if ins.submissions, err = m.Int64Counter("guardrails.validations.submitted",
		metric.WithDescription("Validation requests accepted into the queue")); err != nil {
		return nil, err
	}
	if ins.decisions, err = m.Int64Counter("guardrails.validations.decided",
		metric.WithDescription("Terminal decisions applied")); err != nil {
		return nil, err
	}
	if ins.decisionConflicts, err = m.Int64Counter("guardrails.validations.already_decided",
		metric.WithDescription("Decision attempts rejected because the request had left pending")); err != nil {
		return nil, err
	}
	if ins.decisionLatency, err = m.Float64Histogram("guardrails.validations.response_time",
		metric.WithDescription("Time from submission to decision"),
		metric.WithUnit("min")); err != nil {
		return nil, err
	}
	if ins.workflows, err = m.Int64Counter("guardrails.workflows.created",
		metric.WithDescription("Coordination workflows created")); err != nil {
		return nil, err
	}
	if ins.advisoryTokens, err = m.Int64Counter("guardrails.advisory.tokens",
		metric.WithDescription("Tokens consumed by advisory analysis"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if ins.droppedEvents, err = m.Int64Counter("guardrails.notifications.dropped",
		metric.WithDescription("Notifications not delivered to a destination")); err != nil {
		return nil, err
	}
	return &ins, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	ins, err := New(metricnoop.NewMeterProvider().Meter(instrumentationScope))
	if err != nil {
		panic(err)
	}
	return ins
}

func (i *Instruments) Submission(ctx context.Context, validationType string, urgent bool) {
	i.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("validation_type", validationType),
		attribute.Bool("urgent", urgent),
	))
}

func (i *Instruments) Decision(ctx context.Context, status string, responseTime time.Duration) {
	attrs := metric.WithAttributes(attribute.String("decision", status))
	i.decisions.Add(ctx, 1, attrs)
	i.decisionLatency.Record(ctx, responseTime.Minutes(), attrs)
}

func (i *Instruments) AlreadyDecided(ctx context.Context) {
	i.decisionConflicts.Add(ctx, 1)
}

func (i *Instruments) Workflow(ctx context.Context, workflowType, status string) {
	i.workflows.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_type", workflowType),
		attribute.String("status", status),
	))
}

func (i *Instruments) AdvisoryTokens(ctx context.Context, provider string, tokens int64) {
	if tokens <= 0 {
		return
	}
	i.advisoryTokens.Add(ctx, tokens, metric.WithAttributes(attribute.String("provider", provider)))
}

// Dropped matches notify.HubOptions.OnDrop.
func (i *Instruments) Dropped(destination string) {
	i.droppedEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("destination", destination)))
}
