package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const (
	reportTaskQueue    = "usage-report-task-queue"
	reportWorkflowName = "usage.report.run"
	buildActivityName  = "usage.report.build"
	sendActivityName   = "usage.report.send"
)

// ReportActivities hosts the activity implementations backing the report
// workflow. Collection and delivery faults are absorbed inside the reporter,
// so neither activity fails for them.
type ReportActivities struct {
	reporter *Reporter
	logger   *slog.Logger
}

// NewReportActivities wires the activities to the reporter.
func NewReportActivities(reporter *Reporter, logger *slog.Logger) *ReportActivities {
	return &ReportActivities{reporter: reporter, logger: logger.With("component", "usage.activities")}
}

// BuildPayloadActivity collects a fresh snapshot and shapes the wire payload.
func (a *ReportActivities) BuildPayloadActivity(ctx context.Context) (Payload, error) {
	payload := a.reporter.BuildPayload(ctx)
	a.logger.Info("usage payload assembled",
		"site_id", payload.SiteID,
		"usage_version", payload.UsageVersion,
		"total_contacts", payload.Body.TotalContacts,
		"total_groups", payload.Body.TotalGroups)
	return payload, nil
}

// SendPayloadActivity performs the best-effort delivery.
func (a *ReportActivities) SendPayloadActivity(ctx context.Context, payload Payload) error {
	a.reporter.Deliver(ctx, payload)
	return nil
}

// ReportUsageWorkflow runs one weekly reporting pass: build the payload, then
// send it. Retries are disabled; a failed delivery waits for the next weekly
// fire rather than being replayed.
func ReportUsageWorkflow(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)
	options := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)

	var payload Payload
	if err := workflow.ExecuteActivity(ctx, buildActivityName).Get(ctx, &payload); err != nil {
		logger.Error("build payload activity failed", "error", err)
		return err
	}
	if err := workflow.ExecuteActivity(ctx, sendActivityName, payload).Get(ctx, nil); err != nil {
		logger.Error("send payload activity failed", "error", err)
		return err
	}
	logger.Info("usage report run finished", "site_id", payload.SiteID)
	return nil
}

// RegisterReportWorker wires up the Temporal worker consuming the report task
// queue.
func RegisterReportWorker(c client.Client, reporter *Reporter, logger *slog.Logger) temporalworker.Worker {
	w := temporalworker.New(c, reportTaskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(ReportUsageWorkflow, workflow.RegisterOptions{Name: reportWorkflowName})
	activities := NewReportActivities(reporter, logger)
	w.RegisterActivityWithOptions(activities.BuildPayloadActivity, activity.RegisterOptions{Name: buildActivityName})
	w.RegisterActivityWithOptions(activities.SendPayloadActivity, activity.RegisterOptions{Name: sendActivityName})
	return w
}

// Orchestrator starts ad-hoc report runs through the Temporal client, outside
// the weekly cadence.
type Orchestrator struct {
	client client.Client
	logger *slog.Logger
}

// NewOrchestrator wires a manual-run starter.
func NewOrchestrator(c client.Client, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{client: c, logger: logger.With("component", "usage.orchestrator")}
}

// RunReportAsync dispatches one report workflow and returns its ID without
// waiting for completion.
func (o *Orchestrator) RunReportAsync(ctx context.Context) (string, error) {
	workflowID := fmt.Sprintf("usage-report-manual-%s", uuid.NewString())
	we, err := o.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: reportTaskQueue,
	}, reportWorkflowName)
	if err != nil {
		o.logger.Error("start report workflow failed", "error", err)
		return "", err
	}
	o.logger.Info("report workflow dispatched", "workflow_id", we.GetID(), "run_id", we.GetRunID())
	return we.GetID(), nil
}
