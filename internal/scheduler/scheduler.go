// Package scheduler runs the durable job worker: claim due jobs, execute
// their checks, publish notifications, and advance retry, expiry and
// workflow state.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/agent"
	"github.com/nextlevelbuilder/aide/internal/bus"
	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/modules"
	"github.com/nextlevelbuilder/aide/internal/store"
)

// Config tunes the worker.
type Config struct {
	TickInterval    time.Duration // default 15s
	BatchSize       int           // due jobs claimed per tick
	OrchestratorURL string        // ingress for resume_conversation
	ServiceToken    string
}

type publisher interface {
	Publish(ctx context.Context, n bus.Notification) error
}

type toolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall, userID *uuid.UUID) *modules.ToolResult
}

// Worker is the scheduler process loop.
type Worker struct {
	jobs      store.JobStore
	workflows store.WorkflowStore
	users     store.UserStore
	bus       publisher
	exec      toolExecutor
	client    *http.Client
	cron      *gronx.Gronx
	cfg       Config
}

func NewWorker(jobs store.JobStore, workflows store.WorkflowStore, users store.UserStore, pub publisher, exec toolExecutor, cfg Config) *Worker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Worker{
		jobs:      jobs,
		workflows: workflows,
		users:     users,
		bus:       pub,
		exec:      exec,
		client:    &http.Client{Timeout: 30 * time.Second},
		cron:      gronx.New(),
		cfg:       cfg,
	}
}

// Run ticks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("scheduler.started", "tick", w.cfg.TickInterval, "batch", w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler.stopped")
			return
		case <-ticker.C:
			if err := w.Tick(ctx, time.Now().UTC()); err != nil {
				slog.Error("scheduler.tick_failed", "error", err)
			}
		}
	}
}

// Tick expires overdue jobs, then claims and runs due ones in next_run_at
// order.
func (w *Worker) Tick(ctx context.Context, now time.Time) error {
	expired, err := w.jobs.ExpireDue(ctx, now)
	if err != nil {
		return fmt.Errorf("expire jobs: %w", err)
	}
	for _, j := range expired {
		slog.Info("scheduler.job_expired", "job_id", j.ID, "job_type", j.JobType)
		w.publishFailure(ctx, j)
		w.settleWorkflow(ctx, j, store.StatusFailed, now)
	}

	claimed, err := w.jobs.ClaimDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("claim due jobs: %w", err)
	}
	for _, j := range claimed {
		w.runJob(ctx, j, now)
	}
	return nil
}

// runJob executes one claimed job's check and settles its state. The
// claim already incremented attempts and advanced next_run_at by the
// interval; cron jobs get their schedule recomputed here.
func (w *Worker) runJob(ctx context.Context, j *store.ScheduledJob, now time.Time) {
	ok, detail := w.check(ctx, j)
	if ok {
		w.succeed(ctx, j, now)
		return
	}
	w.fail(ctx, j, now, detail)
}

func (w *Worker) succeed(ctx context.Context, j *store.ScheduledJob, now time.Time) {
	j.ConsecutiveFailures = 0

	if j.Platform != "" {
		w.publish(ctx, j, j.OnSuccessMessage)
	}

	oneShot := j.MaxRuns == 0 || j.RunsCompleted+1 >= j.MaxRuns
	if oneShot {
		j.Status = store.StatusCompleted
		j.RunsCompleted++
		j.CompletedAt = &now
		j.NextRunAt = nil
		if j.OnComplete == store.OnCompleteResume {
			w.resume(ctx, j)
		}
		w.settleWorkflow(ctx, j, store.StatusCompleted, now)
	} else {
		j.RunsCompleted++
		j.Attempts = 0
		w.reschedule(j, now)
	}

	if err := w.jobs.Update(ctx, j); err != nil {
		slog.Error("scheduler.job_update_failed", "job_id", j.ID, "error", err)
		return
	}
	slog.Info("scheduler.job_succeeded", "job_id", j.ID, "job_type", j.JobType, "status", j.Status)
}

func (w *Worker) fail(ctx context.Context, j *store.ScheduledJob, now time.Time, detail string) {
	j.ConsecutiveFailures++

	if j.Attempts >= j.MaxAttempts {
		j.Status = store.StatusFailed
		j.CompletedAt = &now
		j.NextRunAt = nil
		w.publishFailure(ctx, j)
		w.settleWorkflow(ctx, j, store.StatusFailed, now)
		slog.Warn("scheduler.job_failed", "job_id", j.ID, "attempts", j.Attempts, "detail", detail)
	} else {
		w.reschedule(j, now)
		slog.Debug("scheduler.job_check_failed", "job_id", j.ID, "attempts", j.Attempts, "detail", detail)
	}

	if err := w.jobs.Update(ctx, j); err != nil {
		slog.Error("scheduler.job_update_failed", "job_id", j.ID, "error", err)
	}
}

// reschedule recomputes next_run_at for cron jobs. Interval jobs keep the
// claim-time advance.
func (w *Worker) reschedule(j *store.ScheduledJob, now time.Time) {
	if j.CronExpr == "" {
		return
	}
	if !w.cron.IsValid(j.CronExpr) {
		slog.Warn("scheduler.bad_cron_expr", "job_id", j.ID, "cron", j.CronExpr)
		return
	}
	next, err := gronx.NextTickAfter(j.CronExpr, now, false)
	if err != nil {
		slog.Warn("scheduler.bad_cron_expr", "job_id", j.ID, "cron", j.CronExpr, "error", err)
		return
	}
	j.NextRunAt = &next
}

// settleWorkflow marks the workflow terminal when its last job finished,
// or fails it outright when a member job failed.
func (w *Worker) settleWorkflow(ctx context.Context, j *store.ScheduledJob, jobOutcome string, now time.Time) {
	if j.WorkflowID == nil {
		return
	}
	if jobOutcome == store.StatusFailed {
		// One failed job fails the whole workflow.
		if err := w.workflows.SetStatus(ctx, *j.WorkflowID, store.StatusFailed, &now); err != nil {
			slog.Error("scheduler.workflow_update_failed", "workflow_id", *j.WorkflowID, "error", err)
		}
		return
	}
	open, err := w.workflows.CountOpenJobs(ctx, *j.WorkflowID)
	if err != nil {
		slog.Error("scheduler.workflow_count_failed", "workflow_id", *j.WorkflowID, "error", err)
		return
	}
	if open == 0 {
		if err := w.workflows.SetStatus(ctx, *j.WorkflowID, store.StatusCompleted, &now); err != nil {
			slog.Error("scheduler.workflow_update_failed", "workflow_id", *j.WorkflowID, "error", err)
		}
		slog.Info("scheduler.workflow_completed", "workflow_id", *j.WorkflowID)
	}
}

func (w *Worker) publish(ctx context.Context, j *store.ScheduledJob, content string) {
	if content == "" || j.Platform == "" {
		return
	}
	jobID := j.ID
	userID := j.UserID
	n := bus.Notification{
		Platform:          j.Platform,
		PlatformChannelID: j.PlatformChannelID,
		PlatformThreadID:  j.PlatformThreadID,
		Content:           content,
		UserID:            &userID,
		JobID:             &jobID,
	}
	if err := w.bus.Publish(ctx, n); err != nil {
		slog.Error("scheduler.publish_failed", "job_id", j.ID, "error", err)
	}
}

func (w *Worker) publishFailure(ctx context.Context, j *store.ScheduledJob) {
	if j.OnFailureMessage != "" {
		w.publish(ctx, j, j.OnFailureMessage)
	}
}

// resume posts an internal message through the orchestrator ingress so
// the completion becomes a new agent-loop turn with the job's routing.
func (w *Worker) resume(ctx context.Context, j *store.ScheduledJob) {
	if w.cfg.OrchestratorURL == "" {
		slog.Warn("scheduler.resume_skipped", "job_id", j.ID, "reason", "no orchestrator url")
		return
	}
	platformUserID, err := w.users.PlatformUserID(ctx, j.UserID, j.Platform)
	if err != nil {
		slog.Error("scheduler.resume_identity_failed", "job_id", j.ID, "error", err)
		return
	}
	msg := agent.IncomingMessage{
		Platform:          j.Platform,
		PlatformUserID:    platformUserID,
		PlatformChannelID: j.PlatformChannelID,
		PlatformThreadID:  j.PlatformThreadID,
		Content:           fmt.Sprintf("[scheduled check completed] %s", j.OnSuccessMessage),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("scheduler.resume_marshal_failed", "job_id", j.ID, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(w.cfg.OrchestratorURL, "/")+"/message", bytes.NewReader(payload))
	if err != nil {
		slog.Error("scheduler.resume_request_failed", "job_id", j.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.ServiceToken)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		slog.Error("scheduler.resume_failed", "job_id", j.ID, "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("scheduler.resume_rejected", "job_id", j.ID, "status", resp.StatusCode)
	}
}
