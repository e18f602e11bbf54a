package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/bus"
	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/modules"
	"github.com/nextlevelbuilder/aide/internal/store"
)

type fakeJobs struct {
	expired []*store.ScheduledJob
	claimed []*store.ScheduledJob
	updated []*store.ScheduledJob
}

func (f *fakeJobs) Create(context.Context, *store.ScheduledJob) error { return nil }
func (f *fakeJobs) Get(context.Context, uuid.UUID) (*store.ScheduledJob, error) {
	return nil, store.ErrNotFound
}
func (f *fakeJobs) ClaimDue(_ context.Context, now time.Time, _ int) ([]*store.ScheduledJob, error) {
	// Mirror the store: a claim increments attempts and advances next_run_at.
	for _, j := range f.claimed {
		j.Attempts++
		next := now.Add(time.Duration(j.IntervalSeconds) * time.Second)
		j.NextRunAt = &next
	}
	return f.claimed, nil
}
func (f *fakeJobs) Update(_ context.Context, j *store.ScheduledJob) error {
	f.updated = append(f.updated, j)
	return nil
}
func (f *fakeJobs) ExpireDue(context.Context, time.Time) ([]*store.ScheduledJob, error) {
	return f.expired, nil
}

type fakeWorkflows struct {
	openJobs int
	statuses map[uuid.UUID]string
}

func (f *fakeWorkflows) Create(context.Context, *store.ScheduledWorkflow) error { return nil }
func (f *fakeWorkflows) Get(context.Context, uuid.UUID) (*store.ScheduledWorkflow, error) {
	return nil, store.ErrNotFound
}
func (f *fakeWorkflows) SetStatus(_ context.Context, id uuid.UUID, status string, _ *time.Time) error {
	if f.statuses == nil {
		f.statuses = make(map[uuid.UUID]string)
	}
	f.statuses[id] = status
	return nil
}
func (f *fakeWorkflows) CountOpenJobs(context.Context, uuid.UUID) (int, error) {
	return f.openJobs, nil
}

type fakeUsers struct{}

func (fakeUsers) ResolveOrCreate(context.Context, string, string, string) (*store.User, error) {
	return nil, store.ErrNotFound
}
func (fakeUsers) Get(context.Context, uuid.UUID) (*store.User, error) {
	return nil, store.ErrNotFound
}
func (fakeUsers) PlatformUserID(context.Context, uuid.UUID, string) (string, error) {
	return "ext-1", nil
}
func (fakeUsers) AddTokenUsage(context.Context, uuid.UUID, int64) error    { return nil }
func (fakeUsers) ResetBudget(context.Context, uuid.UUID, time.Time) error { return nil }

type fakeExec struct {
	result *modules.ToolResult
	calls  []llm.ToolCall
}

func (f *fakeExec) Execute(_ context.Context, call llm.ToolCall, _ *uuid.UUID) *modules.ToolResult {
	f.calls = append(f.calls, call)
	if f.result != nil {
		return f.result
	}
	return &modules.ToolResult{ToolName: call.ToolName, Success: true}
}

type fakePublisher struct {
	published []bus.Notification
}

func (f *fakePublisher) Publish(_ context.Context, n bus.Notification) error {
	f.published = append(f.published, n)
	return nil
}

func delayJob(attemptsNeeded int) *store.ScheduledJob {
	return &store.ScheduledJob{
		ID:                store.NewID(),
		UserID:            store.NewID(),
		JobType:           store.JobDelay,
		CheckConfig:       map[string]any{"attempts": float64(attemptsNeeded)},
		IntervalSeconds:   60,
		MaxAttempts:       attemptsNeeded,
		MaxRuns:           1,
		Status:            store.StatusActive,
		OnSuccessMessage:  "done waiting",
		OnComplete:        store.OnCompleteNotify,
		Platform:          "telegram",
		PlatformChannelID: "chat-1",
	}
}

func newTestScheduler(jobs *fakeJobs, wf *fakeWorkflows, pub *fakePublisher, exec *fakeExec) *Worker {
	return NewWorker(jobs, wf, fakeUsers{}, pub, exec, Config{})
}

func TestTick_DelayJobCompletes(t *testing.T) {
	j := delayJob(1)
	jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
	pub := &fakePublisher{}
	w := newTestScheduler(jobs, &fakeWorkflows{}, pub, &fakeExec{})

	now := time.Now().UTC()
	if err := w.Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}

	if j.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if j.RunsCompleted != 1 {
		t.Errorf("runs_completed = %d, want 1", j.RunsCompleted)
	}
	if j.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if j.NextRunAt != nil {
		t.Error("next_run_at not cleared on completion")
	}
	if len(pub.published) != 1 || pub.published[0].Content != "done waiting" {
		t.Errorf("published = %v, want the success message", pub.published)
	}
	if len(jobs.updated) != 1 {
		t.Errorf("updates = %d, want 1", len(jobs.updated))
	}
}

func TestTick_DelayJobWaits(t *testing.T) {
	j := delayJob(3)
	jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
	pub := &fakePublisher{}
	w := newTestScheduler(jobs, &fakeWorkflows{}, pub, &fakeExec{})

	if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if j.Status != store.StatusActive {
		t.Errorf("status = %q, want still active", j.Status)
	}
	if j.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", j.Attempts)
	}
	if len(pub.published) != 0 {
		t.Errorf("published %d notifications before completion", len(pub.published))
	}
}

func TestTick_RetryExhaustionFails(t *testing.T) {
	j := delayJob(1)
	j.JobType = "bogus_type" // check always fails
	j.MaxAttempts = 2
	j.Attempts = 1 // claim advances this to 2
	j.OnFailureMessage = "gave up"
	jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
	pub := &fakePublisher{}
	w := newTestScheduler(jobs, &fakeWorkflows{}, pub, &fakeExec{})

	if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if j.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", j.Status)
	}
	if j.CompletedAt == nil {
		t.Error("completed_at not set on terminal failure")
	}
	if len(pub.published) != 1 || pub.published[0].Content != "gave up" {
		t.Errorf("published = %v, want the failure message", pub.published)
	}
}

func TestTick_FailureBelowMaxRetries(t *testing.T) {
	j := delayJob(5)
	j.JobType = "bogus_type"
	j.MaxAttempts = 5
	jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
	pub := &fakePublisher{}
	w := newTestScheduler(jobs, &fakeWorkflows{}, pub, &fakeExec{})

	if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if j.Status != store.StatusActive {
		t.Errorf("status = %q, want active for retry", j.Status)
	}
	if j.ConsecutiveFailures != 1 {
		t.Errorf("consecutive_failures = %d, want 1", j.ConsecutiveFailures)
	}
	if len(pub.published) != 0 {
		t.Error("failure notified before retries exhausted")
	}
}

func TestTick_RecurringJobReschedules(t *testing.T) {
	j := delayJob(1)
	j.MaxRuns = 3
	jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
	pub := &fakePublisher{}
	w := newTestScheduler(jobs, &fakeWorkflows{}, pub, &fakeExec{})

	if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if j.Status != store.StatusActive {
		t.Errorf("status = %q, want active for next run", j.Status)
	}
	if j.RunsCompleted != 1 {
		t.Errorf("runs_completed = %d, want 1", j.RunsCompleted)
	}
	if j.Attempts != 0 {
		t.Errorf("attempts = %d, want reset after a successful run", j.Attempts)
	}
	if j.NextRunAt == nil {
		t.Error("next_run_at cleared for a recurring job")
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d notifications, want 1 per run", len(pub.published))
	}
}

func TestTick_PollModule(t *testing.T) {
	userID := store.NewID()
	j := &store.ScheduledJob{
		ID:      store.NewID(),
		UserID:  userID,
		JobType: store.JobPollModule,
		CheckConfig: map[string]any{
			"tool_name": "research.check_price",
			"arguments": map[string]any{"symbol": "AAPL"},
			"field":     "below_target",
			"equals":    "true",
		},
		MaxAttempts:       10,
		MaxRuns:           1,
		Status:            store.StatusActive,
		OnSuccessMessage:  "price hit",
		Platform:          "discord",
		PlatformChannelID: "chan-9",
	}

	t.Run("predicate satisfied", func(t *testing.T) {
		exec := &fakeExec{result: &modules.ToolResult{
			Success: true,
			Result:  map[string]any{"below_target": true},
		}}
		jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
		pub := &fakePublisher{}
		w := newTestScheduler(jobs, &fakeWorkflows{}, pub, exec)

		if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
			t.Fatal(err)
		}
		if len(exec.calls) != 1 || exec.calls[0].ToolName != "research.check_price" {
			t.Fatalf("exec calls = %v", exec.calls)
		}
		if j.Status != store.StatusCompleted {
			t.Errorf("status = %q, want completed", j.Status)
		}
	})

	t.Run("predicate not satisfied", func(t *testing.T) {
		j2 := *j
		j2.Status = store.StatusActive
		j2.Attempts = 0
		j2.CompletedAt = nil
		exec := &fakeExec{result: &modules.ToolResult{
			Success: true,
			Result:  map[string]any{"below_target": false},
		}}
		jobs := &fakeJobs{claimed: []*store.ScheduledJob{&j2}}
		pub := &fakePublisher{}
		w := newTestScheduler(jobs, &fakeWorkflows{}, pub, exec)

		if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
			t.Fatal(err)
		}
		if j2.Status != store.StatusActive {
			t.Errorf("status = %q, want active for another poll", j2.Status)
		}
	})
}

func TestTick_ExpiredJobFailsWorkflow(t *testing.T) {
	wfID := store.NewID()
	j := delayJob(1)
	j.WorkflowID = &wfID
	j.Status = store.StatusExpired
	j.OnFailureMessage = "never happened"

	jobs := &fakeJobs{expired: []*store.ScheduledJob{j}}
	wf := &fakeWorkflows{openJobs: 2}
	pub := &fakePublisher{}
	w := newTestScheduler(jobs, wf, pub, &fakeExec{})

	if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if wf.statuses[wfID] != store.StatusFailed {
		t.Errorf("workflow status = %q, want failed", wf.statuses[wfID])
	}
	if len(pub.published) != 1 || pub.published[0].Content != "never happened" {
		t.Errorf("published = %v, want the failure message", pub.published)
	}
}

func TestTick_LastJobCompletesWorkflow(t *testing.T) {
	wfID := store.NewID()
	j := delayJob(1)
	j.WorkflowID = &wfID

	jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
	wf := &fakeWorkflows{openJobs: 0}
	pub := &fakePublisher{}
	w := newTestScheduler(jobs, wf, pub, &fakeExec{})

	if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if wf.statuses[wfID] != store.StatusCompleted {
		t.Errorf("workflow status = %q, want completed", wf.statuses[wfID])
	}
}

func TestTick_SiblingJobsKeepWorkflowOpen(t *testing.T) {
	wfID := store.NewID()
	j := delayJob(1)
	j.WorkflowID = &wfID

	jobs := &fakeJobs{claimed: []*store.ScheduledJob{j}}
	wf := &fakeWorkflows{openJobs: 1}
	w := newTestScheduler(jobs, wf, &fakePublisher{}, &fakeExec{})

	if err := w.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if _, set := wf.statuses[wfID]; set {
		t.Errorf("workflow settled with %d open jobs", wf.openJobs)
	}
}

func TestCheckDelay(t *testing.T) {
	w := newTestScheduler(&fakeJobs{}, &fakeWorkflows{}, &fakePublisher{}, &fakeExec{})
	tests := []struct {
		name     string
		attempts int
		cfg      map[string]any
		want     bool
	}{
		{"first attempt of one", 1, map[string]any{"attempts": float64(1)}, true},
		{"not yet", 1, map[string]any{"attempts": float64(3)}, false},
		{"reached", 3, map[string]any{"attempts": float64(3)}, true},
		{"default single attempt", 1, map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &store.ScheduledJob{JobType: store.JobDelay, Attempts: tt.attempts, CheckConfig: tt.cfg}
			got, _ := w.checkDelay(j)
			if got != tt.want {
				t.Errorf("checkDelay(attempts=%d, cfg=%v) = %v, want %v", tt.attempts, tt.cfg, got, tt.want)
			}
		})
	}
}

func TestEvalResultPredicate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    map[string]any
		result any
		want   bool
	}{
		{"no predicate", map[string]any{}, map[string]any{"x": 1}, true},
		{"contains hit", map[string]any{"contains": "ready"}, map[string]any{"state": "ready"}, true},
		{"contains miss", map[string]any{"contains": "ready"}, map[string]any{"state": "pending"}, false},
		{"field equals", map[string]any{"field": "n", "equals": float64(3)}, map[string]any{"n": float64(3)}, true},
		{"field differs", map[string]any{"field": "n", "equals": float64(3)}, map[string]any{"n": float64(4)}, false},
		{"field on non-object", map[string]any{"field": "n"}, "plain string", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := evalResultPredicate(tt.cfg, tt.result)
			if got != tt.want {
				t.Errorf("evalResultPredicate(%v, %v) = %v, want %v", tt.cfg, tt.result, got, tt.want)
			}
		})
	}
}
