package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/store"
)

// JobStore implements store.JobStore backed by Postgres.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobCols = `id, user_id, workflow_id, job_type, description, check_config,
	interval_seconds, cron_expr, max_attempts, max_runs, attempts, runs_completed,
	consecutive_failures, status, next_run_at, expires_at,
	on_success_message, on_failure_message, on_complete,
	platform, platform_channel_id, platform_thread_id, completed_at, created_at`

func (s *JobStore) Create(ctx context.Context, j *store.ScheduledJob) error {
	if j.ID == uuid.Nil {
		j.ID = store.NewID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = store.StatusActive
	}
	cfg, err := json.Marshal(j.CheckConfig)
	if err != nil {
		return fmt.Errorf("marshal check_config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (`+jobCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		j.ID, j.UserID, nilUUID(j.WorkflowID), j.JobType, nilStr(j.Description), cfg,
		j.IntervalSeconds, nilStr(j.CronExpr), j.MaxAttempts, j.MaxRuns, j.Attempts, j.RunsCompleted,
		j.ConsecutiveFailures, j.Status, j.NextRunAt, j.ExpiresAt,
		j.OnSuccessMessage, nilStr(j.OnFailureMessage), j.OnComplete,
		nilStr(j.Platform), nilStr(j.PlatformChannelID), nilOrStr(j.PlatformThreadID),
		j.CompletedAt, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*store.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM scheduled_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ClaimDue claims up to limit due jobs. The per-row conditional UPDATE both
// increments attempts and pushes next_run_at forward, so a concurrent worker
// that selected the same id sees zero rows updated and skips it.
func (s *JobStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*store.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM scheduled_jobs
		 WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*store.ScheduledJob
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx,
			`UPDATE scheduled_jobs
			 SET attempts = attempts + 1,
			     next_run_at = $1 + make_interval(secs => interval_seconds)
			 WHERE id = $2 AND status = 'active' AND next_run_at <= $1
			 RETURNING `+jobCols,
			now, id,
		)
		j, err := scanJob(row)
		if errors.Is(err, store.ErrNotFound) {
			continue // lost the race to another worker
		}
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (s *JobStore) Update(ctx context.Context, j *store.ScheduledJob) error {
	cfg, err := json.Marshal(j.CheckConfig)
	if err != nil {
		return fmt.Errorf("marshal check_config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET
			status = $1, attempts = $2, runs_completed = $3, consecutive_failures = $4,
			next_run_at = $5, completed_at = $6, check_config = $7
		 WHERE id = $8`,
		j.Status, j.Attempts, j.RunsCompleted, j.ConsecutiveFailures,
		j.NextRunAt, j.CompletedAt, cfg, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *JobStore) ExpireDue(ctx context.Context, now time.Time) ([]*store.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE scheduled_jobs
		 SET status = 'expired', completed_at = $1
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		 RETURNING `+jobCols,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire jobs: %w", err)
	}
	defer rows.Close()

	var out []*store.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*store.ScheduledJob, error) {
	j := &store.ScheduledJob{}
	var cfg []byte
	var desc, cronExpr, failMsg, platform, channelID *string
	err := row.Scan(&j.ID, &j.UserID, &j.WorkflowID, &j.JobType, &desc, &cfg,
		&j.IntervalSeconds, &cronExpr, &j.MaxAttempts, &j.MaxRuns, &j.Attempts, &j.RunsCompleted,
		&j.ConsecutiveFailures, &j.Status, &j.NextRunAt, &j.ExpiresAt,
		&j.OnSuccessMessage, &failMsg, &j.OnComplete,
		&platform, &channelID, &j.PlatformThreadID, &j.CompletedAt, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Description = derefStr(desc)
	j.CronExpr = derefStr(cronExpr)
	j.OnFailureMessage = derefStr(failMsg)
	j.Platform = derefStr(platform)
	j.PlatformChannelID = derefStr(channelID)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &j.CheckConfig); err != nil {
			return nil, fmt.Errorf("unmarshal check_config: %w", err)
		}
	}
	return j, nil
}

// WorkflowStore implements store.WorkflowStore backed by Postgres.
type WorkflowStore struct {
	db *sql.DB
}

func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

func (s *WorkflowStore) Create(ctx context.Context, w *store.ScheduledWorkflow) error {
	if w.ID == uuid.Nil {
		w.ID = store.NewID()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.Status == "" {
		w.Status = store.StatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_workflows (id, user_id, name, status, completed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.UserID, w.Name, w.Status, w.CompletedAt, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *WorkflowStore) Get(ctx context.Context, id uuid.UUID) (*store.ScheduledWorkflow, error) {
	w := &store.ScheduledWorkflow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, status, completed_at, created_at
		 FROM scheduled_workflows WHERE id = $1`, id,
	).Scan(&w.ID, &w.UserID, &w.Name, &w.Status, &w.CompletedAt, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return w, nil
}

func (s *WorkflowStore) SetStatus(ctx context.Context, id uuid.UUID, status string, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_workflows SET status = $1, completed_at = $2 WHERE id = $3`,
		status, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("set workflow status: %w", err)
	}
	return nil
}

func (s *WorkflowStore) CountOpenJobs(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_jobs WHERE workflow_id = $1 AND status = 'active'`,
		id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open workflow jobs: %w", err)
	}
	return n, nil
}
