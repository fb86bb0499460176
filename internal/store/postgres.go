package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, last_used_at, revoked_at, created_at
		 FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id::text, owner_id, kind, input, status, progress_step, progress_message, result,
	error_message, attempt, retry_pending, cancel_requested, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var kind string
	err := row.Scan(&j.ID, &j.OwnerID, &kind, &j.Input, &j.Status, &j.Progress.Step, &j.Progress.Message,
		&j.Result, &j.ErrorMessage, &j.Attempt, &j.RetryPending, &j.CancelRequested,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Kind = models.JobKind(kind)
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	return insertJob(ctx, s.pool, job)
}

// CreateJobWithinQuota inserts job unless the owner has used up dailyCap for
// the job's kind today. Usage is completed jobs counted today plus jobs created
// today that are still in flight. A per owner and kind advisory lock
// serializes concurrent submissions.
func (s *PostgresStore) CreateJobWithinQuota(ctx context.Context, job *models.Job, dailyCap int) error {
	if dailyCap <= 0 {
		return s.CreateJob(ctx, job)
	}
	day := UTCDate(s.now())

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			"quota:"+job.OwnerID+":"+string(job.Kind)); err != nil {
			return fmt.Errorf("lock quota: %w", err)
		}

		var used int
		err := tx.QueryRow(ctx,
			`SELECT
			   COALESCE((SELECT count FROM daily_quotas WHERE owner_id = $1 AND kind = $2 AND date = $3::date), 0)
			   + (SELECT COUNT(*) FROM jobs
			      WHERE owner_id = $1 AND kind = $2 AND created_at >= $4 AND quota_counted = FALSE
			        AND (status IN ('queued', 'processing') OR (status = 'failed' AND retry_pending)))`,
			job.OwnerID, string(job.Kind), day, day,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("count quota usage: %w", err)
		}
		if used >= dailyCap {
			return ErrQuotaExceeded
		}
		return insertJob(ctx, tx, job)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertJob(ctx context.Context, db execer, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	_, err := db.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, kind, input, status, progress_step, progress_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.OwnerID, string(job.Kind), job.Input, job.Status,
		job.Progress.Step, job.Progress.Message, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob returns the job only when it belongs to ownerID. A foreign job is
// indistinguishable from a missing one.
func (s *PostgresStore) GetJob(ctx context.Context, id, ownerID string) (*models.Job, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter ListFilter) ([]*models.Job, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, string(filter.Kind))
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id LIMIT $%d`,
		jobColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job row. Used to roll back a submission whose enqueue failed.
func (s *PostgresStore) DeleteJob(ctx context.Context, id, ownerID string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListProcessingJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text FROM jobs WHERE status = 'processing'`)
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id, status string, opts ...JobUpdateOption) error {
	params := NewJobUpdate(opts...)
	if !validID(id) {
		return ErrNotFound
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		var retryPending bool
		var attempt, step int
		err := tx.QueryRow(ctx,
			`SELECT status, retry_pending, attempt, progress_step FROM jobs WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current, &retryPending, &attempt, &step)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job status: %w", err)
		}

		if params.ExpectedAttempt != nil && *params.ExpectedAttempt != attempt {
			return fmt.Errorf("%w: attempt %d superseded by attempt %d", ErrInvalidTransition, *params.ExpectedAttempt, attempt)
		}
		if !TransitionAllowed(current, status, retryPending) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
		}

		now := s.now()
		sets := []string{"status = $2", "updated_at = $3"}
		args := []any{id, status, now}
		set := func(column string, v any) {
			args = append(args, v)
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		}
		setProgress := func(p models.Progress) {
			set("progress_step", p.Step)
			set("progress_message", truncate(p.Message, MaxErrorMessageLen))
		}

		switch status {
		case models.JobStatusProcessing:
			newAttempt := current != models.JobStatusProcessing ||
				(params.Attempt != nil && *params.Attempt != attempt)
			if params.Attempt != nil {
				set("attempt", *params.Attempt)
			}
			sets = append(sets, "retry_pending = FALSE", "error_message = NULL", "completed_at = NULL")
			switch {
			case newAttempt:
				set("started_at", now)
				p := models.Progress{}
				if params.Progress != nil {
					p = *params.Progress
				}
				setProgress(p)
			case params.Progress != nil && params.Progress.Step >= step:
				setProgress(*params.Progress)
			}
		case models.JobStatusCompleted:
			set("completed_at", now)
			sets = append(sets, "retry_pending = FALSE", "error_message = NULL")
			if params.Result != nil {
				set("result", params.Result)
			}
			if params.Progress != nil {
				setProgress(*params.Progress)
			}
		case models.JobStatusFailed:
			pending := params.RetryPending != nil && *params.RetryPending
			set("retry_pending", pending)
			if pending {
				sets = append(sets, "completed_at = NULL")
			} else {
				set("completed_at", now)
			}
			msg := "unknown error"
			if params.ErrorMessage != nil && *params.ErrorMessage != "" {
				msg = *params.ErrorMessage
			}
			set("error_message", truncate(msg, MaxErrorMessageLen))
			sets = append(sets, "result = NULL")
			if params.Progress != nil {
				setProgress(*params.Progress)
			}
		case models.JobStatusCancelled:
			set("completed_at", now)
			sets = append(sets, "retry_pending = FALSE", "result = NULL", "error_message = NULL")
			if params.Progress != nil {
				setProgress(*params.Progress)
			}
		}

		if _, err := tx.Exec(ctx, "UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		return nil
	})
}

// UpdateProgress advances the progress of a processing job. Writes that would
// move the step backwards are ignored.
func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, progress models.Progress) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress_step = $2, progress_message = $3, updated_at = $4
		 WHERE id = $1 AND status = 'processing' AND progress_step <= $2`,
		id, progress.Step, truncate(progress.Message, MaxErrorMessageLen), s.now())
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if status != models.JobStatusProcessing {
		return fmt.Errorf("%w: progress update on %s job", ErrInvalidTransition, status)
	}
	return nil
}

func (s *PostgresStore) RecordResult(ctx context.Context, id string, result json.RawMessage, opts ...JobUpdateOption) error {
	if len(result) == 0 {
		return errors.New("record result: empty result")
	}
	return s.UpdateJobStatus(ctx, id, models.JobStatusCompleted, append(opts, WithResult(result))...)
}

// RecordFailure marks the job failed with message. retryPending keeps the job
// open for a redelivery.
func (s *PostgresStore) RecordFailure(ctx context.Context, id, message string, retryPending bool, opts ...JobUpdateOption) error {
	return s.UpdateJobStatus(ctx, id, models.JobStatusFailed,
		append(opts, WithErrorMessage(message), WithRetryPending(retryPending), WithProgress(0, message))...)
}

// RequestCancel cancels a queued or retry-pending job outright and marks a
// processing job for cooperative cancellation. Terminal jobs are returned unchanged.
func (s *PostgresStore) RequestCancel(ctx context.Context, id, ownerID string) (*models.Job, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	var job *models.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		now := s.now()
		var update string
		switch {
		case j.Status == models.JobStatusQueued,
			j.Status == models.JobStatusFailed && j.RetryPending:
			update = `UPDATE jobs SET status = 'cancelled', cancel_requested = TRUE, retry_pending = FALSE,
			          error_message = NULL, result = NULL, completed_at = $2, updated_at = $2 WHERE id = $1`
		case j.Status == models.JobStatusProcessing:
			update = `UPDATE jobs SET cancel_requested = TRUE, updated_at = $2 WHERE id = $1`
		default:
			job = j
			return nil
		}
		if _, err := tx.Exec(ctx, update, id, now); err != nil {
			return fmt.Errorf("request cancel: %w", err)
		}

		job, err = scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// --- Quotas ---

// CheckQuota reports whether ownerID has completed fewer than dailyCap jobs of
// kind on date. A non-positive cap is unlimited.
func (s *PostgresStore) CheckQuota(ctx context.Context, ownerID string, kind models.JobKind, date time.Time, dailyCap int) (bool, error) {
	if dailyCap <= 0 {
		return true, nil
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT count FROM daily_quotas WHERE owner_id = $1 AND kind = $2 AND date = $3::date), 0)`,
		ownerID, string(kind), UTCDate(date),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check quota: %w", err)
	}
	return count < dailyCap, nil
}

// IncrementQuota counts a completed job against its owner's quota for date.
// Each job is counted at most once.
func (s *PostgresStore) IncrementQuota(ctx context.Context, jobID, ownerID string, kind models.JobKind, date time.Time) error {
	if !validID(jobID) {
		return ErrNotFound
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET quota_counted = TRUE WHERE id = $1 AND owner_id = $2 AND quota_counted = FALSE`,
			jobID, ownerID)
		if err != nil {
			return fmt.Errorf("mark quota counted: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO daily_quotas (owner_id, date, kind, count) VALUES ($1, $2::date, $3, 1)
			 ON CONFLICT (owner_id, date, kind) DO UPDATE SET count = daily_quotas.count + 1`,
			ownerID, UTCDate(date), string(kind))
		if err != nil {
			return fmt.Errorf("increment quota: %w", err)
		}
		return nil
	})
}

// IncrementReviewCounter bumps the owner's completed-review statistic.
func (s *PostgresStore) IncrementReviewCounter(ctx context.Context, ownerID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_stats (owner_id, reviews_completed, updated_at) VALUES ($1, 1, NOW())
		 ON CONFLICT (owner_id) DO UPDATE SET reviews_completed = user_stats.reviews_completed + 1, updated_at = NOW()`,
		ownerID)
	if err != nil {
		return fmt.Errorf("increment review counter: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// validID accepts only the canonical 36-character UUID form.
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
