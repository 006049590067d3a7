package history

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	UpsertJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	DeleteJob(ctx context.Context, id string) error

	AppendEvent(ctx context.Context, ev *Event) error
	ListEvents(ctx context.Context, jobID string) ([]*Event, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, session_id, scenario, phase, remote_status, degraded, failure, error,
	strategy, size_bytes, polls, submitted_at, created_at, updated_at`

// UpsertJob inserts the row or overwrites everything but created_at.
func (r *SQLiteRepository) UpsertJob(ctx context.Context, j *Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			scenario = CASE WHEN excluded.scenario = '' THEN jobs.scenario ELSE excluded.scenario END,
			phase = excluded.phase,
			remote_status = excluded.remote_status,
			degraded = excluded.degraded,
			failure = excluded.failure,
			error = excluded.error,
			strategy = excluded.strategy,
			size_bytes = excluded.size_bytes,
			polls = excluded.polls,
			submitted_at = COALESCE(excluded.submitted_at, jobs.submitted_at),
			updated_at = excluded.updated_at
	`, j.ID, j.SessionID, j.Scenario, j.Phase, j.RemoteStatus, boolToInt(j.Degraded), j.Failure, j.Error,
		j.Strategy, j.SizeBytes, j.Polls, nullTime(j.SubmittedAt),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs ORDER BY updated_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) DeleteJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	return err
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		var degraded int
		var submittedAt sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&j.ID, &j.SessionID, &j.Scenario, &j.Phase, &j.RemoteStatus, &degraded,
			&j.Failure, &j.Error, &j.Strategy, &j.SizeBytes, &j.Polls, &submittedAt, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.Degraded = degraded == 1
		if submittedAt.Valid {
			if t, err := time.Parse(time.RFC3339, submittedAt.String); err == nil {
				j.SubmittedAt = &t
			}
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) AppendEvent(ctx context.Context, ev *Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO job_events (job_id, phase, remote_status, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.JobID, ev.Phase, ev.RemoteStatus, ev.Message, ev.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, jobID string) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, phase, remote_status, message, created_at
		FROM job_events WHERE job_id = ? ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Phase, &e.RemoteStatus, &e.Message, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`, key, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
