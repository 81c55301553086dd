package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"checkinbot/internal/domain"
)

var ErrNotFound = errors.New("not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  subject_id INTEGER PRIMARY KEY,
  due_at_ms INTEGER NOT NULL,
  payload BLOB,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_at_ms);
CREATE TABLE IF NOT EXISTS recurrences (
  subject_id INTEGER PRIMARY KEY,
  cron_expr TEXT NOT NULL,
  payload BLOB,
  enabled INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS deliveries (
  id TEXT PRIMARY KEY,
  subject_id INTEGER NOT NULL,
  ok INTEGER NOT NULL,
  error TEXT,
  at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deliveries_at ON deliveries(at);
`
	_, err := db.Exec(schema)
	return err
}

// Repository is the durable side of the scheduler: the task mirror the
// engine rebuilds from, recurrence rules, and the delivery audit log.
type Repository interface {
	Upsert(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, subjectID int64) error
	LoadAll(ctx context.Context) ([]domain.Task, error)

	PutRecurrence(ctx context.Context, r domain.Recurrence) error
	DeleteRecurrence(ctx context.Context, subjectID int64) error
	GetRecurrence(ctx context.Context, subjectID int64) (domain.Recurrence, error)
	ListRecurrences(ctx context.Context) ([]domain.Recurrence, error)

	RecordDelivery(ctx context.Context, subjectID int64, ok bool, errText string) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) Upsert(ctx context.Context, t domain.Task) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (subject_id, due_at_ms, payload, created_at, updated_at)
VALUES (?,?,?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(subject_id) DO UPDATE SET
  due_at_ms=excluded.due_at_ms,
  payload=excluded.payload,
  updated_at=CURRENT_TIMESTAMP
`, t.SubjectID, t.DueAt.UnixMilli(), []byte(t.Payload))
	return err
}

func (r *sqliteRepo) Delete(ctx context.Context, subjectID int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE subject_id=?", subjectID)
	return err
}

func (r *sqliteRepo) LoadAll(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT subject_id, due_at_ms, payload, created_at, updated_at
FROM tasks ORDER BY due_at_ms, subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var dueMS int64
		var payload []byte
		if err := rows.Scan(&t.SubjectID, &dueMS, &payload, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.DueAt = time.UnixMilli(dueMS).UTC()
		t.Payload = payload
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteRepo) PutRecurrence(ctx context.Context, rec domain.Recurrence) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO recurrences (subject_id, cron_expr, payload, enabled, created_at, updated_at)
VALUES (?,?,?,?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(subject_id) DO UPDATE SET
  cron_expr=excluded.cron_expr,
  payload=excluded.payload,
  enabled=excluded.enabled,
  updated_at=CURRENT_TIMESTAMP
`, rec.SubjectID, rec.CronExpr, []byte(rec.Payload), rec.Enabled)
	return err
}

func (r *sqliteRepo) DeleteRecurrence(ctx context.Context, subjectID int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM recurrences WHERE subject_id=?", subjectID)
	return err
}

func (r *sqliteRepo) GetRecurrence(ctx context.Context, subjectID int64) (domain.Recurrence, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT subject_id, cron_expr, payload, enabled, created_at, updated_at
FROM recurrences WHERE subject_id=?`, subjectID)
	var rec domain.Recurrence
	var payload []byte
	err := row.Scan(&rec.SubjectID, &rec.CronExpr, &payload, &rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Recurrence{}, ErrNotFound
	}
	if err != nil {
		return domain.Recurrence{}, err
	}
	rec.Payload = payload
	return rec, nil
}

func (r *sqliteRepo) ListRecurrences(ctx context.Context) ([]domain.Recurrence, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT subject_id, cron_expr, payload, enabled, created_at, updated_at
FROM recurrences ORDER BY subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.Recurrence
	for rows.Next() {
		var rec domain.Recurrence
		var payload []byte
		if err := rows.Scan(&rec.SubjectID, &rec.CronExpr, &payload, &rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Payload = payload
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *sqliteRepo) RecordDelivery(ctx context.Context, subjectID int64, ok bool, errText string) error {
	id := "dlv_" + uuid.NewString()
	var e sql.NullString
	if errText != "" {
		e = sql.NullString{String: errText, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO deliveries (id, subject_id, ok, error, at) VALUES (?,?,?,?,CURRENT_TIMESTAMP)`,
		id, subjectID, ok, e)
	return err
}
