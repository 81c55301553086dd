package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"checkinbot/internal/domain"
)

func openTestRepo(t *testing.T) Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewSQLiteRepo(db)
}

func TestTaskUpsertDeleteLoadAll(t *testing.T) {
	t.Parallel()
	repo := openTestRepo(t)
	ctx := context.Background()

	due1 := time.Unix(100, 0).UTC()
	due2 := time.Unix(200, 0).UTC()

	if err := repo.Upsert(ctx, domain.Task{SubjectID: 1, DueAt: due2, Payload: json.RawMessage(`{"text":"hi"}`)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, domain.Task{SubjectID: 2, DueAt: due2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Upsert on the same subject replaces, never duplicates.
	if err := repo.Upsert(ctx, domain.Task{SubjectID: 1, DueAt: due1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tasks, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("LoadAll returned %d tasks, want 2", len(tasks))
	}
	if tasks[0].SubjectID != 1 || !tasks[0].DueAt.Equal(due1) {
		t.Fatalf("first task = %+v, want subject 1 due at %v", tasks[0], due1)
	}
	if tasks[1].SubjectID != 2 || !tasks[1].DueAt.Equal(due2) {
		t.Fatalf("second task = %+v, want subject 2 due at %v", tasks[1], due2)
	}

	if err := repo.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deleting a missing subject is fine.
	if err := repo.Delete(ctx, 1); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	tasks, err = repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(tasks) != 1 || tasks[0].SubjectID != 2 {
		t.Fatalf("after delete: %+v", tasks)
	}
}

func TestRecurrenceRoundTrip(t *testing.T) {
	t.Parallel()
	repo := openTestRepo(t)
	ctx := context.Background()

	rec := domain.Recurrence{SubjectID: 9, CronExpr: "0 9 * * *", Enabled: true}
	if err := repo.PutRecurrence(ctx, rec); err != nil {
		t.Fatalf("PutRecurrence: %v", err)
	}

	got, err := repo.GetRecurrence(ctx, 9)
	if err != nil {
		t.Fatalf("GetRecurrence: %v", err)
	}
	if got.CronExpr != rec.CronExpr || !got.Enabled {
		t.Fatalf("GetRecurrence = %+v", got)
	}

	// Replace disables in place.
	rec.Enabled = false
	if err := repo.PutRecurrence(ctx, rec); err != nil {
		t.Fatalf("PutRecurrence: %v", err)
	}
	got, err = repo.GetRecurrence(ctx, 9)
	if err != nil {
		t.Fatalf("GetRecurrence: %v", err)
	}
	if got.Enabled {
		t.Fatal("recurrence should be disabled after replace")
	}

	recs, err := repo.ListRecurrences(ctx)
	if err != nil {
		t.Fatalf("ListRecurrences: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ListRecurrences returned %d rows, want 1", len(recs))
	}

	if err := repo.DeleteRecurrence(ctx, 9); err != nil {
		t.Fatalf("DeleteRecurrence: %v", err)
	}
	if _, err := repo.GetRecurrence(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRecurrence after delete: %v, want ErrNotFound", err)
	}
}

func TestRecordDelivery(t *testing.T) {
	t.Parallel()
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.RecordDelivery(ctx, 5, true, ""); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if err := repo.RecordDelivery(ctx, 5, false, "telegram: 429"); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
}
