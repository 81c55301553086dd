package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"checkinbot/internal/engine"
	"checkinbot/internal/ingest"
	"checkinbot/internal/store"
)

const testToken = "s3cret"

func newTestServer(t *testing.T) (http.Handler, *engine.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := store.EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	repo := store.NewSQLiteRepo(db)
	eng := engine.New(repo)
	h := ingest.New(eng, repo, 30*time.Minute)
	return NewServer(eng, repo, h, testToken), eng
}

func postUpdate(t *testing.T, srv http.Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tg/"+token, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadToken(t *testing.T) {
	t.Parallel()
	srv, eng := newTestServer(t)

	rec := postUpdate(t, srv, "wrong", `{"update_id":1,"message":{"message_id":1,"text":"hi","chat":{"id":7}}}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if eng.Len() != 0 {
		t.Fatal("bad-token request mutated the schedule")
	}
}

func TestWebhookSchedulesCheckin(t *testing.T) {
	t.Parallel()
	srv, eng := newTestServer(t)

	rec := postUpdate(t, srv, testToken, `{"update_id":1,"message":{"message_id":1,"text":"hi","chat":{"id":7}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	if eng.Len() != 1 {
		t.Fatalf("engine holds %d entries, want 1", eng.Len())
	}

	// Duplicate forward of the same event: still one live entry.
	rec = postUpdate(t, srv, testToken, `{"update_id":1,"message":{"message_id":1,"text":"hi","chat":{"id":7}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
	if eng.Len() != 1 {
		t.Fatalf("after duplicate: %d entries, want 1", eng.Len())
	}
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	postUpdate(t, srv, testToken, `{"update_id":1,"message":{"message_id":1,"text":"hi","chat":{"id":7}}}`)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var tasks []struct {
		SubjectID int64     `json:"subject_id"`
		DueAt     time.Time `json:"due_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].SubjectID != 7 {
		t.Fatalf("tasks = %+v, want one entry for subject 7", tasks)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
