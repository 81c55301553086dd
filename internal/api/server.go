package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"checkinbot/internal/engine"
	"checkinbot/internal/ingest"
	"checkinbot/internal/store"
)

type Server struct {
	r      *chi.Mux
	eng    *engine.Engine
	repo   store.Repository
	ingest *ingest.Handler
	token  string
}

// NewServer builds the bot's HTTP surface: the webhook ingestion endpoint
// plus a small ops API.
func NewServer(eng *engine.Engine, repo store.Repository, h *ingest.Handler, webhookToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, eng: eng, repo: repo, ingest: h, token: webhookToken}

	r.Post("/tg/{token}", s.webhook)

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/recurrences", s.listRecurrences)

	return r
}

// webhook is the ingestion boundary: one event per request, acknowledged
// with 200 once the scheduler mutation is durable.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ingest.HandleEvent(r.Context(), body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "checkinbot_up 1\ncheckinbot_pending_tasks %d\n", s.eng.Len())
}

type taskView struct {
	SubjectID int64           `json:"subject_id"`
	DueAt     time.Time       `json:"due_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.eng.Snapshot()
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView{SubjectID: t.SubjectID, DueAt: t.DueAt, Payload: t.Payload})
	}
	writeJSON(w, http.StatusOK, out)
}

type recurrenceView struct {
	SubjectID int64  `json:"subject_id"`
	CronExpr  string `json:"cron_expr"`
	Enabled   bool   `json:"enabled"`
}

func (s *Server) listRecurrences(w http.ResponseWriter, r *http.Request) {
	recs, err := s.repo.ListRecurrences(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]recurrenceView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recurrenceView{SubjectID: rec.SubjectID, CronExpr: rec.CronExpr, Enabled: rec.Enabled})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
