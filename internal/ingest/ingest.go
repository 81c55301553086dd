package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"checkinbot/internal/domain"
	"checkinbot/internal/store"
)

// Scheduler is the slice of the engine the adapter needs.
type Scheduler interface {
	Schedule(ctx context.Context, subjectID int64, dueAt time.Time, payload json.RawMessage) error
	Cancel(ctx context.Context, subjectID int64) error
}

// Handler turns inbound platform events into scheduler mutations. It must be
// idempotent: the relay may deliver the same event more than once.
type Handler struct {
	sched    Scheduler
	repo     store.Repository
	interval time.Duration
	now      func() time.Time
}

func New(sched Scheduler, repo store.Repository, interval time.Duration) *Handler {
	return &Handler{sched: sched, repo: repo, interval: interval, now: time.Now}
}

// HandleEvent processes one raw update. Events the bot cannot use are
// acknowledged and dropped; only storage-layer failures propagate.
func (h *Handler) HandleEvent(ctx context.Context, raw json.RawMessage) error {
	var u domain.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		log.Warn().Err(err).Msg("undecodable update dropped")
		return nil
	}
	if u.Message == nil || u.Message.Chat == nil {
		log.Debug().Int64("update_id", u.UpdateID).Msg("update without message chat ignored")
		return nil
	}

	subject := u.Message.Chat.ID
	text := strings.TrimSpace(u.Message.Text)

	switch {
	case text == "/stop":
		return h.stop(ctx, subject)
	case strings.HasPrefix(text, "/checkin "):
		return h.installRecurrence(ctx, subject, strings.TrimSpace(strings.TrimPrefix(text, "/checkin ")))
	default:
		// Any interaction re-arms the subject's check-in. Last write wins,
		// so a duplicate forward of the same event is harmless.
		due := h.now().Add(h.interval)
		log.Info().Int64("subject", subject).Time("due", due).Msg("check-in armed")
		return h.sched.Schedule(ctx, subject, due, promptPayload(""))
	}
}

func (h *Handler) stop(ctx context.Context, subject int64) error {
	if err := h.sched.Cancel(ctx, subject); err != nil {
		return err
	}
	if err := h.repo.DeleteRecurrence(ctx, subject); err != nil {
		log.Warn().Err(err).Int64("subject", subject).Msg("recurrence delete failed")
	}
	log.Info().Int64("subject", subject).Msg("check-ins stopped")
	return nil
}

func (h *Handler) installRecurrence(ctx context.Context, subject int64, expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		log.Warn().Err(err).Int64("subject", subject).Str("cron_expr", expr).Msg("invalid recurrence expression ignored")
		return nil
	}
	if err := h.repo.PutRecurrence(ctx, domain.Recurrence{SubjectID: subject, CronExpr: expr, Enabled: true}); err != nil {
		return err
	}
	next := sched.Next(h.now())
	log.Info().Int64("subject", subject).Str("cron_expr", expr).Time("next_run", next).Msg("recurrence installed")
	return h.sched.Schedule(ctx, subject, next, promptPayload(""))
}

func promptPayload(text string) json.RawMessage {
	b, _ := json.Marshal(domain.PromptPayload{Text: text})
	return b
}
