package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"checkinbot/internal/domain"
	"checkinbot/internal/engine"
	"checkinbot/internal/store"
)

// Sender is the outbound delivery boundary. Failures are non-fatal to the
// loop: a failed send is logged and the task is considered consumed.
type Sender interface {
	Send(ctx context.Context, subjectID int64, payload json.RawMessage) error
}

// Loop is the single coordinator that sleeps until the next due time, pops
// due tasks and hands them to delivery. It is the only caller of PopIfDue.
type Loop struct {
	eng    *engine.Engine
	sender Sender
	repo   store.Repository
	now    func() time.Time
}

func New(eng *engine.Engine, sender Sender, repo store.Repository) *Loop {
	return &Loop{eng: eng, sender: sender, repo: repo, now: time.Now}
}

// Run blocks until ctx is cancelled. The wait is interrupted early whenever
// the engine's minimum due time changes, so a reschedule to an earlier time
// fires at the earlier time, not at the old one.
func (l *Loop) Run(ctx context.Context) {
	log.Info().Msg("dispatch loop started")
	for {
		l.drainDue(ctx)

		var timer *time.Timer
		var timerC <-chan time.Time
		if next, ok := l.eng.PeekNextDue(); ok {
			d := next.Sub(l.now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Info().Msg("dispatch loop stopped")
			return
		case <-l.eng.Wake():
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) drainDue(ctx context.Context) {
	for {
		task, ok, err := l.eng.PopIfDue(l.now())
		if err != nil {
			log.Warn().Err(err).Int64("subject", task.SubjectID).Msg("durable mirror behind after pop")
		}
		if !ok {
			return
		}
		l.deliver(ctx, task)
		l.rearm(ctx, task)
	}
}

func (l *Loop) deliver(ctx context.Context, task domain.Task) {
	err := l.sender.Send(ctx, task.SubjectID, task.Payload)
	if err != nil {
		// Best-effort notification: no requeue.
		log.Error().Err(err).Int64("subject", task.SubjectID).Time("due", task.DueAt).Msg("delivery failed; task consumed")
	}
	if l.repo == nil {
		return
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if aerr := l.repo.RecordDelivery(ctx, task.SubjectID, err == nil, errText); aerr != nil {
		log.Warn().Err(aerr).Int64("subject", task.SubjectID).Msg("delivery audit write failed")
	}
}

// rearm schedules the subject's next check-in when it has an enabled
// recurrence rule.
func (l *Loop) rearm(ctx context.Context, task domain.Task) {
	if l.repo == nil {
		return
	}
	rec, err := l.repo.GetRecurrence(ctx, task.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Int64("subject", task.SubjectID).Msg("recurrence lookup failed")
		return
	}
	if !rec.Enabled {
		return
	}
	sched, err := cron.ParseStandard(rec.CronExpr)
	if err != nil {
		log.Error().Err(err).Int64("subject", task.SubjectID).Str("cron_expr", rec.CronExpr).Msg("invalid recurrence expression")
		return
	}
	next := sched.Next(l.now())
	payload := rec.Payload
	if len(payload) == 0 {
		payload = task.Payload
	}
	if err := l.eng.Schedule(ctx, task.SubjectID, next, payload); err != nil {
		log.Error().Err(err).Int64("subject", task.SubjectID).Msg("failed to re-arm recurrence")
		return
	}
	log.Info().Int64("subject", task.SubjectID).Time("next_run", next).Msg("recurrence re-armed")
}
