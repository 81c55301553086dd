package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"checkinbot/internal/domain"
)

// Source produces ordered batches of platform events strictly after the
// given offset, long-polling up to timeout. An empty batch is not an error.
type Source interface {
	Poll(ctx context.Context, sinceOffset int64, timeout time.Duration) ([]domain.Event, error)
}

// Forwarder pushes one event to the local ingestion endpoint.
type Forwarder interface {
	Forward(ctx context.Context, ev domain.Event) error
}

// OffsetStore holds the last acknowledged event offset. Must be durable and
// read-after-write consistent for a single relay instance.
type OffsetStore interface {
	Get() (int64, error)
	Set(offset int64) error
}

type state int

const (
	stateIdle state = iota
	statePolling
	stateForwarding
	stateAcking
)

func (s state) String() string {
	switch s {
	case statePolling:
		return "polling"
	case stateForwarding:
		return "forwarding"
	case stateAcking:
		return "acking"
	default:
		return "idle"
	}
}

const forwardAttempts = 3

// Relay bridges the platform's long-poll API to the local webhook. Events
// are forwarded one at a time, in order; the offset is acknowledged only
// after the whole batch was forwarded, so a crash between forward and ack
// replays events (downstream ingestion is idempotent).
type Relay struct {
	source  Source
	fwd     Forwarder
	offsets OffsetStore

	pollTimeout time.Duration
	pollRetreat time.Duration
	backoff     func(attempt int) time.Duration

	state     state
	lastAcked int64
}

func New(source Source, fwd Forwarder, offsets OffsetStore, pollTimeout time.Duration) *Relay {
	return &Relay{
		source:      source,
		fwd:         fwd,
		offsets:     offsets,
		pollTimeout: pollTimeout,
		pollRetreat: 10 * time.Second,
		backoff:     backoffExp,
	}
}

// Run loops until ctx is cancelled. The only fatal error is failing to read
// the persisted offset at startup, after retries.
func (r *Relay) Run(ctx context.Context) error {
	var off int64
	if err := r.retry(ctx, func() error {
		var gerr error
		off, gerr = r.offsets.Get()
		return gerr
	}); err != nil {
		return err
	}
	r.lastAcked = off
	log.Info().Int64("offset", off).Msg("relay started")

	for ctx.Err() == nil {
		r.state = statePolling
		events, err := r.source.Poll(ctx, r.lastAcked, r.pollTimeout)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("poll failed; retrying")
			if !sleep(ctx, r.pollRetreat) {
				break
			}
			continue
		}
		if len(events) == 0 {
			// Long-poll timeout with nothing new; same offset again.
			continue
		}

		r.state = stateForwarding
		if !r.forwardBatch(ctx, events) {
			// Abandoned mid-batch: re-fetch from the same un-acked offset.
			continue
		}

		r.state = stateAcking
		r.ack(ctx, events[len(events)-1].Offset)
	}
	r.state = stateIdle
	log.Info().Int64("offset", r.lastAcked).Msg("relay stopped")
	return nil
}

// forwardBatch delivers events in order. A single failing event is retried
// with backoff; if it keeps failing the batch is abandoned so the relay
// never skips ahead past it.
func (r *Relay) forwardBatch(ctx context.Context, events []domain.Event) bool {
	for _, ev := range events {
		var err error
		for attempt := 0; attempt < forwardAttempts; attempt++ {
			if err = r.fwd.Forward(ctx, ev); err == nil {
				break
			}
			if ctx.Err() != nil || attempt == forwardAttempts-1 {
				break
			}
			log.Warn().Err(err).Int64("offset", ev.Offset).Int("attempt", attempt+1).Msg("forward failed; retrying")
			if !sleep(ctx, r.backoff(attempt)) {
				return false
			}
		}
		if err != nil {
			log.Error().Err(err).Int64("offset", ev.Offset).Msg("forward failed; abandoning batch")
			return false
		}
		log.Debug().Int64("offset", ev.Offset).Msg("event forwarded")
	}
	return true
}

func (r *Relay) ack(ctx context.Context, offset int64) {
	if offset <= r.lastAcked {
		return
	}
	if err := r.retry(ctx, func() error {
		return r.offsets.Set(offset)
	}); err != nil {
		// Events will be replayed after a restart; ingestion tolerates that.
		log.Error().Err(err).Int64("offset", offset).Msg("offset persist failed")
	}
	r.lastAcked = offset
	log.Debug().Str("state", r.state.String()).Int64("offset", offset).Msg("offset acknowledged")
}

// retry runs op with bounded exponential backoff, for transient offset
// store errors.
func (r *Relay) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < forwardAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == forwardAttempts-1 || ctx.Err() != nil {
			break
		}
		if !sleep(ctx, r.backoff(attempt)) {
			break
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func backoffExp(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	d := 1 << attempt
	if d > 30 {
		d = 30
	}
	return time.Duration(d) * time.Second
}
