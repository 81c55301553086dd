package engine

import (
	"container/heap"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"checkinbot/internal/domain"
)

// Gateway is the durable mirror of the live task set. It holds no ordering
// logic; the engine rebuilds its in-memory state from it at startup.
type Gateway interface {
	Upsert(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, subjectID int64) error
	LoadAll(ctx context.Context) ([]domain.Task, error)
}

const writeAttempts = 3

// Engine owns the priority structure over all pending check-ins. It is the
// sole authority on what is due now and what fires next. All mutations are
// serialized by a single mutex; durable writes happen outside of it.
type Engine struct {
	gw Gateway

	mu        sync.Mutex
	heap      taskHeap
	bySubject map[int64]*entry
	seq       uint64

	wake chan struct{}

	// overridable in tests
	backoff func(attempt int) time.Duration
}

func New(gw Gateway) *Engine {
	return &Engine{
		gw:        gw,
		bySubject: make(map[int64]*entry),
		wake:      make(chan struct{}, 1),
		backoff:   backoffExp,
	}
}

// Wake signals whenever the minimum due time changes. The channel is
// buffered; a blocked dispatch loop sees at most one pending signal.
func (e *Engine) Wake() <-chan struct{} { return e.wake }

// Rebuild loads the durable task set and replaces the in-memory structure.
// Called once at startup, before any other method.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	var tasks []domain.Task
	err := e.retry(ctx, func() error {
		var lerr error
		tasks, lerr = e.gw.LoadAll(ctx)
		return lerr
	})
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.heap = e.heap[:0]
	e.bySubject = make(map[int64]*entry, len(tasks))
	e.seq = 0
	for _, t := range tasks {
		e.seq++
		ent := &entry{subjectID: t.SubjectID, dueAt: t.DueAt, payload: t.Payload, seq: e.seq}
		e.heap = append(e.heap, ent)
		e.bySubject[t.SubjectID] = ent
	}
	for i, ent := range e.heap {
		ent.index = i
	}
	heap.Init(&e.heap)
	e.mu.Unlock()

	e.notify()
	return len(tasks), nil
}

// Schedule inserts a task for the subject, or replaces the existing one's
// due time and payload in place. There is never a window where the subject
// has zero or two entries.
func (e *Engine) Schedule(ctx context.Context, subjectID int64, dueAt time.Time, payload json.RawMessage) error {
	e.mu.Lock()
	prevMin, hadMin := e.minLocked()
	if ent, ok := e.bySubject[subjectID]; ok {
		ent.dueAt = dueAt
		ent.payload = payload
		heap.Fix(&e.heap, ent.index)
	} else {
		e.seq++
		ent := &entry{subjectID: subjectID, dueAt: dueAt, payload: payload, seq: e.seq}
		heap.Push(&e.heap, ent)
		e.bySubject[subjectID] = ent
	}
	newMin, _ := e.minLocked()
	e.mu.Unlock()

	if !hadMin || !newMin.Equal(prevMin) {
		e.notify()
	}

	now := time.Now()
	if err := e.retry(ctx, func() error {
		return e.gw.Upsert(ctx, domain.Task{SubjectID: subjectID, DueAt: dueAt, Payload: payload, CreatedAt: now, UpdatedAt: now})
	}); err != nil {
		log.Error().Err(err).Int64("subject", subjectID).Msg("task upsert dropped; in-memory state authoritative")
		return err
	}
	return nil
}

// Cancel removes the subject's live entry if present. Cancelling an unknown
// subject is not an error.
func (e *Engine) Cancel(ctx context.Context, subjectID int64) error {
	e.mu.Lock()
	ent, ok := e.bySubject[subjectID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	wasHead := ent.index == 0
	heap.Remove(&e.heap, ent.index)
	delete(e.bySubject, subjectID)
	e.mu.Unlock()

	if wasHead {
		e.notify()
	}

	if err := e.retry(ctx, func() error {
		return e.gw.Delete(ctx, subjectID)
	}); err != nil {
		log.Error().Err(err).Int64("subject", subjectID).Msg("task delete dropped; in-memory state authoritative")
		return err
	}
	return nil
}

// PeekNextDue returns the minimum due time across all live entries.
func (e *Engine) PeekNextDue() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.minLocked()
}

// PopIfDue removes and returns the minimum entry if it is due at now.
// A non-nil error means the durable mirror could not be updated; the task
// is still considered claimed by the caller.
func (e *Engine) PopIfDue(now time.Time) (domain.Task, bool, error) {
	e.mu.Lock()
	if len(e.heap) == 0 || e.heap[0].dueAt.After(now) {
		e.mu.Unlock()
		return domain.Task{}, false, nil
	}
	ent := heap.Pop(&e.heap).(*entry)
	delete(e.bySubject, ent.subjectID)
	e.mu.Unlock()

	t := domain.Task{SubjectID: ent.subjectID, DueAt: ent.dueAt, Payload: ent.payload}
	if err := e.retry(context.Background(), func() error {
		return e.gw.Delete(context.Background(), ent.subjectID)
	}); err != nil {
		return t, true, err
	}
	return t, true, nil
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.heap)
}

// Snapshot returns all live entries ordered by due time, for the ops API.
func (e *Engine) Snapshot() []domain.Task {
	e.mu.Lock()
	tasks := make([]domain.Task, 0, len(e.heap))
	for _, ent := range e.heap {
		tasks = append(tasks, domain.Task{SubjectID: ent.subjectID, DueAt: ent.dueAt, Payload: ent.payload})
	}
	e.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].DueAt.Before(tasks[j].DueAt) })
	return tasks
}

func (e *Engine) minLocked() (time.Time, bool) {
	if len(e.heap) == 0 {
		return time.Time{}, false
	}
	return e.heap[0].dueAt, true
}

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == writeAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff(attempt)):
		}
	}
	return err
}

func backoffExp(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	d := 1 << attempt // 1,2,4...
	if d > 30 {
		d = 30
	}
	return time.Duration(d) * time.Second
}
