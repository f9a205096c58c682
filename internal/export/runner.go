// Package export orchestrates export attempts: one runner, one attempt in
// flight, results broadcast to subscribers and recorded in the store.
package export

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"camforge/internal/logging"
	"camforge/internal/session"
	"camforge/internal/storage"
)

// ErrExportInFlight is returned by Submit while a previous attempt is still
// outstanding. The refusal is deliberate; attempts never queue up.
var ErrExportInFlight = errors.New("an export is already in flight")

// Request asks for one export attempt over a session's current state.
type Request struct {
	ID      string
	Session *session.Session
}

// Result captures the outcome of an attempt.
type Result struct {
	Request  Request
	Mode     session.Mode
	AssetID  string
	Artifact string
	Error    error
}

// Processor executes an attempt and returns a Result.
type Processor interface {
	Process(ctx context.Context, req Request) Result
}

// Runner owns the single export worker.
type Runner struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Request
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New starts the worker. The jobs channel is unbuffered on purpose: a
// submit succeeds only when the worker is idle and ready to take it.
func New(ctx context.Context, processor Processor, logger *slog.Logger, store *storage.Store) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		processor: processor,
		log:       logger,
		jobs:      make(chan Request),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}
	r.wg.Add(1)
	go r.worker(ctx)
	return r
}

// Submit hands req to the worker, refusing when an attempt is in flight.
// The queued row is written before the hand-off: a fast worker can finish
// the attempt before Submit returns, and a late insert would reset the
// recorded outcome back to queued.
func (r *Runner) Submit(req Request) error {
	if r.store != nil {
		_ = r.store.RecordQueued(storage.AttemptRecord{
			ID:         req.ID,
			Mode:       string(req.Session.Mode()),
			Status:     "queued",
			SessionID:  req.Session.ID(),
			FieldsJSON: storage.MarshalFields(req.Session.Fields()),
		})
	}
	select {
	case r.jobs <- req:
		return nil
	default:
		if r.store != nil {
			_ = r.store.DiscardQueued(req.ID)
		}
		return ErrExportInFlight
	}
}

// Stop signals the worker to exit and waits for completion.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		close(r.jobs)
		r.wg.Wait()
		r.mu.Lock()
		for id, ch := range r.subs {
			close(ch)
			delete(r.subs, id)
		}
		r.mu.Unlock()
	})
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-r.jobs:
			if !ok {
				return
			}
			start := time.Now()
			mode := string(req.Session.Mode())

			logging.LogExportStart(r.log, mode, req.ID, nil)
			if r.store != nil {
				_ = r.store.RecordStart(req.ID)
			}

			res := r.processor.Process(ctx, req)
			duration := time.Since(start)

			if res.Error != nil {
				logging.LogExportError(r.log, mode, req.ID, duration, res.Error)
				if r.store != nil {
					_ = r.store.RecordResult(req.ID, "failed", "", res.AssetID, res.Error.Error())
				}
			} else {
				logging.LogExportComplete(r.log, mode, req.ID, duration, res.Artifact)
				if r.store != nil {
					_ = r.store.RecordResult(req.ID, "completed", res.Artifact, res.AssetID, "")
				}
			}

			r.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving results and an unsubscribe
// function.
func (r *Runner) Subscribe() (<-chan Result, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	ch := make(chan Result, 8)
	r.subs[id] = ch
	unsub := func() {
		r.mu.Lock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
		r.mu.Unlock()
	}
	return ch, unsub
}

func (r *Runner) broadcast(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- res:
		default:
			r.log.Warn("result channel full", "subscriber", id, "attempt", res.Request.ID)
		}
	}
}
