package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/dispatch"
)

const recordTimeout = 5 * time.Second

// Recorder persists dispatch snapshots on its own goroutine. Observe only
// queues the snapshot, so the controller never waits on the database.
// Consecutive snapshots of the same run are coalesced; RecordSnapshot diffs
// against the last recorded one, so no status change is lost.
type Recorder struct {
	store *Store

	mu      sync.Mutex
	pending []dispatch.Snapshot
	wake    chan struct{}
	flush   chan chan struct{}
}

func NewRecorder(s *Store) *Recorder {
	return &Recorder{
		store: s,
		wake:  make(chan struct{}, 1),
		flush: make(chan chan struct{}),
	}
}

// Observe is a dispatch.Observer.
func (r *Recorder) Observe(snap dispatch.Snapshot) {
	if snap.RunID == "" {
		return
	}
	r.mu.Lock()
	if n := len(r.pending); n > 0 && r.pending[n-1].RunID == snap.RunID {
		r.pending[n-1] = snap
	} else {
		r.pending = append(r.pending, snap)
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run writes queued snapshots until ctx is done, then writes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case <-r.wake:
			r.drain()
		case ack := <-r.flush:
			r.drain()
			close(ack)
		}
	}
}

// Flush blocks until every snapshot observed before the call is written.
// Run must be active.
func (r *Recorder) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case r.flush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) drain() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, snap := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.store.RecordSnapshot(ctx, snap); err != nil {
			log.Error().Err(err).Str("run", snap.RunID).Msg("failed to record dispatch snapshot")
		}
		cancel()
	}
}
