// Package dispatch walks a contact list and sends one personalized message
// per contact, pacing sends and supporting cancellation mid-run.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Controller owns the contact list and run state of the dispatch queue.
//
// At most one run is active at a time. Each run gets an epoch; Cancel and
// Start bump it, and the run goroutine re-checks it under mu before writing
// any result, so a send that returns after a cancel never touches state.
type Controller struct {
	sender Sender
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu         sync.Mutex
	dataset    *Dataset
	config     Config
	contacts   []Contact
	cursor     int
	processing bool
	cancelled  bool
	runID      string
	epoch      uint64
	stop       context.CancelFunc
	done       chan struct{}

	// pubMu is taken before mu is released so observers see snapshots in
	// the same order the state changed.
	pubMu     sync.Mutex
	subMu     sync.RWMutex
	observers map[uint64]Observer
	nextSub   uint64
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSleep replaces the pacing wait. fn must return a non-nil error when
// ctx is done before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithClock sets the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(sender Sender, opts ...Option) *Controller {
	c := &Controller{
		sender:    sender,
		sleep:     sleepContext,
		now:       time.Now,
		cursor:    -1,
		observers: make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn for snapshots and returns a function that removes it.
func (c *Controller) Subscribe(fn Observer) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.observers[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.observers, id)
			c.subMu.Unlock()
		})
	}
}

// Configure validates cfg against ds and replaces the contact list with one
// pending contact per row.
func (c *Controller) Configure(ds Dataset, cfg Config) ([]Contact, error) {
	if err := validateConfig(ds, cfg); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	contacts := deriveContacts(ds, cfg, c.contacts)
	c.dataset = &ds
	c.config = cfg
	c.contacts = contacts
	c.cursor = -1
	c.cancelled = false
	c.runID = ""
	out := cloneContacts(contacts)
	c.unlockAndPublish()

	log.Debug().Str("file", ds.FileName).Str("phone_column", cfg.PhoneColumn).Int("contacts", len(out)).Msg("dispatch configured")
	return out, nil
}

// Start begins a run over contacts. The run continues in the background
// until every contact has been visited, Cancel is called or ctx is done.
func (c *Controller) Start(ctx context.Context, contacts []Contact, cfg Config) error {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return ErrRunInProgress
	}
	if c.dataset == nil {
		c.mu.Unlock()
		return ErrNotConfigured
	}
	if err := validateConfig(*c.dataset, cfg); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(contacts) == 0 {
		c.mu.Unlock()
		return &ConfigurationError{Field: "contacts", Reason: "contact list is empty"}
	}
	if len(contacts) != len(c.dataset.Rows) {
		c.mu.Unlock()
		return &ConfigurationError{
			Field:  "contacts",
			Reason: fmt.Sprintf("got %d contacts for %d dataset rows", len(contacts), len(c.dataset.Rows)),
		}
	}
	if !c.sender.IsConnected() {
		c.mu.Unlock()
		return ErrNotConnected
	}

	c.epoch++
	c.runID = uuid.NewString()
	c.config = cfg
	c.contacts = cloneContacts(contacts)
	c.cursor = 0
	c.processing = true
	c.cancelled = false

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	c.stop = stop
	// A cancelled run may still have a send in flight; the new run waits
	// for it so the session never sees two sends at once.
	prev := c.done
	c.done = done
	r := run{
		id:    c.runID,
		epoch: c.epoch,
		rows:  c.dataset.Rows,
		cfg:   cfg,
		prev:  prev,
	}

	log.Info().Str("run", r.id).Int("contacts", len(contacts)).Int("interval_s", cfg.IntervalSeconds).Msg("dispatch run started")
	go c.loop(runCtx, r, done)
	c.unlockAndPublish()
	return nil
}

// Cancel stops the active run. Contacts already recorded keep their status;
// a send still in flight completes but its result is discarded. It reports
// whether a run was active.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if !c.processing {
		c.mu.Unlock()
		return false
	}
	runID := c.runID
	c.haltLocked()
	c.unlockAndPublish()

	log.Info().Str("run", runID).Msg("dispatch run cancelled")
	return true
}

// ResetFailed moves every failed contact back to pending so the next Start
// retries them. Sent contacts are kept and will be skipped.
func (c *Controller) ResetFailed() ([]Contact, error) {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	if c.dataset == nil {
		c.mu.Unlock()
		return nil, ErrNotConfigured
	}
	for i := range c.contacts {
		if c.contacts[i].Status == StatusFailed {
			c.contacts[i].Status = StatusPending
			c.contacts[i].ErrorMessage = ""
		}
	}
	c.cancelled = false
	c.runID = ""
	out := cloneContacts(c.contacts)
	c.unlockAndPublish()
	return out, nil
}

// Preview renders tmpl against row index of the configured dataset.
func (c *Controller) Preview(index int, tmpl string) (string, map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dataset == nil {
		return "", nil, ErrNotConfigured
	}
	return Preview(*c.dataset, index, tmpl)
}

// Preview renders tmpl against row index of ds.
func Preview(ds Dataset, index int, tmpl string) (string, map[string]string, error) {
	if index < 0 || index >= len(ds.Rows) {
		return "", nil, &ConfigurationError{Field: "row", Reason: fmt.Sprintf("row %d out of range", index)}
	}
	row := ds.Rows[index]
	return renderMessage(tmpl, row), row, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until the goroutine of the most recent run has exited. After
// Cancel that may be later than the state change, since an in-flight send
// is allowed to finish. A run only exits after the run it replaced.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// haltLocked moves the controller to the idle state and fences off the
// current run.
func (c *Controller) haltLocked() {
	c.epoch++
	c.processing = false
	c.cursor = -1
	c.cancelled = true
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		RunID:        c.runID,
		Config:       c.config,
		Contacts:     cloneContacts(c.contacts),
		Cursor:       c.cursor,
		IsProcessing: c.processing,
		Cancelled:    c.cancelled,
		UpdatedAt:    c.now(),
	}
	if c.dataset != nil {
		s.FileName = c.dataset.FileName
	}
	return s
}

// unlockAndPublish must be called with mu held; it releases mu and delivers
// the snapshot taken while holding it.
func (c *Controller) unlockAndPublish() {
	snap := c.snapshotLocked()
	c.pubMu.Lock()
	c.mu.Unlock()
	defer c.pubMu.Unlock()

	c.subMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range observers {
		notify(fn, snap)
	}
}

func notify(fn Observer, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("dispatch observer panicked")
		}
	}()
	fn(snap)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
