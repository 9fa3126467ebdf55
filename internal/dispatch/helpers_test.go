package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type sendCall struct {
	phone string
	text  string
	at    time.Time
}

// fakeSender records calls and delegates the outcome to fn.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	calls     []sendCall
	fn        func(n int, phone, text string) error

	active    int
	maxActive int
}

func newFakeSender() *fakeSender {
	return &fakeSender{connected: true}
}

func (f *fakeSender) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeSender) Send(ctx context.Context, phone, text string) error {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, sendCall{phone: phone, text: text, at: time.Now()})
	fn := f.fn
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if fn == nil {
		return nil
	}
	return fn(n, phone, text)
}

// MaxConcurrent is the highest number of Send calls seen in flight at once.
func (f *fakeSender) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeSender) Calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// sleepRecorder is a pacing wait that returns immediately and remembers the
// requested durations.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// snapshotLog collects every published snapshot.
type snapshotLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapshotLog) Observe(s Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

func (l *snapshotLog) All() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Snapshot(nil), l.snaps...)
}

func testDataset() Dataset {
	return Dataset{
		FileName: "contacts.csv",
		Columns:  []string{"name", "phone", "company"},
		Rows: []map[string]string{
			{"name": "Ana", "phone": "+55 (11) 91234-5678", "company": "Acme"},
			{"name": "Bruno", "phone": "+55 21 98888-0000", "company": "Globex"},
			{"name": "Carla", "phone": "5531977776666", "company": "Initech"},
		},
	}
}

func testConfig() Config {
	return Config{
		PhoneColumn:     "phone",
		MessageTemplate: "Hello {name}, from {company}",
		IntervalSeconds: 2,
	}
}

// configured returns a controller with testDataset loaded.
func configured(t *testing.T, sender Sender, opts ...Option) (*Controller, []Contact) {
	t.Helper()
	c := NewController(sender, opts...)
	contacts, err := c.Configure(testDataset(), testConfig())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return c, contacts
}

func waitRun(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("run did not finish: %v", err)
	}
}

func statuses(contacts []Contact) []Status {
	out := make([]Status, len(contacts))
	for i, c := range contacts {
		out[i] = c.Status
	}
	return out
}
