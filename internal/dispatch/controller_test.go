package dispatch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestConfigureRejectsUnknownPhoneColumn(t *testing.T) {
	c := NewController(newFakeSender())
	cfg := testConfig()
	cfg.PhoneColumn = "mobile"

	contacts, err := c.Configure(testDataset(), cfg)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "phone_column" {
		t.Errorf("Field = %q, want phone_column", cfgErr.Field)
	}
	if contacts != nil {
		t.Errorf("expected no contacts, got %d", len(contacts))
	}
	if got := c.Snapshot().Contacts; got != nil {
		t.Errorf("state should be untouched, got %d contacts", len(got))
	}
}

func TestConfigureValidation(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"empty template", func(c *Config) { c.MessageTemplate = "" }, "message_template"},
		{"whitespace template", func(c *Config) { c.MessageTemplate = " \n\t " }, "message_template"},
		{"empty phone column", func(c *Config) { c.PhoneColumn = "" }, "phone_column"},
		{"interval zero", func(c *Config) { c.IntervalSeconds = 0 }, "interval_seconds"},
		{"interval too large", func(c *Config) { c.IntervalSeconds = 61 }, "interval_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mod(&cfg)
			_, err := NewController(newFakeSender()).Configure(testDataset(), cfg)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}

	for _, n := range []int{MinIntervalSeconds, MaxIntervalSeconds} {
		cfg := testConfig()
		cfg.IntervalSeconds = n
		if _, err := NewController(newFakeSender()).Configure(testDataset(), cfg); err != nil {
			t.Errorf("interval %d should be accepted: %v", n, err)
		}
	}
}

func TestConfigureDerivesContacts(t *testing.T) {
	_, contacts := configured(t, newFakeSender())
	if len(contacts) != 3 {
		t.Fatalf("expected 3 contacts, got %d", len(contacts))
	}
	seen := map[string]bool{}
	for i, ct := range contacts {
		if ct.Status != StatusPending {
			t.Errorf("contact %d status = %s, want pending", i, ct.Status)
		}
		if ct.ID == "" || seen[ct.ID] {
			t.Errorf("contact %d has empty or duplicate ID %q", i, ct.ID)
		}
		seen[ct.ID] = true
	}
	if contacts[0].Name != "Ana" || contacts[0].Phone != "+55 (11) 91234-5678" {
		t.Errorf("unexpected first contact: %+v", contacts[0])
	}
}

func TestConfigureNameFallback(t *testing.T) {
	ds := Dataset{
		Columns: []string{"nome", "celular"},
		Rows: []map[string]string{
			{"nome": "Joana", "celular": "1"},
			{"nome": "", "celular": "2"},
		},
	}
	contacts, err := NewController(newFakeSender()).Configure(ds, Config{PhoneColumn: "celular", MessageTemplate: "oi", IntervalSeconds: 1})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if contacts[0].Name != "Joana" {
		t.Errorf("Name = %q, want first column value", contacts[0].Name)
	}
	if contacts[1].Name != "Unknown" {
		t.Errorf("Name = %q, want Unknown", contacts[1].Name)
	}
}

func TestConfigureReusesIDsByPosition(t *testing.T) {
	c, first := configured(t, newFakeSender())

	ds := testDataset()
	ds.Rows = append(ds.Rows, map[string]string{"name": "Davi", "phone": "55 11 90000-0001", "company": "Umbrella"})
	cfg := testConfig()
	cfg.PhoneColumn = "company"

	second, err := c.Configure(ds, cfg)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for i := range first {
		if second[i].ID != first[i].ID {
			t.Errorf("contact %d ID changed: %s -> %s", i, first[i].ID, second[i].ID)
		}
	}
	if second[3].ID == "" || second[3].ID == first[0].ID {
		t.Errorf("new row should get a fresh ID, got %q", second[3].ID)
	}
	if second[0].Phone != "Acme" {
		t.Errorf("phone should come from the new column, got %q", second[0].Phone)
	}
}

func TestRunCompletesInOrder(t *testing.T) {
	sender := newFakeSender()
	sender.fn = func(n int, phone, text string) error {
		if n == 1 {
			return &SendFailure{Reason: "recipient unavailable"}
		}
		return nil
	}
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	snap := c.Snapshot()
	if snap.IsProcessing || snap.Cursor != -1 {
		t.Fatalf("expected idle terminal state, got processing=%v cursor=%d", snap.IsProcessing, snap.Cursor)
	}
	want := []Status{StatusSent, StatusFailed, StatusSent}
	if got := statuses(snap.Contacts); !reflect.DeepEqual(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if snap.Contacts[1].ErrorMessage != "recipient unavailable" {
		t.Errorf("ErrorMessage = %q", snap.Contacts[1].ErrorMessage)
	}
	if snap.Contacts[0].ErrorMessage != "" {
		t.Errorf("sent contact should have no error, got %q", snap.Contacts[0].ErrorMessage)
	}
	if snap.Cancelled {
		t.Error("completed run should not be marked cancelled")
	}

	calls := sender.Calls()
	wantPhones := []string{"5511912345678", "5521988880000", "5531977776666"}
	wantTexts := []string{"Hello Ana, from Acme", "Hello Bruno, from Globex", "Hello Carla, from Initech"}
	if len(calls) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(calls))
	}
	for i, call := range calls {
		if call.phone != wantPhones[i] || call.text != wantTexts[i] {
			t.Errorf("call %d = (%q, %q), want (%q, %q)", i, call.phone, call.text, wantPhones[i], wantTexts[i])
		}
	}

	waits := sleeper.Waits()
	if len(waits) != 3 {
		t.Fatalf("expected a pacing wait after each contact, got %d", len(waits))
	}
	for _, w := range waits {
		if w != 2*time.Second {
			t.Errorf("wait = %v, want 2s", w)
		}
	}
}

func TestObserversSeeStatusBeforeAdvance(t *testing.T) {
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, newFakeSender(), WithSleep(sleeper.Sleep))
	var obs snapshotLog
	unsubscribe := c.Subscribe(obs.Observe)
	defer unsubscribe()

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	snaps := obs.All()
	if len(snaps) == 0 {
		t.Fatal("no snapshots published")
	}
	if first := snaps[0]; !first.IsProcessing || first.Cursor != 0 {
		t.Errorf("first snapshot should be the run start, got processing=%v cursor=%d", first.IsProcessing, first.Cursor)
	}
	if last := snaps[len(snaps)-1]; last.IsProcessing || last.Cursor != -1 {
		t.Errorf("last snapshot should be terminal, got processing=%v cursor=%d", last.IsProcessing, last.Cursor)
	}

	// For every snapshot positioned on contact i+1, contact i must
	// already be resolved.
	for _, s := range snaps {
		if s.IsProcessing != (s.Cursor >= 0 && s.Cursor < len(s.Contacts)) {
			t.Fatalf("invariant broken: processing=%v cursor=%d", s.IsProcessing, s.Cursor)
		}
		for i := 0; i < s.Cursor; i++ {
			if s.Contacts[i].Status == StatusPending {
				t.Fatalf("cursor %d reached before contact %d was resolved", s.Cursor, i)
			}
		}
	}

	// Cursor never moves backwards within a run.
	prev := 0
	for _, s := range snaps {
		if s.Cursor == -1 {
			continue
		}
		if s.Cursor < prev {
			t.Fatalf("cursor moved backwards: %d -> %d", prev, s.Cursor)
		}
		prev = s.Cursor
	}
}

func TestUnexpectedFaultsAreRecordedAsFailures(t *testing.T) {
	sender := newFakeSender()
	sender.fn = func(n int, phone, text string) error {
		switch n {
		case 0:
			return errors.New("dial tcp: connection refused")
		case 1:
			panic("transport exploded")
		default:
			return &SendFailure{Reason: "Failed to send message. Recipient might be unavailable."}
		}
	}
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	snap := c.Snapshot()
	for i, ct := range snap.Contacts {
		if ct.Status != StatusFailed {
			t.Errorf("contact %d status = %s, want failed", i, ct.Status)
		}
		if ct.ErrorMessage == "" {
			t.Errorf("contact %d has no error message", i)
		}
	}
	if snap.Contacts[0].ErrorMessage != genericSendError || snap.Contacts[1].ErrorMessage != genericSendError {
		t.Errorf("unexpected faults should use the generic message, got %q and %q",
			snap.Contacts[0].ErrorMessage, snap.Contacts[1].ErrorMessage)
	}
	if len(sender.Calls()) != 3 {
		t.Errorf("run should continue past faults, got %d sends", len(sender.Calls()))
	}
}

func TestCancelBetweenContacts(t *testing.T) {
	sender := newFakeSender()
	sleeping := make(chan struct{}, 1)
	blockingSleep := func(ctx context.Context, d time.Duration) error {
		select {
		case sleeping <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	c, contacts := configured(t, sender, WithSleep(blockingSleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-sleeping // contact 0 recorded, waiting out the interval

	if !c.Cancel() {
		t.Fatal("Cancel should report an active run")
	}
	waitRun(t, c)

	snap := c.Snapshot()
	if snap.IsProcessing || snap.Cursor != -1 {
		t.Fatalf("expected idle state, got processing=%v cursor=%d", snap.IsProcessing, snap.Cursor)
	}
	if !snap.Cancelled {
		t.Error("snapshot should be marked cancelled")
	}
	want := []Status{StatusSent, StatusPending, StatusPending}
	if got := statuses(snap.Contacts); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if len(sender.Calls()) != 1 {
		t.Errorf("expected 1 send, got %d", len(sender.Calls()))
	}
	if c.Cancel() {
		t.Error("second Cancel should be a no-op")
	}
}

func TestCancelFencesInFlightSend(t *testing.T) {
	sender := newFakeSender()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	sender.fn = func(n int, phone, text string) error {
		if n == 1 {
			close(inFlight)
			<-release
		}
		return nil
	}
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-inFlight
	c.Cancel()

	snap := c.Snapshot()
	if snap.IsProcessing || snap.Cursor != -1 {
		t.Fatalf("cancel should take effect immediately, got processing=%v cursor=%d", snap.IsProcessing, snap.Cursor)
	}

	close(release)
	waitRun(t, c)

	snap = c.Snapshot()
	want := []Status{StatusSent, StatusPending, StatusPending}
	if got := statuses(snap.Contacts); !reflect.DeepEqual(got, want) {
		t.Errorf("late result leaked into state: statuses = %v, want %v", got, want)
	}
	if len(sender.Calls()) != 2 {
		t.Errorf("no send should follow the cancelled one, got %d sends", len(sender.Calls()))
	}
}

func TestLateResultDoesNotOverwriteNextRun(t *testing.T) {
	sender := newFakeSender()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	sender.fn = func(n int, phone, text string) error {
		if n == 0 {
			close(inFlight)
			<-release
			return nil
		}
		return &SendFailure{Reason: "second run"}
	}
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-inFlight
	c.Cancel()

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	second := c.Snapshot()
	if !second.IsProcessing {
		t.Fatal("second run should be processing")
	}

	// The first run's goroutine wakes up, sees a newer epoch and exits;
	// only then does the second run send.
	close(release)
	waitRun(t, c)

	after := c.Snapshot()
	if after.RunID != second.RunID {
		t.Fatalf("run ID changed: %s -> %s", second.RunID, after.RunID)
	}
	for i, ct := range after.Contacts {
		if ct.Status != StatusFailed || ct.ErrorMessage != "second run" {
			t.Errorf("contact %d = %s/%q, want failed/second run", i, ct.Status, ct.ErrorMessage)
		}
	}
}

func TestStartAfterCancelNeverOverlapsSends(t *testing.T) {
	sender := newFakeSender()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	sender.fn = func(n int, phone, text string) error {
		if n == 0 {
			close(inFlight)
			<-release
		}
		return nil
	}
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-inFlight
	if !c.Cancel() {
		t.Fatal("Cancel should report an active run")
	}
	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(sender.Calls()); n != 1 {
		t.Fatalf("new run sent while the cancelled send was in flight: %d calls", n)
	}

	close(release)
	waitRun(t, c)

	if got := sender.MaxConcurrent(); got != 1 {
		t.Errorf("max concurrent sends = %d, want 1", got)
	}
	if n := len(sender.Calls()); n != 4 {
		t.Errorf("expected 1 cancelled + 3 new sends, got %d", n)
	}
	if got := c.Snapshot().Stats(); got.Sent != 3 {
		t.Errorf("stats = %+v, want 3 sent", got)
	}
}

func TestCancelWhileWaitingForPreviousRun(t *testing.T) {
	sender := newFakeSender()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	sender.fn = func(n int, phone, text string) error {
		if n == 0 {
			close(inFlight)
			<-release
		}
		return nil
	}
	c, contacts := configured(t, sender, WithSleep((&sleepRecorder{}).Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatal(err)
	}
	<-inFlight
	c.Cancel()
	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatal(err)
	}
	c.Cancel()
	close(release)
	waitRun(t, c)

	if n := len(sender.Calls()); n != 1 {
		t.Errorf("cancelled runs should not send again, got %d calls", n)
	}
	if snap := c.Snapshot(); snap.IsProcessing || !snap.Cancelled {
		t.Errorf("unexpected state %+v", snap)
	}
}

func TestStartRejections(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		c := NewController(newFakeSender())
		err := c.Start(context.Background(), []Contact{{ID: "x", Status: StatusPending}}, testConfig())
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("disconnected", func(t *testing.T) {
		sender := newFakeSender()
		sender.setConnected(false)
		c, contacts := configured(t, sender)
		if err := c.Start(context.Background(), contacts, testConfig()); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if c.Snapshot().IsProcessing {
			t.Error("run should not start while disconnected")
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		c, contacts := configured(t, newFakeSender())
		var cfgErr *ConfigurationError
		if err := c.Start(context.Background(), contacts[:2], testConfig()); !errors.As(err, &cfgErr) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		c, _ := configured(t, newFakeSender())
		var cfgErr *ConfigurationError
		if err := c.Start(context.Background(), nil, testConfig()); !errors.As(err, &cfgErr) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("already running", func(t *testing.T) {
		block := func(ctx context.Context, d time.Duration) error {
			<-ctx.Done()
			return ctx.Err()
		}
		c, contacts := configured(t, newFakeSender(), WithSleep(block))
		if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer c.Cancel()
		if err := c.Start(context.Background(), contacts, testConfig()); !errors.Is(err, ErrRunInProgress) {
			t.Errorf("expected ErrRunInProgress, got %v", err)
		}
		if _, err := c.Configure(testDataset(), testConfig()); !errors.Is(err, ErrRunInProgress) {
			t.Errorf("Configure during run: expected ErrRunInProgress, got %v", err)
		}
	})
}

func TestSkipsContactsResolvedEarlier(t *testing.T) {
	sender := newFakeSender()
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))
	contacts[0].Status = StatusSent
	contacts[2].Status = StatusFailed
	contacts[2].ErrorMessage = "earlier"

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	calls := sender.Calls()
	if len(calls) != 1 || calls[0].phone != "5521988880000" {
		t.Fatalf("only the pending contact should be sent, got %+v", calls)
	}
	snap := c.Snapshot()
	if snap.Contacts[2].ErrorMessage != "earlier" {
		t.Errorf("resolved contact should be untouched, got %q", snap.Contacts[2].ErrorMessage)
	}
	if len(sleeper.Waits()) != 3 {
		t.Errorf("pacing applies to every visited contact, got %d waits", len(sleeper.Waits()))
	}
}

func TestResetFailedRetriesOnlyFailures(t *testing.T) {
	sender := newFakeSender()
	var failFirstPass = true
	sender.fn = func(n int, phone, text string) error {
		if failFirstPass && n == 2 {
			return &SendFailure{Reason: "busy"}
		}
		return nil
	}
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)
	failFirstPass = false

	retry, err := c.ResetFailed()
	if err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}
	if got := statuses(retry); !reflect.DeepEqual(got, []Status{StatusSent, StatusSent, StatusPending}) {
		t.Fatalf("statuses after reset = %v", got)
	}
	if retry[2].ErrorMessage != "" {
		t.Errorf("reset should clear the error, got %q", retry[2].ErrorMessage)
	}
	if id := c.Snapshot().RunID; id != "" {
		t.Errorf("reset contacts belong to no run yet, got run %s", id)
	}

	if err := c.Start(context.Background(), retry, testConfig()); err != nil {
		t.Fatalf("Start retry: %v", err)
	}
	waitRun(t, c)

	calls := sender.Calls()
	if len(calls) != 4 || calls[3].phone != "5531977776666" {
		t.Fatalf("retry should resend only the failed contact, got %d calls", len(calls))
	}
	if got := statuses(c.Snapshot().Contacts); !reflect.DeepEqual(got, []Status{StatusSent, StatusSent, StatusSent}) {
		t.Errorf("final statuses = %v", got)
	}
}

func TestDisconnectMidRunFailsRemainingWithoutSending(t *testing.T) {
	sender := newFakeSender()
	sender.fn = func(n int, phone, text string) error {
		sender.setConnected(false)
		return nil
	}
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, sender, WithSleep(sleeper.Sleep))

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	if n := len(sender.Calls()); n != 1 {
		t.Fatalf("expected 1 send before disconnect, got %d", n)
	}
	snap := c.Snapshot()
	for _, ct := range snap.Contacts[1:] {
		if ct.Status != StatusFailed || !strings.Contains(ct.ErrorMessage, "not connected") {
			t.Errorf("contact %s = %s/%q, want failed/not connected", ct.Name, ct.Status, ct.ErrorMessage)
		}
	}
}

func TestInvalidPhoneIsFailedWithoutSending(t *testing.T) {
	sender := newFakeSender()
	sleeper := &sleepRecorder{}
	c := NewController(sender, WithSleep(sleeper.Sleep))
	ds := Dataset{
		Columns: []string{"name", "phone"},
		Rows:    []map[string]string{{"name": "Nobody", "phone": "n/a"}},
	}
	cfg := Config{PhoneColumn: "phone", MessageTemplate: "hi", IntervalSeconds: 1}
	contacts, err := c.Configure(ds, cfg)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.Start(context.Background(), contacts, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	if len(sender.Calls()) != 0 {
		t.Error("no send expected for a phone without digits")
	}
	if got := c.Snapshot().Contacts[0]; got.Status != StatusFailed || got.ErrorMessage != invalidPhoneError {
		t.Errorf("contact = %s/%q", got.Status, got.ErrorMessage)
	}
}

func TestParentContextEndHaltsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeping := make(chan struct{}, 1)
	block := func(ctx context.Context, d time.Duration) error {
		select {
		case sleeping <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	c, contacts := configured(t, newFakeSender(), WithSleep(block))
	if err := c.Start(ctx, contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-sleeping
	cancel()
	waitRun(t, c)

	snap := c.Snapshot()
	if snap.IsProcessing || snap.Cursor != -1 {
		t.Errorf("expected idle state after context end, got processing=%v cursor=%d", snap.IsProcessing, snap.Cursor)
	}
}

func TestPacingUsesRealInterval(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the real clock")
	}
	sender := newFakeSender()
	c := NewController(sender)
	ds := Dataset{
		Columns: []string{"phone"},
		Rows:    []map[string]string{{"phone": "1"}, {"phone": "2"}},
	}
	cfg := Config{PhoneColumn: "phone", MessageTemplate: "ping", IntervalSeconds: 1}
	contacts, err := c.Configure(ds, cfg)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.Start(context.Background(), contacts, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	calls := sender.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(calls))
	}
	if gap := calls[1].at.Sub(calls[0].at); gap < time.Second {
		t.Errorf("sends %v apart, want at least 1s", gap)
	}
}

func TestPreview(t *testing.T) {
	c, _ := configured(t, newFakeSender())
	text, row, err := c.Preview(1, "Oi {name} ({missing})")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if text != "Oi Bruno ({missing})" {
		t.Errorf("Preview = %q", text)
	}
	if row["company"] != "Globex" {
		t.Errorf("row = %v", row)
	}
	var cfgErr *ConfigurationError
	if _, _, err := c.Preview(9, "x"); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError for out of range row, got %v", err)
	}
	if _, _, err := NewController(newFakeSender()).Preview(0, "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured before Configure, got %v", err)
	}
}

func TestObserverPanicDoesNotStopRun(t *testing.T) {
	sleeper := &sleepRecorder{}
	c, contacts := configured(t, newFakeSender(), WithSleep(sleeper.Sleep))
	c.Subscribe(func(Snapshot) { panic("bad observer") })

	if err := c.Start(context.Background(), contacts, testConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)
	if st := c.Snapshot().Stats(); st.Sent != 3 {
		t.Errorf("Sent = %d, want 3", st.Sent)
	}
}

func TestUnsubscribe(t *testing.T) {
	c := NewController(newFakeSender())
	var obs snapshotLog
	unsubscribe := c.Subscribe(obs.Observe)
	if _, err := c.Configure(testDataset(), testConfig()); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	unsubscribe()
	if _, err := c.Configure(testDataset(), testConfig()); err != nil {
		t.Fatal(err)
	}
	if n := len(obs.All()); n != 1 {
		t.Errorf("expected 1 snapshot before unsubscribe, got %d", n)
	}
}

func TestStatsProgress(t *testing.T) {
	s := Snapshot{Contacts: []Contact{
		{Status: StatusSent}, {Status: StatusFailed}, {Status: StatusPending}, {Status: StatusPending},
	}}
	st := s.Stats()
	if st != (Stats{Total: 4, Pending: 2, Sent: 1, Failed: 1}) {
		t.Errorf("Stats = %+v", st)
	}
	if st.Progress() != 50 {
		t.Errorf("Progress = %d, want 50", st.Progress())
	}
	if (Stats{}).Progress() != 0 {
		t.Error("empty progress should be 0")
	}
}
