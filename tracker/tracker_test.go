package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/errtrack/dedup"
	"github.com/hazyhaar/errtrack/platform"
	"github.com/hazyhaar/errtrack/report"
)

// fakeSender records every delivery attempt and can be told to fail the
// next n sends. Failed attempts still count as calls.
type fakeSender struct {
	mu    sync.Mutex
	calls []report.Envelope
	fail  int
}

func (f *fakeSender) Send(_ context.Context, _ string, env report.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, env)
	if f.fail > 0 {
		f.fail--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) call(i int) report.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeSender) setFail(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = n
}

func newTestTracker(t *testing.T, mutate func(*Config)) (*Tracker, *platform.Fake, *fakeSender, *fakeSender) {
	t.Helper()
	cfg := DefaultConfig("http://collector.test/api/errors")
	cfg.FlushInterval = time.Hour // keep the periodic timer out of the way
	if mutate != nil {
		mutate(&cfg)
	}
	host := platform.NewFake()
	normal := &fakeSender{}
	teardown := &fakeSender{}
	trk := New(cfg, host,
		WithNormalSender(normal),
		WithTeardownSender(teardown),
	)
	t.Cleanup(trk.Disable)
	return trk, host, normal, teardown
}

func stackFor(fn string) string {
	return fmt.Sprintf("Error: boom\n    at %s (app.js:10:5)\n    at main (app.js:1:1)", fn)
}

func TestCapture_DuplicateSuppressed(t *testing.T) {
	trk, host, _, _ := newTestTracker(t, nil)

	ev := platform.ErrorEvent{Message: "Duplicate error", Stack: stackFor("render"), Line: 10, Column: 5}
	host.FireError(ev)
	host.FireError(ev)

	if trk.QueueLen() != 1 {
		t.Fatalf("queue len = %d, want 1", trk.QueueLen())
	}
	if s := trk.Stats(); s.Suppressed != 1 || s.Captured != 1 {
		t.Fatalf("stats = %+v, want 1 captured / 1 suppressed", s)
	}
}

func TestCapture_DistinctMessagesBothQueued(t *testing.T) {
	trk, host, _, _ := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: "first", Stack: stackFor("render")})
	host.FireError(platform.ErrorEvent{Message: "second", Stack: stackFor("render")})

	if trk.QueueLen() != 2 {
		t.Fatalf("queue len = %d, want 2", trk.QueueLen())
	}
}

func TestCapture_SameMessageDifferentFrameBothQueued(t *testing.T) {
	trk, host, _, _ := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: "boom", Stack: stackFor("render")})
	host.FireError(platform.ErrorEvent{Message: "boom", Stack: stackFor("submit")})

	if trk.QueueLen() != 2 {
		t.Fatalf("queue len = %d, want 2", trk.QueueLen())
	}
}

func TestCapture_EmptyMessageNormalized(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: ""})
	if err := trk.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := normal.call(0).Errors[0].Message; got != PlaceholderMessage {
		t.Fatalf("message = %q, want placeholder", got)
	}
}

func TestCapture_RecordFields(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, func(c *Config) {
		c.Environment = "production"
		c.AppVersion = "3.2.1"
		c.UserID = 7
	})

	host.FireError(platform.ErrorEvent{Message: "boom", Stack: stackFor("render"), Line: 10, Column: 5})
	if err := trk.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := normal.call(0).Errors[0]
	if rec.Source != report.SourceGlobalHook {
		t.Errorf("source = %q", rec.Source)
	}
	if rec.URL != host.PageURL {
		t.Errorf("url = %q, want %q", rec.URL, host.PageURL)
	}
	if rec.Line != 10 || rec.Column != 5 {
		t.Errorf("position = %d:%d", rec.Line, rec.Column)
	}
	if rec.SessionID != trk.SessionID() {
		t.Errorf("sessionId = %q, want %q", rec.SessionID, trk.SessionID())
	}
	if rec.UserID != 7 || rec.Environment != "production" || rec.AppVersion != "3.2.1" {
		t.Errorf("identity fields mangled: %+v", rec)
	}
	if rec.BrowserInfo.Browser != "Chrome" || rec.BrowserInfo.OS != "Windows" {
		t.Errorf("browserInfo = %+v", rec.BrowserInfo)
	}
}

func TestRejectionSource(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil)

	host.FireRejection(platform.RejectionEvent{Message: "late rejection", Stack: stackFor("then")})
	trk.Flush(context.Background())

	if got := normal.call(0).Errors[0].Source; got != report.SourceRejection {
		t.Fatalf("source = %q, want %q", got, report.SourceRejection)
	}
}

func TestCaptureBoundary(t *testing.T) {
	trk, _, normal, _ := newTestTracker(t, nil)

	trk.CaptureBoundary("render exploded", stackFor("render"), "in Widget\n  in App")
	trk.Flush(context.Background())

	rec := normal.call(0).Errors[0]
	if rec.Source != report.SourceBoundary {
		t.Fatalf("source = %q", rec.Source)
	}
	if rec.ComponentStack != "in Widget\n  in App" {
		t.Fatalf("componentStack = %q", rec.ComponentStack)
	}
}

func TestManualCaptureSource(t *testing.T) {
	trk, _, normal, _ := newTestTracker(t, nil)

	trk.Capture("payment failed", "")
	trk.Flush(context.Background())

	if got := normal.call(0).Errors[0].Source; got != report.SourceManual {
		t.Fatalf("source = %q, want %q", got, report.SourceManual)
	}
}

func TestCapacityTriggersImmediateFlush(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, func(c *Config) { c.MaxQueueSize = 5 })

	for i := 0; i < 5; i++ {
		host.FireError(platform.ErrorEvent{Message: fmt.Sprintf("error %d", i)})
	}

	if normal.callCount() != 1 {
		t.Fatalf("calls = %d, want exactly 1 capacity flush", normal.callCount())
	}
	if got := len(normal.call(0).Errors); got != 5 {
		t.Fatalf("snapshot size = %d, want 5", got)
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("queue len = %d after capacity flush, want 0", trk.QueueLen())
	}
}

func TestFiftyDistinctErrorsAutoDeliver(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil) // default MaxQueueSize 50

	for i := 0; i < 50; i++ {
		host.FireError(platform.ErrorEvent{Message: fmt.Sprintf("distinct error %d", i)})
	}

	if normal.callCount() != 1 {
		t.Fatalf("calls = %d, want 1 automatic delivery", normal.callCount())
	}
	if got := len(normal.call(0).Errors); got != 50 {
		t.Fatalf("snapshot size = %d, want 50", got)
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("queue len = %d after auto delivery, want 0", trk.QueueLen())
	}
}

func TestFlushEmptyQueueNoDelivery(t *testing.T) {
	trk, _, normal, _ := newTestTracker(t, nil)

	if err := trk.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if normal.callCount() != 0 {
		t.Fatalf("calls = %d, want 0 for empty queue", normal.callCount())
	}
}

func TestFlushEmptiesQueueAndSecondFlushSendsNothing(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: "boom"})
	trk.Flush(context.Background())
	trk.Flush(context.Background())

	if normal.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", normal.callCount())
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("queue len = %d, want 0", trk.QueueLen())
	}
}

func TestHiddenUsesTeardownChannel(t *testing.T) {
	trk, host, normal, teardown := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: "boom"})
	host.FireHidden()

	if teardown.callCount() != 1 {
		t.Fatalf("teardown calls = %d, want 1", teardown.callCount())
	}
	if normal.callCount() != 0 {
		t.Fatalf("normal calls = %d, want 0", normal.callCount())
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("queue len = %d after teardown flush, want 0", trk.QueueLen())
	}
}

func TestUnloadUsesTeardownChannel(t *testing.T) {
	_, host, normal, teardown := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: "boom"})
	host.FireUnload()

	if teardown.callCount() != 1 || normal.callCount() != 0 {
		t.Fatalf("teardown=%d normal=%d, want 1/0", teardown.callCount(), normal.callCount())
	}
}

func TestFailedFlushRequeuesAndRetryDeliversOnce(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil)
	normal.setFail(1)

	host.FireError(platform.ErrorEvent{Message: "boom"})
	if err := trk.Flush(context.Background()); err == nil {
		t.Fatal("expected delivery failure")
	}
	if trk.QueueLen() != 1 {
		t.Fatalf("queue len = %d after failed flush, want 1 requeued", trk.QueueLen())
	}

	if err := trk.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if normal.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 attempts", normal.callCount())
	}

	// The record appears exactly once per attempt, never duplicated.
	total := 0
	for i := 0; i < normal.callCount(); i++ {
		for _, r := range normal.call(i).Errors {
			if r.Message == "boom" {
				total++
			}
		}
	}
	if total != 2 {
		t.Fatalf("record sent %d times across attempts, want once per attempt (2)", total)
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("queue len = %d after successful retry, want 0", trk.QueueLen())
	}
}

func TestRequeueBoundedByCapacity(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, func(c *Config) { c.MaxQueueSize = 2 })
	normal.setFail(10)

	// Two captures hit capacity and trigger a failing flush; the snapshot
	// requeues in full (space 2).
	host.FireError(platform.ErrorEvent{Message: "alpha"})
	host.FireError(platform.ErrorEvent{Message: "beta"})
	if trk.QueueLen() != 2 {
		t.Fatalf("queue len = %d, want 2 requeued", trk.QueueLen())
	}

	// A third capture pushes the queue past capacity; the failing flush can
	// only requeue 2 of 3, dropping the newest.
	host.FireError(platform.ErrorEvent{Message: "gamma"})
	if trk.QueueLen() != 2 {
		t.Fatalf("queue len = %d, want bounded at 2", trk.QueueLen())
	}
	if s := trk.Stats(); s.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped)
	}
}

func TestDisablePreventsCapture(t *testing.T) {
	trk, host, _, _ := newTestTracker(t, nil)

	trk.Disable()
	if host.Subscriptions() != 0 {
		t.Fatalf("subscriptions = %d after disable, want 0", host.Subscriptions())
	}
	trk.Capture("while disabled", "")
	host.FireError(platform.ErrorEvent{Message: "orphaned"})
	if trk.QueueLen() != 0 {
		t.Fatalf("queue len = %d, want 0 while disabled", trk.QueueLen())
	}

	trk.Enable()
	if host.Subscriptions() != 4 {
		t.Fatalf("subscriptions = %d after re-enable, want 4", host.Subscriptions())
	}
	trk.Capture("while enabled", "")
	if trk.QueueLen() != 1 {
		t.Fatalf("queue len = %d after re-enable, want 1", trk.QueueLen())
	}
}

func TestDisableClearsDedupState(t *testing.T) {
	trk, host, _, _ := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: "boom"})
	trk.Disable()
	trk.Enable()
	host.FireError(platform.ErrorEvent{Message: "boom"})

	// Disable cleared the window, so the second sighting is not a duplicate.
	if s := trk.Stats(); s.Suppressed != 0 {
		t.Fatalf("suppressed = %d, want 0 after dedup reset", s.Suppressed)
	}
}

func TestEnableIdempotent(t *testing.T) {
	trk, host, _, _ := newTestTracker(t, nil)

	trk.Enable()
	trk.Enable()
	if host.Subscriptions() != 4 {
		t.Fatalf("subscriptions = %d, want 4 (no double install)", host.Subscriptions())
	}
	if !trk.Enabled() {
		t.Fatal("tracker should remain enabled")
	}
}

func TestSetUserIDAffectsOnlyNewCaptures(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil)

	host.FireError(platform.ErrorEvent{Message: "before"})
	trk.SetUserID(42)
	host.FireError(platform.ErrorEvent{Message: "after"})
	trk.Flush(context.Background())

	recs := normal.call(0).Errors
	if recs[0].UserID != 0 {
		t.Fatalf("pre-set record userId = %d, want 0", recs[0].UserID)
	}
	if recs[1].UserID != 42 {
		t.Fatalf("post-set record userId = %d, want 42", recs[1].UserID)
	}
}

func TestDedupMapBounded(t *testing.T) {
	window := dedup.NewWindow()
	cfg := DefaultConfig("http://collector.test/api/errors")
	cfg.FlushInterval = time.Hour
	cfg.MaxQueueSize = 1000
	host := platform.NewFake()
	trk := New(cfg, host,
		WithNormalSender(&fakeSender{}),
		WithTeardownSender(&fakeSender{}),
		WithDedupWindow(window),
	)
	defer trk.Disable()

	for i := 0; i < 300; i++ {
		host.FireError(platform.ErrorEvent{Message: fmt.Sprintf("distinct %d", i)})
	}
	if window.Len() > dedup.DefaultCapacity {
		t.Fatalf("dedup entries = %d, must never exceed %d", window.Len(), dedup.DefaultCapacity)
	}
}

func TestSessionStableAcrossTrackers(t *testing.T) {
	host := platform.NewFake()
	cfg := DefaultConfig("http://collector.test/api/errors")
	cfg.FlushInterval = time.Hour

	a := New(cfg, host, WithNormalSender(&fakeSender{}), WithTeardownSender(&fakeSender{}))
	a.Disable()
	b := New(cfg, host, WithNormalSender(&fakeSender{}), WithTeardownSender(&fakeSender{}))
	b.Disable()

	if a.SessionID() == "" || a.SessionID() != b.SessionID() {
		t.Fatalf("session ids differ: %q vs %q", a.SessionID(), b.SessionID())
	}
	if host.StorageGet(SessionStorageKey) != a.SessionID() {
		t.Fatal("session id not persisted in host storage")
	}
}

func TestEndToEndDuplicateError(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil)

	stack := "Error: Duplicate error\n    at render (app.js:10:5)"
	host.FireError(platform.ErrorEvent{Message: "Duplicate error", Stack: stack})
	host.FireError(platform.ErrorEvent{Message: "Duplicate error", Stack: stack})
	trk.Flush(context.Background())

	if normal.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", normal.callCount())
	}
	if got := len(normal.call(0).Errors); got != 1 {
		t.Fatalf("payload holds %d errors, want exactly 1", got)
	}
}

func TestPeriodicTimerFlushes(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, func(c *Config) {
		c.FlushInterval = 20 * time.Millisecond
	})

	host.FireError(platform.ErrorEvent{Message: "boom"})

	deadline := time.Now().Add(2 * time.Second)
	for normal.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if normal.callCount() == 0 {
		t.Fatal("periodic timer never flushed")
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("queue len = %d after periodic flush, want 0", trk.QueueLen())
	}
}

func TestSetFlushIntervalReplacesTimer(t *testing.T) {
	trk, host, normal, _ := newTestTracker(t, nil) // 1h interval: timer effectively off

	trk.SetFlushInterval(20 * time.Millisecond)
	host.FireError(platform.ErrorEvent{Message: "boom"})

	deadline := time.Now().Add(2 * time.Second)
	for normal.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if normal.callCount() == 0 {
		t.Fatal("replacement timer never flushed")
	}

	// The old timer goroutine is gone: disabling stops the replacement and
	// no further flushes occur.
	trk.Disable()
	calls := normal.callCount()
	time.Sleep(100 * time.Millisecond)
	if normal.callCount() != calls {
		t.Fatal("timer still running after disable")
	}
}

func TestConstructedDisabled(t *testing.T) {
	cfg := DefaultConfig("http://collector.test/api/errors")
	cfg.Enabled = false
	cfg.FlushInterval = time.Hour
	host := platform.NewFake()
	trk := New(cfg, host, WithNormalSender(&fakeSender{}), WithTeardownSender(&fakeSender{}))

	if trk.Enabled() {
		t.Fatal("tracker should start disabled")
	}
	if host.Subscriptions() != 0 {
		t.Fatalf("subscriptions = %d, want 0", host.Subscriptions())
	}
}
