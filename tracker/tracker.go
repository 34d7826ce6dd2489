// Package tracker is the capture-and-delivery engine: it installs the host
// hooks, normalizes raw events into records, gates them through the dedup
// window, batches them in a bounded queue and flushes on four independent
// triggers (interval, capacity, page hidden, page unload).
//
// The tracker is deliberately invisible: nothing in here ever propagates an
// error into the host application. Internal failures are swallowed and
// logged via slog at a low level; the global error hook path never
// interferes with the platform's own error reporting.
//
// Usage:
//
//	trk := tracker.New(tracker.DefaultConfig("https://collect.example.com/api/errors"), host)
//	defer trk.Disable()
//	...
//	trk.Capture("payment failed", stackText)
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/errtrack/dedup"
	"github.com/hazyhaar/errtrack/envinfo"
	"github.com/hazyhaar/errtrack/idgen"
	"github.com/hazyhaar/errtrack/platform"
	"github.com/hazyhaar/errtrack/report"
	"github.com/hazyhaar/errtrack/transport"
)

// PlaceholderMessage replaces an empty message during normalization.
const PlaceholderMessage = "Unknown error"

// Stats counts what the engine has done since construction. Teardown-mode
// handoffs count as delivered — the channel offers no confirmation.
type Stats struct {
	Captured         int
	Suppressed       int
	Delivered        int
	DeliveryFailures int
	Dropped          int
}

// Tracker is the process-wide telemetry client. Construct one per host
// environment; all methods are safe for concurrent use.
type Tracker struct {
	host     platform.Host
	normal   transport.Sender
	teardown transport.Sender
	window   *dedup.Window

	sessionID  string
	sessionGen idgen.Generator

	mu        sync.Mutex
	cfg       Config
	queue     []*report.Record
	active    bool
	cancels   []platform.CancelFunc
	stopTimer chan struct{}
	stats     Stats
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNormalSender replaces the normal-mode delivery channel.
func WithNormalSender(s transport.Sender) Option {
	return func(t *Tracker) { t.normal = s }
}

// WithTeardownSender replaces the teardown-mode delivery channel.
func WithTeardownSender(s transport.Sender) Option {
	return func(t *Tracker) { t.teardown = s }
}

// WithDedupWindow replaces the suppression window (e.g. to inject a clock).
func WithDedupWindow(w *dedup.Window) Option {
	return func(t *Tracker) { t.window = w }
}

// WithSessionGenerator replaces the session ID strategy.
func WithSessionGenerator(gen idgen.Generator) Option {
	return func(t *Tracker) { t.sessionGen = gen }
}

// New creates a Tracker bound to the given host. If cfg.Enabled, the capture
// hooks are installed immediately.
func New(cfg Config, host platform.Host, opts ...Option) *Tracker {
	cfg.defaults()
	t := &Tracker{
		host:     host,
		normal:   transport.NewHTTPSender(0),
		teardown: transport.NewBeaconSender(0),
		window:   dedup.NewWindow(),
		cfg:      cfg,
	}
	for _, o := range opts {
		o(t)
	}
	if t.sessionGen == nil {
		t.sessionGen = idgen.Prefixed("sess_", idgen.NanoID(16))
	}
	t.sessionID = ensureSession(host, t.sessionGen)
	if cfg.Enabled {
		t.Enable()
	}
	return t
}

// SessionID returns the stable per-tab session identifier.
func (t *Tracker) SessionID() string { return t.sessionID }

// Enable installs the four host hooks and starts the interval timer.
// Idempotent: enabling an active tracker is a no-op.
func (t *Tracker) Enable() {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.active = true
	stop := make(chan struct{})
	t.stopTimer = stop
	interval := t.cfg.FlushInterval
	t.mu.Unlock()

	cancels := []platform.CancelFunc{
		t.host.OnGlobalError(t.onGlobalError),
		t.host.OnUnhandledRejection(t.onRejection),
		t.host.OnVisibilityHidden(t.onTeardown),
		t.host.OnUnload(t.onTeardown),
	}

	t.mu.Lock()
	t.cancels = cancels
	t.mu.Unlock()

	go t.runTimer(interval, stop)
	slog.Debug("errtrack: enabled", "session_id", t.sessionID, "flush_interval", interval)
}

// Disable removes all hooks, stops the interval timer and clears the dedup
// window. Captures while disabled are dropped. Re-enabling is supported for
// the remaining life of the host page.
func (t *Tracker) Disable() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	cancels := t.cancels
	t.cancels = nil
	stop := t.stopTimer
	t.stopTimer = nil
	t.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	if stop != nil {
		close(stop)
	}
	t.window.Reset()
	slog.Debug("errtrack: disabled", "session_id", t.sessionID)
}

// Enabled reports whether the capture hooks are installed.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// SetUserID tags records captured from now on; queued records keep the
// identity they were captured with.
func (t *Tracker) SetUserID(id int) {
	t.mu.Lock()
	t.cfg.UserID = id
	t.mu.Unlock()
}

// SetFlushInterval atomically replaces the running interval timer. A zero or
// negative value clamps to the default, same as construction.
func (t *Tracker) SetFlushInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultFlushInterval
	}
	t.mu.Lock()
	t.cfg.FlushInterval = d
	var old, next chan struct{}
	if t.active {
		old = t.stopTimer
		next = make(chan struct{})
		t.stopTimer = next
	}
	t.mu.Unlock()

	// The old timer goroutine exits before the replacement starts, so two
	// timers never run at once.
	if old != nil {
		close(old)
		go t.runTimer(d, next)
	}
}

// Capture records a manual report.
func (t *Tracker) Capture(message, stack string) {
	t.capture(report.SourceManual, message, stack, 0, 0, "")
}

// CaptureBoundary records a UI-framework boundary failure along with the
// component ancestry that rendered it.
func (t *Tracker) CaptureBoundary(message, stack, componentStack string) {
	t.capture(report.SourceBoundary, message, stack, 0, 0, componentStack)
}

// Stats returns a snapshot of the engine counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// QueueLen returns the number of records awaiting delivery.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Flush delivers the current queue over the normal channel. No-op when the
// queue is empty. On rejection the batch is requeued up to remaining
// capacity; the next periodic tick is the retry.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.flush(ctx, transport.ModeNormal)
}

func (t *Tracker) onGlobalError(e platform.ErrorEvent) {
	t.capture(report.SourceGlobalHook, e.Message, e.Stack, e.Line, e.Column, "")
}

func (t *Tracker) onRejection(e platform.RejectionEvent) {
	t.capture(report.SourceRejection, e.Message, e.Stack, 0, 0, "")
}

func (t *Tracker) onTeardown() {
	// Fire-and-forget channel: no observable failure, nothing to requeue.
	_ = t.flush(context.Background(), transport.ModeTeardown)
}

func (t *Tracker) capture(src report.Source, message, stack string, line, col int, componentStack string) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	if message == "" {
		message = PlaceholderMessage
	}
	if t.window.Suppress(dedup.Key(message, stack)) {
		t.stats.Suppressed++
		t.mu.Unlock()
		slog.Debug("errtrack: duplicate suppressed", "message", message)
		return
	}
	rec := &report.Record{
		Message:        message,
		Stack:          stack,
		Source:         src,
		URL:            t.host.Location(),
		Line:           line,
		Column:         col,
		ComponentStack: componentStack,
		BrowserInfo:    envinfo.Parse(t.host.UserAgent(), t.host.Language(), t.host.Platform(), t.host.ScreenSize()),
		SessionID:      t.sessionID,
		UserID:         t.cfg.UserID,
		Environment:    t.cfg.Environment,
		AppVersion:     t.cfg.AppVersion,
	}
	t.queue = append(t.queue, rec)
	t.stats.Captured++
	full := len(t.queue) >= t.cfg.MaxQueueSize
	t.mu.Unlock()

	if full {
		// Immediate flush on the capturing goroutine, bounded by the
		// sender's own timeout.
		if err := t.Flush(context.Background()); err != nil {
			slog.Debug("errtrack: capacity flush failed", "error", err)
		}
	}
}

// flush takes an atomic snapshot of the queue and hands it to the channel
// for the given mode. Records captured while delivery is in flight land on
// the fresh queue and belong to the next flush — never the in-flight one.
func (t *Tracker) flush(ctx context.Context, mode transport.Mode) error {
	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	endpoint := t.cfg.Endpoint
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	sender := t.normal
	if mode == transport.ModeTeardown {
		sender = t.teardown
	}

	err := sender.Send(ctx, endpoint, report.Envelope{Errors: batch})
	if err == nil {
		t.mu.Lock()
		t.stats.Delivered += len(batch)
		t.mu.Unlock()
		return nil
	}

	// Requeue what fits; drop the rest. No backoff — the periodic timer
	// naturally retries.
	t.mu.Lock()
	space := t.cfg.MaxQueueSize - len(t.queue)
	if space < 0 {
		space = 0
	}
	if space > len(batch) {
		space = len(batch)
	}
	if space > 0 {
		requeued := make([]*report.Record, 0, space+len(t.queue))
		requeued = append(requeued, batch[:space]...)
		t.queue = append(requeued, t.queue...)
	}
	t.stats.DeliveryFailures++
	t.stats.Dropped += len(batch) - space
	t.mu.Unlock()

	slog.Warn("errtrack: batch delivery failed",
		"error", err, "requeued", space, "dropped", len(batch)-space)
	return err
}

func (t *Tracker) runTimer(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.Flush(context.Background()); err != nil {
				slog.Debug("errtrack: periodic flush failed", "error", err)
			}
		}
	}
}
