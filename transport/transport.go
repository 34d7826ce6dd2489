// Package transport implements the two delivery channels for error batches.
//
// HTTPSender is the normal-mode channel: a confirmable POST whose failure is
// observable, so the tracker can requeue the batch. BeaconSender is the
// teardown-mode channel: fire-and-forget, never reports failure, modelled on
// navigator.sendBeacon — the only kind of request with a chance of surviving
// an actively unloading page. Mode selection is a strategy decision made by
// the flush caller, not an inline branch, so further channels (e.g. a local
// durable outbox) can slot in later.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/errtrack/report"
)

// Mode selects the delivery channel for a flush.
type Mode int

const (
	// ModeNormal is the reliable, confirmable channel.
	ModeNormal Mode = iota
	// ModeTeardown is the best-effort unload-safe channel.
	ModeTeardown
)

// DefaultTimeout bounds a single delivery attempt. There is no retry at this
// layer; the tracker's next periodic flush is the retry.
const DefaultTimeout = 5 * time.Second

// Sender delivers one batch envelope to the collection endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint string, env report.Envelope) error
}

// HTTPSender posts batches over a standard HTTP channel and reports
// rejection, so callers can requeue.
type HTTPSender struct {
	client *resty.Client
}

// NewHTTPSender creates the normal-mode sender. Zero timeout means
// DefaultTimeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{client: resty.New().SetTimeout(timeout)}
}

func (s *HTTPSender) Send(ctx context.Context, endpoint string, env report.Envelope) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(env).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("post error batch: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode())
	}
	return nil
}

// BeaconSender posts batches without waiting for the result. Send returns
// nil immediately; the actual request runs on its own goroutine with a
// short timeout and its outcome is only ever logged. Close waits for
// in-flight posts, which keeps teardown delivery deterministic in tests.
type BeaconSender struct {
	client *resty.Client
	wg     sync.WaitGroup
}

// NewBeaconSender creates the teardown-mode sender. Zero timeout means
// DefaultTimeout.
func NewBeaconSender(timeout time.Duration) *BeaconSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BeaconSender{client: resty.New().SetTimeout(timeout)}
}

func (s *BeaconSender) Send(ctx context.Context, endpoint string, env report.Envelope) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(env).
			Post(endpoint)
		if err != nil {
			slog.Debug("errtrack: beacon post failed", "error", err, "endpoint", endpoint)
			return
		}
		if resp.StatusCode() >= 400 {
			slog.Debug("errtrack: beacon post rejected", "status", resp.StatusCode(), "endpoint", endpoint)
		}
	}()
	return nil
}

// Close waits for any in-flight beacon posts to finish.
func (s *BeaconSender) Close() error {
	s.wg.Wait()
	return nil
}
