// Package forwarder relays accepted patch payloads to the downstream
// patch applier over HTTP.
//
// Delivery is best-effort: the ingest pipeline records the outcome but
// never fails a request because the downstream was unreachable.
package forwarder

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// Forwarder posts payloads to the downstream applier with fixed-delay
// retries.
type Forwarder struct {
	url     string
	retries int
	backoff time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// New creates a forwarder from the ingest configuration.
func New(cfg config.IngestConfig) *Forwarder {
	return &Forwarder{
		url:     cfg.DownstreamURL,
		retries: cfg.ForwardRetries,
		backoff: cfg.ForwardBackoff,
		client:  &http.Client{Timeout: cfg.ForwardTimeout},
		logger:  slog.Default().With("component", "forwarder"),
	}
}

// URL returns the downstream endpoint. Used by the health probes.
func (f *Forwarder) URL() string { return f.url }

// Forward posts the JSON body downstream. It retries on any transport
// error or non-2xx status, waiting the configured backoff between
// attempts. Returns nil when any attempt succeeded, otherwise the last
// attempt's error.
func (f *Forwarder) Forward(ctx context.Context, body []byte, patchID string) error {
	attempts := f.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := f.post(ctx, body); err != nil {
			lastErr = err
			f.logger.Warn("Forward attempt failed",
				"patch_id", patchID, "attempt", attempt, "attempts", attempts, "error", err)
			if attempt < attempts {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(f.backoff):
				}
			}
			continue
		}
		f.logger.Info("Patch forwarded", "patch_id", patchID, "attempt", attempt)
		return nil
	}
	f.logger.Error("Patch not forwarded, all attempts failed",
		"patch_id", patchID, "url", f.url)
	return lastErr
}

func (f *Forwarder) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Reachable probes the downstream endpoint. Any HTTP response, error
// status included, counts as reachable; only transport failures do not.
func (f *Forwarder) Reachable(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// StatusError reports a non-2xx downstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return http.StatusText(e.Code) + " from downstream"
}
