package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sink is the write-only analytical downstream. The primary system of
// record never depends on it; a failed sink write degrades to stale
// analytics, not lost data.
type Sink interface {
	UpsertRecord(ctx context.Context, entityType, entityID string, payload json.RawMessage) error
	DeleteRecord(ctx context.Context, entityType, entityID string) error
}

// SinkError carries the sink's HTTP status so the syncer can decide between
// rescheduling and dead-lettering.
type SinkError struct {
	StatusCode int
	Body       string
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a later attempt could plausibly succeed.
// 409 is the dependency-not-ready case: the sink rejected a record whose
// referenced entity has not arrived yet (webhook-ordering race).
func (e *SinkError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// HTTPSink posts records to the analytical store's ingest API, signing each
// request with HMAC-SHA256 over the body.
type HTTPSink struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPSink(baseURL, secret string, logger *slog.Logger) *HTTPSink {
	return &HTTPSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *HTTPSink) UpsertRecord(ctx context.Context, entityType, entityID string, payload json.RawMessage) error {
	return s.send(ctx, http.MethodPut, entityType, entityID, payload)
}

// DeleteRecord removes a record downstream. Deleting something already
// absent is a success, not an error.
func (s *HTTPSink) DeleteRecord(ctx context.Context, entityType, entityID string) error {
	err := s.send(ctx, http.MethodDelete, entityType, entityID, nil)
	var se *SinkError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *HTTPSink) send(ctx context.Context, method, entityType, entityID string, payload json.RawMessage) error {
	endpoint := fmt.Sprintf("%s/records/%s/%s",
		s.baseURL, url.PathEscape(entityType), url.PathEscape(entityID))

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating sink request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sink-Signature", computeHMAC(payload, s.secret))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling sink: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Limit to 1KB to keep dead-letter context bounded
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &SinkError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return nil
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
