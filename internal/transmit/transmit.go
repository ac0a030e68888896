// Package transmit uploads records off-host. Records are queued without
// blocking the recorder, grouped in batches and POSTed as JSON with
// retry and exponential backoff. The recorder never learns whether a
// batch was delivered.
package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domreplay/event"
)

// Batch is the upload body.
type Batch struct {
	Session string             `json:"session"`
	Records []event.RecordData `json:"records"`
}

// Transmitter queues records and uploads them in batches.
type Transmitter struct {
	url       string
	session   string
	client    *http.Client
	batchSize int
	interval  time.Duration
	retries   int
	backoff   time.Duration
	logger    *slog.Logger

	ch      chan event.RecordData
	flushCh chan chan struct{}
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithClient sets the HTTP client. Default: 10s timeout.
func WithClient(c *http.Client) Option { return func(t *Transmitter) { t.client = c } }

// WithBatchSize sets the maximum records per POST. Default: 64.
func WithBatchSize(n int) Option { return func(t *Transmitter) { t.batchSize = n } }

// WithInterval sets the flush interval of partial batches. Default: 1s.
func WithInterval(d time.Duration) Option { return func(t *Transmitter) { t.interval = d } }

// WithRetries sets the retries after a failed POST. Default: 3.
func WithRetries(n int) Option { return func(t *Transmitter) { t.retries = n } }

// WithBackoff sets the first retry delay; it doubles on each retry.
// Default: 1s.
func WithBackoff(d time.Duration) Option { return func(t *Transmitter) { t.backoff = d } }

// WithBuffer sets the queue capacity. Default: 1024.
func WithBuffer(n int) Option {
	return func(t *Transmitter) { t.ch = make(chan event.RecordData, n) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Transmitter) { t.logger = l } }

// New starts a Transmitter uploading the records of session to url.
func New(url, session string, opts ...Option) *Transmitter {
	t := &Transmitter{
		url:       url,
		session:   session,
		client:    &http.Client{Timeout: 10 * time.Second},
		batchSize: 64,
		interval:  time.Second,
		retries:   3,
		backoff:   time.Second,
		logger:    slog.Default(),
		flushCh:   make(chan chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.ch == nil {
		t.ch = make(chan event.RecordData, 1024)
	}
	go t.loop()
	return t
}

// Transmit queues rec. It never blocks: a full queue drops the record.
// Records transmitted after Close are discarded.
func (t *Transmitter) Transmit(rec event.RecordData) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- rec:
	default:
		if t.dropped.Add(1) == 1 {
			t.logger.Warn("transmit: queue full, dropping records", "url", t.url)
		}
	}
}

// Flush uploads everything queued so far and waits for it.
func (t *Transmitter) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case t.flushCh <- ack:
	case <-t.done:
		return nil
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

// Close flushes the queue and stops the upload goroutine.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.ch)
	}
	t.mu.Unlock()
	<-t.done
	return nil
}

// Dropped is the number of records lost to a full queue.
func (t *Transmitter) Dropped() int64 { return t.dropped.Load() }

// Failed is the number of records whose batch exhausted its retries.
func (t *Transmitter) Failed() int64 { return t.failed.Load() }

func (t *Transmitter) loop() {
	defer close(t.done)

	batch := make([]event.RecordData, 0, t.batchSize)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	send := func() {
		if len(batch) == 0 {
			return
		}
		if err := t.post(batch); err != nil {
			t.failed.Add(int64(len(batch)))
			t.logger.Error("transmit: batch lost", "records", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-t.ch:
			if !ok {
				send()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= t.batchSize {
				send()
			}
		case ack := <-t.flushCh:
			for drained := false; !drained; {
				select {
				case rec, ok := <-t.ch:
					if !ok {
						drained = true
						break
					}
					batch = append(batch, rec)
					if len(batch) >= t.batchSize {
						send()
					}
				default:
					drained = true
				}
			}
			send()
			close(ack)
		case <-ticker.C:
			send()
		}
	}
}

func (t *Transmitter) post(records []event.RecordData) error {
	body, err := json.Marshal(Batch{Session: t.session, Records: records})
	if err != nil {
		return fmt.Errorf("transmit: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(t.backoff << (attempt - 1))
		}

		req, err := http.NewRequest(http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("transmit: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
			t.logger.Warn("transmit: request failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("transmit: rejected: %w", lastErr)
		}
		t.logger.Warn("transmit: bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("transmit: all retries exhausted: %w", lastErr)
}
