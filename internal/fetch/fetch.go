package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the default limit for one whole transfer
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxRetries is the default retry budget per request
	DefaultMaxRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "forage/1.0"

	// eventBuffer sizes the event channel. The reporter drains it
	// continuously; the buffer only absorbs scheduling jitter.
	eventBuffer = 128
)

// Request describes one download. Immutable once passed to Fetch.
type Request struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// EventType discriminates progress events.
type EventType int

const (
	// EventChunk announces a chunk of bytes about to be handed to the consumer
	EventChunk EventType = iota
	// EventRetry announces a reconnection attempt after a failure
	EventRetry
	// EventEnd announces normal completion, after the last byte was delivered
	EventEnd
	// EventError announces terminal failure; no further data follows
	EventError
)

// Event is one progress notification. Chunk events carry Bytes, retry
// events carry Attempt/MaxRetries/Err, the error event carries Err.
type Event struct {
	Type       EventType
	Bytes      int64
	Attempt    int
	MaxRetries int
	Err        error
}

// Fetcher issues streaming HTTP downloads with retry logic.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	backoffUnit time.Duration
}

// NewFetcher creates a new fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Allow up to 10 redirects
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent:   DefaultUserAgent,
		backoffUnit: time.Second,
	}
}

// Fetch opens the connection and returns the byte stream. The request
// phase already consumes retries, so the returned stream may be in a
// failed state; its first Read then returns the terminal error. A
// non-nil error is returned only for an unusable request.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Stream, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("request URL is required")
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = DefaultMaxRetries
	}

	sctx, cancel := context.WithTimeout(ctx, req.Timeout)
	s := &Stream{
		fetcher: f,
		req:     req,
		ctx:     sctx,
		cancel:  cancel,
		events:  make(chan Event, eventBuffer),
		size:    -1,
	}

	if err := s.connect(); err != nil {
		if err = s.recover(err); err != nil {
			s.fail(err)
		}
	}

	return s, nil
}

// Stream is the byte stream of one in-flight download. It implements
// io.ReadCloser. Reads pull from the network; the event channel must be
// drained by an independent consumer.
type Stream struct {
	fetcher *Fetcher
	req     Request
	ctx     context.Context
	cancel  context.CancelFunc

	events       chan Event
	eventsClosed bool

	body      io.ReadCloser
	size      int64
	delivered int64
	attempt   int
	done      bool
	err       error
}

// Events returns the progress event channel. It is closed after the
// terminal end or error event.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Size returns the total size advertised by the server, or -1 when
// unknown (chunked transfer).
func (s *Stream) Size() int64 {
	return s.size
}

// Delivered returns the bytes handed to the consumer so far.
func (s *Stream) Delivered() int64 {
	return s.delivered
}

// Read delivers the next chunk. A chunk event is emitted before the
// bytes are handed off. Mid-stream failures are recovered in place;
// once the retry budget is exhausted Read returns the terminal error.
func (s *Stream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.done {
		return 0, io.EOF
	}

	for {
		n, err := s.body.Read(p)
		if n > 0 {
			s.emit(Event{Type: EventChunk, Bytes: int64(n)})
			s.delivered += int64(n)
		}

		switch {
		case err == nil:
			return n, nil

		case errors.Is(err, io.EOF):
			s.done = true
			s.emit(Event{Type: EventEnd})
			s.closeEvents()
			return n, io.EOF

		default:
			if rerr := s.recover(err); rerr != nil {
				s.fail(rerr)
				if n > 0 {
					// Hand over what we got; the error surfaces on the next Read
					return n, nil
				}
				return 0, rerr
			}
			if n > 0 {
				return n, nil
			}
			// Reconnected without delivering anything yet, read again
		}
	}
}

// Close releases the connection. Safe to call at any point.
func (s *Stream) Close() error {
	s.cancel()
	s.closeEvents()
	if s.body != nil {
		err := s.body.Close()
		s.body = nil
		return err
	}
	return nil
}

// connect performs a single GET and positions the response body at the
// first undelivered byte.
func (s *Stream) connect() error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.req.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.fetcher.userAgent)

	resp, err := s.fetcher.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return &HTTPStatusError{URL: s.req.URL, StatusCode: resp.StatusCode}
	}

	if s.size < 0 && resp.ContentLength >= 0 {
		s.size = resp.ContentLength
	}

	// Reconnects start over from byte zero; skip what the consumer
	// already has so the stream stays contiguous.
	if s.delivered > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, s.delivered); err != nil {
			resp.Body.Close()
			return fmt.Errorf("re-synchronize stream: %w", err)
		}
	}

	if s.body != nil {
		s.body.Close()
	}
	s.body = resp.Body
	return nil
}

// recover retries the request until it succeeds, the cause is not
// retryable, or the retry budget runs out.
func (s *Stream) recover(cause error) error {
	for {
		if !retryable(cause) {
			return cause
		}
		if s.attempt >= s.req.MaxRetries {
			return &RetryExhaustedError{URL: s.req.URL, Attempts: s.attempt, Err: cause}
		}

		s.attempt++
		s.emit(Event{Type: EventRetry, Attempt: s.attempt, MaxRetries: s.req.MaxRetries, Err: cause})

		// Exponential backoff: 1s, 2s, 4s
		backoff := time.Duration(1<<uint(s.attempt-1)) * s.fetcher.backoffUnit
		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return s.ctx.Err()
		}

		if cause = s.connect(); cause == nil {
			return nil
		}
	}
}

// fail puts the stream into its terminal failed state.
func (s *Stream) fail(err error) {
	s.err = err
	s.emit(Event{Type: EventError, Err: err})
	s.closeEvents()
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

func (s *Stream) emit(ev Event) {
	if s.eventsClosed {
		return
	}
	s.events <- ev
}

func (s *Stream) closeEvents() {
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.events)
}

// retryable reports whether a failure is worth another attempt.
// Context cancellation and non-retryable HTTP statuses are terminal;
// everything else (connection resets, truncated bodies) is transient.
func retryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
