package streamapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// Client defaults.
const (
	DefaultReconnectDelay = 500 * time.Millisecond
	DefaultMaxReconnects  = 5
)

// ErrStreamEnded is returned by Stream when the server closes the stream
// before the terminal event and reconnects are exhausted.
var ErrStreamEnded = errors.New("streamapi: stream ended before terminal event")

// GapError reports events the server no longer retains. Missing spans
// [From, To).
type GapError struct {
	From uint64
	To   uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("streamapi: events %d..%d missing from stream", e.From, e.To-1)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Field   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("streamapi: HTTP %d: %s", e.Status, e.Message)
}

// Is maps 404 onto orchestrator.ErrJobNotFound.
func (e *APIError) Is(target error) bool {
	return target == orchestrator.ErrJobNotFound && e.Status == http.StatusNotFound
}

// Client talks to a streamapi Server.
type Client struct {
	base           string
	http           *http.Client
	reconnectDelay time.Duration
	maxReconnects  int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client. It must not have a
// response timeout shorter than the longest expected job.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithReconnect sets the delay between reconnect attempts and how many
// consecutive attempts Stream makes without receiving an event.
func WithReconnect(delay time.Duration, attempts int) ClientOption {
	return func(c *Client) {
		c.reconnectDelay = delay
		c.maxReconnects = attempts
	}
}

// NewClient creates a client for the server at base, e.g.
// "http://127.0.0.1:8420".
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base:           strings.TrimRight(base, "/"),
		http:           &http.Client{},
		reconnectDelay: DefaultReconnectDelay,
		maxReconnects:  DefaultMaxReconnects,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJob submits cfg and returns the new job's description.
func (c *Client) CreateJob(ctx context.Context, cfg orchestrator.JobConfig) (*orchestrator.JobInfo, error) {
	var info orchestrator.JobInfo
	if err := c.do(ctx, http.MethodPost, "/jobs", cfg, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Job describes one job.
func (c *Client) Job(ctx context.Context, id string) (*orchestrator.JobInfo, error) {
	var info orchestrator.JobInfo
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Jobs lists live and retained jobs.
func (c *Client) Jobs(ctx context.Context) ([]orchestrator.JobInfo, error) {
	var infos []orchestrator.JobInfo
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Cancel requests cancellation of a job.
func (c *Client) Cancel(ctx context.Context, id string) (*orchestrator.JobInfo, error) {
	var info orchestrator.JobInfo
	if err := c.do(ctx, http.MethodPost, "/jobs/"+id+"/cancel", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Stream delivers the job's events with Seq >= from to fn, in order and
// without duplicates, until the terminal event. Dropped connections and
// sequence gaps trigger a reconnect from the last delivered event. When the
// server no longer retains the missing events, the terminal event is still
// delivered and Stream returns a *GapError.
func (c *Client) Stream(ctx context.Context, id string, from uint64, fn func(orchestrator.Event)) error {
	next := max(from, 1)
	var (
		failures int
		gap      *GapError // a gap that was delivered through
		pending  *GapError // a gap that made us reconnect
	)
	for {
		before := next
		done, err := c.streamOnce(ctx, id, next, func(ev orchestrator.Event) bool {
			switch {
			case ev.Seq < next:
				return true // duplicate after reconnect
			case ev.Seq > next && !ev.IsTerminal():
				pending = &GapError{From: next, To: ev.Seq}
				return false
			case ev.Seq > next:
				gap = &GapError{From: next, To: ev.Seq}
			}
			fn(ev)
			next = ev.Seq + 1
			pending = nil
			return true
		})
		if done {
			if gap != nil {
				return gap
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return err
		}
		if next > before {
			failures = 0
		}
		failures++
		if failures > c.maxReconnects {
			switch {
			case pending != nil:
				return pending
			case err != nil:
				return fmt.Errorf("%w: %v", ErrStreamEnded, err)
			default:
				return ErrStreamEnded
			}
		}
		log.Printf("streamapi: job %s: reconnecting from %d", id, next)
		select {
		case <-time.After(c.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// streamOnce reads one connection. accept returns false to abandon the
// connection on a gap. It reports whether the terminal event was delivered.
func (c *Client) streamOnce(ctx context.Context, id string, from uint64, accept func(orchestrator.Event) bool) (done bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/jobs/"+id+"/events", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if from > 1 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(from-1, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("streamapi: connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, decodeError(resp)
	}

	errGap := errors.New("gap")
	err = ReadFrames(resp.Body, func(f Frame) error {
		var ev orchestrator.Event
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return fmt.Errorf("streamapi: decode event %s: %w", f.ID, err)
		}
		if !accept(ev) {
			return errGap
		}
		if ev.IsTerminal() {
			done = true
			return io.EOF
		}
		return nil
	})
	switch {
	case done, errors.Is(err, errGap):
		return done, nil
	default:
		return false, err
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("streamapi: marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("streamapi: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("streamapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("streamapi: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error, Field: body.Field}
}
