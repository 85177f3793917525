package streamapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

func progressAt(seq uint64) orchestrator.Event {
	return orchestrator.Event{JobID: "job", Seq: seq, Kind: orchestrator.KindProgress, Progress: &orchestrator.ProgressPayload{Percent: float64(seq)}}
}

func terminalAt(seq uint64) orchestrator.Event {
	return orchestrator.Event{JobID: "job", Seq: seq, Kind: orchestrator.KindTerminal, Terminal: &orchestrator.TerminalPayload{Kind: orchestrator.TerminalCompleted}}
}

// scriptedServer answers the n-th events request with script[n]; requests
// beyond the script get the last entry.
func scriptedServer(t *testing.T, script ...[]orchestrator.Event) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := log.record(r.Header.Get("Last-Event-ID"))
		sw := NewSSEWriter(w)
		sw.Init()
		for _, ev := range script[min(n, len(script)-1)] {
			assert.NoError(t, sw.WriteEvent(ev))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

// requestLog records the Last-Event-ID of every events request.
type requestLog struct {
	mu      sync.Mutex
	lastIDs []string
}

func (l *requestLog) record(lastID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastIDs = append(l.lastIDs, lastID)
	return len(l.lastIDs) - 1
}

func (l *requestLog) ids() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lastIDs...)
}

func (l *requestLog) calls() int {
	return len(l.ids())
}

func collect(t *testing.T, c *Client, from uint64) ([]uint64, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var seqs []uint64
	err := c.Stream(ctx, "job", from, func(ev orchestrator.Event) {
		seqs = append(seqs, ev.Seq)
	})
	return seqs, err
}

func TestClientStream_ReconnectsOnGap(t *testing.T) {
	srv, reqs := scriptedServer(t,
		[]orchestrator.Event{progressAt(1), progressAt(2), progressAt(4)},
		[]orchestrator.Event{progressAt(3), progressAt(4), terminalAt(5)},
	)
	c := NewClient(srv.URL, WithReconnect(time.Millisecond, 3))

	seqs, err := collect(t, c, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
	assert.Equal(t, []string{"", "2"}, reqs.ids())
}

func TestClientStream_ReconnectsOnDrop(t *testing.T) {
	srv, reqs := scriptedServer(t,
		[]orchestrator.Event{progressAt(1)},
		[]orchestrator.Event{progressAt(1), progressAt(2), terminalAt(3)},
	)
	c := NewClient(srv.URL, WithReconnect(time.Millisecond, 3))

	seqs, err := collect(t, c, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, seqs, "replayed duplicates are dropped")
	assert.Equal(t, []string{"", "1"}, reqs.ids())
}

func TestClientStream_ResumesFrom(t *testing.T) {
	srv, reqs := scriptedServer(t, []orchestrator.Event{progressAt(4), terminalAt(5)})
	c := NewClient(srv.URL)

	seqs, err := collect(t, c, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, seqs)
	assert.Equal(t, []string{"3"}, reqs.ids())
}

func TestClientStream_ReleasedLogYieldsGapError(t *testing.T) {
	srv, _ := scriptedServer(t, []orchestrator.Event{terminalAt(10)})
	c := NewClient(srv.URL, WithReconnect(time.Millisecond, 3))

	seqs, err := collect(t, c, 1)
	assert.Equal(t, []uint64{10}, seqs, "the terminal event is still delivered")
	var gap *GapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, GapError{From: 1, To: 10}, *gap)
}

func TestClientStream_PersistentGap(t *testing.T) {
	srv, reqs := scriptedServer(t, []orchestrator.Event{progressAt(1), progressAt(3)})
	c := NewClient(srv.URL, WithReconnect(time.Millisecond, 2))

	seqs, err := collect(t, c, 1)
	assert.Equal(t, []uint64{1}, seqs)
	var gap *GapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, uint64(2), gap.From)
	assert.Equal(t, 3, reqs.calls())
}

func TestClientStream_GivesUpWithoutEvents(t *testing.T) {
	srv, reqs := scriptedServer(t, []orchestrator.Event{})
	c := NewClient(srv.URL, WithReconnect(time.Millisecond, 2))

	_, err := collect(t, c, 1)
	assert.ErrorIs(t, err, ErrStreamEnded)
	assert.Equal(t, 3, reqs.calls())
}

func TestClientStream_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := NewSSEWriter(w)
		sw.Init()
		_ = sw.WriteEvent(progressAt(1))
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	err := c.Stream(ctx, "job", 1, func(orchestrator.Event) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Jobs(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.NotErrorIs(t, err, orchestrator.ErrJobNotFound)
}
