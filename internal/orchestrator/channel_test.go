package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered events for later assertions.
type recorder struct {
	mu       sync.Mutex
	events   []Event
	terminal chan struct{} // closed on the terminal event when non-nil
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan struct{})}
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if ev.IsTerminal() && r.terminal != nil {
		close(r.terminal)
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) seqs() []uint64 {
	var out []uint64
	for _, ev := range r.all() {
		out = append(out, ev.Seq)
	}
	return out
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
}

func progressEvent(seq uint64, pct float64) Event {
	return Event{JobID: "job", Seq: seq, Kind: KindProgress, Progress: &ProgressPayload{Percent: pct}}
}

func terminalEvent(seq uint64) Event {
	return Event{JobID: "job", Seq: seq, Kind: KindTerminal, Terminal: &TerminalPayload{Kind: TerminalCompleted}}
}

func TestEventChannel_DeliversInOrder(t *testing.T) {
	ch := NewEventChannel(nil)
	var rec recorder
	sub := ch.Subscribe(rec.add)

	for i := uint64(1); i <= 50; i++ {
		require.NoError(t, ch.Publish(progressEvent(i, float64(i))))
	}
	require.NoError(t, ch.Publish(terminalEvent(51)))

	waitDone(t, sub.Done())
	seqs := rec.seqs()
	require.Len(t, seqs, 51)
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}
}

func TestEventChannel_RejectsGapsAndDuplicates(t *testing.T) {
	ch := NewEventChannel(nil)
	require.NoError(t, ch.Publish(progressEvent(1, 0)))

	err := ch.Publish(progressEvent(1, 0))
	var inv *InvariantError
	require.ErrorAs(t, err, &inv)

	err = ch.Publish(progressEvent(3, 0))
	require.ErrorAs(t, err, &inv)

	assert.Equal(t, uint64(1), ch.LastSeq())
}

func TestEventChannel_ClosedAfterTerminal(t *testing.T) {
	ch := NewEventChannel(nil)
	require.NoError(t, ch.Publish(terminalEvent(1)))
	assert.True(t, ch.Closed())

	err := ch.Publish(progressEvent(2, 10))
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestEventChannel_StalledSubscriberDoesNotBlockOthers(t *testing.T) {
	ch := NewEventChannel(nil)

	release := make(chan struct{})
	slow := ch.Subscribe(func(Event) { <-release })

	var fast recorder
	fastSub := ch.Subscribe(fast.add)

	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, ch.Publish(progressEvent(i, float64(i))))
	}
	require.NoError(t, ch.Publish(terminalEvent(21)))

	// The fast subscriber finishes while the slow one is still blocked on
	// its first event.
	waitDone(t, fastSub.Done())
	assert.Len(t, fast.all(), 21)
	assert.Greater(t, slow.Backlog(), 0)

	close(release)
	waitDone(t, slow.Done())
}

func TestEventChannel_KindFilter(t *testing.T) {
	ch := NewEventChannel(nil)
	var rec recorder
	sub := ch.Subscribe(rec.add, KindTerminal)

	require.NoError(t, ch.Publish(progressEvent(1, 50)))
	require.NoError(t, ch.Publish(terminalEvent(2)))

	waitDone(t, sub.Done())
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, KindTerminal, events[0].Kind)
}

func TestEventChannel_ReleasesLogAfterTerminalDelivered(t *testing.T) {
	ch := NewEventChannel(nil)
	var rec recorder
	sub := ch.Subscribe(rec.add)

	require.NoError(t, ch.Publish(progressEvent(1, 10)))
	require.NoError(t, ch.Publish(terminalEvent(2)))

	waitDone(t, sub.Done())
	waitDone(t, ch.Drained())
	assert.Empty(t, ch.Retained())
}

func TestEventChannel_ReleasesWhenNoSubscribers(t *testing.T) {
	ch := NewEventChannel(nil)
	require.NoError(t, ch.Publish(terminalEvent(1)))
	waitDone(t, ch.Drained())
}

func TestEventChannel_UnsubscribeSettlesTerminalDebt(t *testing.T) {
	ch := NewEventChannel(nil)
	block := make(chan struct{})
	sub := ch.Subscribe(func(Event) { <-block })

	require.NoError(t, ch.Publish(progressEvent(1, 10)))
	require.NoError(t, ch.Publish(terminalEvent(2)))

	select {
	case <-ch.Drained():
		t.Fatal("log released before the subscriber saw the terminal event")
	default:
	}

	ch.Unsubscribe(sub)
	ch.Unsubscribe(sub) // idempotent
	close(block)
	waitDone(t, ch.Drained())
	waitDone(t, sub.Done())
}

func TestEventChannel_SubscribeFromReplaysRetainedLog(t *testing.T) {
	ch := NewEventChannel(nil)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, ch.Publish(progressEvent(i, float64(i*10))))
	}

	var rec recorder
	sub := ch.SubscribeFrom(3, rec.add)
	require.NoError(t, ch.Publish(terminalEvent(6)))

	waitDone(t, sub.Done())
	assert.Equal(t, []uint64{3, 4, 5, 6}, rec.seqs())
}

func TestEventChannel_LateSubscriberGetsTerminal(t *testing.T) {
	ch := NewEventChannel(nil)
	require.NoError(t, ch.Publish(progressEvent(1, 10)))
	require.NoError(t, ch.Publish(terminalEvent(2)))
	waitDone(t, ch.Drained())

	var rec recorder
	sub := ch.Subscribe(rec.add)
	waitDone(t, sub.Done())
	events := rec.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].IsTerminal())
}

func TestEventChannel_PanickingSubscriberIsIsolated(t *testing.T) {
	var (
		mu     sync.Mutex
		faults []*SubscriberFault
	)
	ch := NewEventChannel(func(f *SubscriberFault) {
		mu.Lock()
		faults = append(faults, f)
		mu.Unlock()
	})

	bad := ch.Subscribe(func(ev Event) {
		if ev.Seq == 2 {
			panic("boom")
		}
	})
	var good recorder
	goodSub := ch.Subscribe(good.add)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, ch.Publish(progressEvent(i, float64(i))))
	}
	require.NoError(t, ch.Publish(terminalEvent(4)))

	waitDone(t, goodSub.Done())
	waitDone(t, bad.Done())
	assert.Equal(t, []uint64{1, 2, 3, 4}, good.seqs())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 1)
	assert.Equal(t, uint64(2), faults[0].Seq)
	assert.Equal(t, "boom", faults[0].Value)
}

func TestEventChannel_ConcurrentSubscribersSeeSameOrder(t *testing.T) {
	ch := NewEventChannel(nil)
	recs := make([]*recorder, 5)
	subs := make([]*Subscription, 5)
	for i := range recs {
		recs[i] = &recorder{}
		subs[i] = ch.Subscribe(recs[i].add)
	}

	for i := uint64(1); i <= 100; i++ {
		require.NoError(t, ch.Publish(progressEvent(i, 0)))
	}
	require.NoError(t, ch.Publish(terminalEvent(101)))

	for i, s := range subs {
		waitDone(t, s.Done())
		assert.Len(t, recs[i].all(), 101)
	}
	assert.Equal(t, recs[0].seqs(), recs[4].seqs())
}
