package batcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xaenox/tripsync-bot/internal/models"
	"go.uber.org/zap"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) fire(t *testing.T, timer *fakeTimer) {
	t.Helper()
	if timer.stopped || timer.fired {
		t.Fatal("firing an inactive timer")
	}
	timer.fired = true
	timer.f()
}

type recorder struct {
	mu      sync.Mutex
	batches []recordedBatch
}

type recordedBatch struct {
	chatID string
	texts  []string
}

func (r *recorder) flush(_ context.Context, chatID string, batch []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := make([]string, len(batch))
	for i, m := range batch {
		texts[i] = m.Text
	}
	r.batches = append(r.batches, recordedBatch{chatID: chatID, texts: texts})
}

func msg(chatID, text string) models.Message {
	return models.Message{ChatID: chatID, SenderID: "s1", Text: text, Timestamp: time.Now()}
}

func stateOf(r *Registry, chatID string) sessionState {
	r.mu.Lock()
	s := r.sessions[chatID]
	r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func TestWindowCollectsInOrderAndFiresOnce(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	reg := NewRegistry(context.Background(), 10*time.Second, rec.flush, zap.NewNop(), WithAfterFunc(clock.AfterFunc))

	// t=0s, t=3s, t=9s within one 10s window
	for _, text := range []string{"first", "second", "third"} {
		if !reg.Add(msg("g1", text)) {
			t.Fatal("add rejected")
		}
		if n := len(clock.active()); n != 1 {
			t.Fatalf("expected exactly one active timer, got %d", n)
		}
	}

	if len(clock.timers) != 1 {
		t.Fatalf("timer must not be reset by later messages, got %d timers", len(clock.timers))
	}
	if clock.timers[0].d != 10*time.Second {
		t.Fatalf("expected 10s window, got %v", clock.timers[0].d)
	}
	if len(rec.batches) != 0 {
		t.Fatal("flushed before the window expired")
	}

	clock.fire(t, clock.timers[0])

	if len(rec.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(rec.batches))
	}
	got := rec.batches[0].texts
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch order %v, want %v", got, want)
		}
	}
	if st := stateOf(reg, "g1"); st != stateIdle {
		t.Fatalf("expected idle after flush, got %s", st)
	}
	if len(clock.active()) != 0 {
		t.Fatal("no timer may remain after the window closes")
	}
}

func TestMessagesDuringFlushOpenNextWindow(t *testing.T) {
	clock := &fakeClock{}
	var reg *Registry
	var batches [][]string
	flush := func(_ context.Context, chatID string, batch []models.Message) {
		texts := make([]string, len(batch))
		for i, m := range batch {
			texts[i] = m.Text
		}
		batches = append(batches, texts)
		if len(batches) == 1 {
			if st := stateOf(reg, chatID); st != stateFlushing {
				t.Errorf("expected flushing during flush, got %s", st)
			}
			reg.Add(msg(chatID, "late"))
			if n := len(clock.active()); n != 0 {
				t.Errorf("no timer may start while flushing, got %d", n)
			}
		}
	}
	reg = NewRegistry(context.Background(), time.Second, flush, zap.NewNop(), WithAfterFunc(clock.AfterFunc))

	reg.Add(msg("g1", "early"))
	clock.fire(t, clock.timers[0])

	active := clock.active()
	if len(active) != 1 {
		t.Fatalf("expected a new window for the late message, got %d timers", len(active))
	}
	clock.fire(t, active[0])

	if len(batches) != 2 || batches[0][0] != "early" || batches[1][0] != "late" {
		t.Fatalf("unexpected batches %v", batches)
	}
}

func TestChatsAreIsolated(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	reg := NewRegistry(context.Background(), time.Second, rec.flush, zap.NewNop(), WithAfterFunc(clock.AfterFunc))

	reg.Add(msg("g1", "a1"))
	reg.Add(msg("g2", "b1"))
	reg.Add(msg("g1", "a2"))

	if len(clock.timers) != 2 {
		t.Fatalf("expected one timer per chat, got %d", len(clock.timers))
	}

	clock.fire(t, clock.timers[1])
	if len(rec.batches) != 1 || rec.batches[0].chatID != "g2" || len(rec.batches[0].texts) != 1 {
		t.Fatalf("g2 batch must only hold g2 messages: %+v", rec.batches)
	}
	if reg.Buffered("g1") != 2 {
		t.Fatalf("g1 buffer must be untouched, got %d", reg.Buffered("g1"))
	}

	clock.fire(t, clock.timers[0])
	if len(rec.batches) != 2 || rec.batches[1].chatID != "g1" || len(rec.batches[1].texts) != 2 {
		t.Fatalf("unexpected g1 batch: %+v", rec.batches)
	}
}

func TestForcedFlushAndStaleTimer(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	reg := NewRegistry(context.Background(), time.Second, rec.flush, zap.NewNop(), WithAfterFunc(clock.AfterFunc))

	reg.closeWindow("unknown")
	reg.Add(msg("g1", "one"))
	stale := clock.timers[0]

	reg.closeWindow("g1")
	if len(rec.batches) != 1 {
		t.Fatalf("expected forced flush, got %d batches", len(rec.batches))
	}
	if !stale.stopped {
		t.Fatal("forced flush must stop the pending timer")
	}

	reg.Add(msg("g1", "two"))
	// a late callback of the stopped timer must not close the new window
	stale.f()
	if len(rec.batches) != 1 {
		t.Fatal("stale timer closed the new window")
	}

	reg.closeWindow("g1")
	reg.closeWindow("g1")
	if len(rec.batches) != 2 {
		t.Fatalf("expected two batches, got %d", len(rec.batches))
	}
}

func TestStopDropsPendingAndRejectsNewMessages(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	reg := NewRegistry(context.Background(), time.Second, rec.flush, zap.NewNop(), WithAfterFunc(clock.AfterFunc))

	reg.Add(msg("g1", "pending"))
	reg.Stop()

	if len(clock.active()) != 0 {
		t.Fatal("stop must cancel pending timers")
	}
	if reg.Add(msg("g1", "after stop")) {
		t.Fatal("add after stop must be rejected")
	}
	if len(rec.batches) != 0 {
		t.Fatal("stopped registry must not flush")
	}
}

func TestStopWaitsForRunningFlush(t *testing.T) {
	clock := &fakeClock{}
	started := make(chan struct{})
	release := make(chan struct{})
	flush := func(context.Context, string, []models.Message) {
		close(started)
		<-release
	}
	reg := NewRegistry(context.Background(), time.Second, flush, zap.NewNop(), WithAfterFunc(clock.AfterFunc))

	reg.Add(msg("g1", "slow"))
	go clock.timers[0].f()
	<-started

	stopped := make(chan struct{})
	go func() {
		reg.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a flush was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop never returned after the flush finished")
	}
}

func TestFlushPanicReturnsSessionToIdle(t *testing.T) {
	clock := &fakeClock{}
	calls := 0
	flush := func(context.Context, string, []models.Message) {
		calls++
		if calls == 1 {
			panic("boom")
		}
	}
	reg := NewRegistry(context.Background(), time.Second, flush, zap.NewNop(), WithAfterFunc(clock.AfterFunc))

	reg.Add(msg("g1", "x"))
	clock.fire(t, clock.timers[0])
	if st := stateOf(reg, "g1"); st != stateIdle {
		t.Fatalf("expected idle after panic, got %s", st)
	}

	reg.Add(msg("g1", "y"))
	clock.fire(t, clock.active()[0])
	if calls != 2 {
		t.Fatalf("expected a second flush, got %d calls", calls)
	}
}

func TestRealTimerWindow(t *testing.T) {
	done := make(chan []models.Message, 1)
	flush := func(_ context.Context, _ string, batch []models.Message) { done <- batch }
	reg := NewRegistry(context.Background(), 20*time.Millisecond, flush, zap.NewNop())
	defer reg.Stop()

	reg.Add(msg("g1", "a"))
	reg.Add(msg("g1", "b"))

	select {
	case batch := <-done:
		if len(batch) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("window never closed")
	}
}

func TestNonPositiveWindowUsesDefault(t *testing.T) {
	reg := NewRegistry(context.Background(), 0, func(context.Context, string, []models.Message) {}, zap.NewNop())
	if reg.window != DefaultWindow {
		t.Fatalf("expected default window, got %v", reg.window)
	}
}
