package call

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"node.town/voxrelay/session"
)

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	d       time.Duration
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f, d: d}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every timer that has not been stopped, as if the quiet period
// had elapsed.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// fireStale runs every timer callback, including stopped ones.
func (c *fakeClock) fireStale() {
	c.mu.Lock()
	all := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}

type recorder struct {
	mu     sync.Mutex
	turns  [][]byte
	gate   chan struct{}
	active atomic.Int32
	peak   atomic.Int32
}

func (r *recorder) handle(audio []byte) {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.turns = append(r.turns, audio)
	r.mu.Unlock()
	r.active.Add(-1)
}

func (r *recorder) got() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.turns...)
}

func newTestAccumulator(t *testing.T, rec *recorder) (*Accumulator, *Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	sess := &session.Session{ID: "s1", Mode: session.Continuous}
	acc := NewAccumulator(sess, rec.handle, Options{Clock: clock})
	return acc, NewController(acc), clock
}

func TestAppendConcatenatesInArrivalOrder(t *testing.T) {
	rec := &recorder{}
	acc, ctl, clock := newTestAccumulator(t, rec)
	ctl.Start()

	for _, f := range []string{"ab", "cd", "ef"} {
		if !acc.Append([]byte(f)) {
			t.Fatalf("Append(%q) dropped while call active", f)
		}
	}
	if acc.State() != Accumulating {
		t.Fatalf("State() = %v, want accumulating", acc.State())
	}

	clock.fire()

	turns := rec.got()
	if len(turns) != 1 || string(turns[0]) != "abcdef" {
		t.Fatalf("turns = %q, want [abcdef]", turns)
	}
	if acc.State() != Idle {
		t.Errorf("State() after turn = %v, want idle", acc.State())
	}
}

func TestEachFragmentRestartsTheTimer(t *testing.T) {
	rec := &recorder{}
	acc, ctl, clock := newTestAccumulator(t, rec)
	ctl.Start()

	acc.Append([]byte("a"))
	acc.Append([]byte("b"))

	live := 0
	for _, tm := range clock.timers {
		if !tm.stopped {
			live++
		}
		if tm.d != DefaultQuietPeriod {
			t.Errorf("timer duration = %v, want %v", tm.d, DefaultQuietPeriod)
		}
	}
	if len(clock.timers) != 2 || live != 1 {
		t.Errorf("timers = %d live = %d, want 2 and 1", len(clock.timers), live)
	}

	// A superseded callback must not flush.
	clock.timers[0].f()
	if len(rec.got()) != 0 {
		t.Error("stale timer flushed the buffer")
	}
	clock.fire()
	if turns := rec.got(); len(turns) != 1 || string(turns[0]) != "ab" {
		t.Errorf("turns = %q, want [ab]", turns)
	}
}

func TestFragmentsDroppedWhenIdle(t *testing.T) {
	rec := &recorder{}
	acc, _, clock := newTestAccumulator(t, rec)

	if acc.Append([]byte("x")) {
		t.Error("Append() accepted a fragment with no active call")
	}
	clock.fire()
	if len(rec.got()) != 0 || acc.Buffered() != 0 {
		t.Error("idle call produced a turn")
	}
}

func TestEmptyFlushDoesNothing(t *testing.T) {
	rec := &recorder{}
	acc, ctl, clock := newTestAccumulator(t, rec)
	ctl.Start()

	acc.Append(nil)
	acc.fire(acc.gen)
	clock.fire()

	if len(rec.got()) != 0 {
		t.Errorf("empty buffer dispatched %d turns", len(rec.got()))
	}
	if acc.State() != Idle {
		t.Errorf("State() = %v, want idle", acc.State())
	}
}

func TestSingleFlight(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	acc, ctl, clock := newTestAccumulator(t, rec)
	ctl.Start()

	acc.Append([]byte("first"))
	done := make(chan struct{})
	go func() {
		clock.fire()
		close(done)
	}()

	waitFor(t, func() bool { return acc.State() == Flushing })

	if acc.Append([]byte("during")) {
		t.Error("Append() accepted a fragment while a turn was in flight")
	}
	if acc.Submit([]byte("other")) {
		t.Error("Submit() started a second turn")
	}

	close(rec.gate)
	<-done

	if acc.State() != Idle {
		t.Fatalf("State() = %v, want idle", acc.State())
	}
	if !acc.Append([]byte("next")) {
		t.Fatal("Append() rejected after the turn finished")
	}
	clock.fire()

	turns := rec.got()
	if len(turns) != 2 || string(turns[0]) != "first" || string(turns[1]) != "next" {
		t.Errorf("turns = %q, want [first next]", turns)
	}
}

func TestSingleFlightUnderConcurrency(t *testing.T) {
	rec := &recorder{}
	acc, ctl, clock := newTestAccumulator(t, rec)
	ctl.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				acc.Append([]byte{byte(j)})
				clock.fire()
			}
		}()
	}
	wg.Wait()
	clock.fire()

	if p := rec.peak.Load(); p > 1 {
		t.Errorf("%d turns ran concurrently, want at most 1", p)
	}
	if acc.State() != Idle {
		t.Errorf("State() = %v, want idle", acc.State())
	}
}

func TestEndCancelsPendingFlush(t *testing.T) {
	rec := &recorder{}
	acc, ctl, clock := newTestAccumulator(t, rec)
	ctl.Start()

	acc.Append([]byte("abc"))
	if !ctl.End() {
		t.Fatal("End() on an active call reported no change")
	}

	clock.fireStale()

	if len(rec.got()) != 0 {
		t.Error("ending the call did not cancel the flush")
	}
	if acc.Buffered() != 0 || acc.State() != Idle {
		t.Errorf("buffered=%d state=%v, want empty idle", acc.Buffered(), acc.State())
	}
}

func TestEndIsIdempotent(t *testing.T) {
	rec := &recorder{}
	_, ctl, _ := newTestAccumulator(t, rec)

	if ctl.End() {
		t.Error("End() on an idle call reported a change")
	}
	if !ctl.Start() || ctl.Start() {
		t.Error("Start() should report a change exactly once")
	}
	if !ctl.End() || ctl.End() {
		t.Error("End() should report a change exactly once")
	}
	if ctl.Active() {
		t.Error("call still active after End()")
	}
}

func TestSubmitBypassesGate(t *testing.T) {
	done := make(chan []byte, 1)
	clock := &fakeClock{}
	sess := &session.Session{ID: "s1", Mode: session.OneShot}
	acc := NewAccumulator(sess, func(audio []byte) { done <- audio }, Options{Clock: clock})

	if !acc.Submit([]byte("blob")) {
		t.Fatal("Submit() refused on an idle accumulator")
	}
	select {
	case got := <-done:
		if string(got) != "blob" {
			t.Errorf("handler got %q, want blob", got)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	waitFor(t, func() bool { return acc.State() == Idle })
}

func TestClosedAccumulatorRefusesAudio(t *testing.T) {
	rec := &recorder{}
	acc, ctl, clock := newTestAccumulator(t, rec)
	ctl.Start()
	acc.Append([]byte("abc"))

	acc.Close()
	clock.fireStale()

	if acc.Append([]byte("x")) || acc.Submit([]byte("y")) {
		t.Error("closed accumulator accepted audio")
	}
	if len(rec.got()) != 0 {
		t.Error("closed accumulator dispatched a turn")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}
