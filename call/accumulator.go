// Package call segments an open-microphone stream into utterances and gates
// it with the call state.
package call

import (
	"sync"
	"time"

	"node.town/voxrelay/session"
)

const DefaultQuietPeriod = time.Second

type State int

const (
	Idle State = iota
	Accumulating
	Flushing
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Flushing:
		return "flushing"
	default:
		return "idle"
	}
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Handler runs one turn for a flushed utterance. The accumulator stays in
// Flushing until it returns.
type Handler func(audio []byte)

type Options struct {
	QuietPeriod time.Duration
	Clock       Clock
}

// Accumulator buffers continuous-call fragments for one session and hands
// the buffer to the handler once the speaker has been quiet for the quiet
// period. At most one handler runs at a time.
type Accumulator struct {
	sess    *session.Session
	handler Handler
	quiet   time.Duration
	clock   Clock

	mu     sync.Mutex
	state  State
	buf    []byte
	timer  Timer
	gen    uint64
	closed bool
}

func NewAccumulator(sess *session.Session, handler Handler, opts Options) *Accumulator {
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Accumulator{
		sess:    sess,
		handler: handler,
		quiet:   opts.QuietPeriod,
		clock:   opts.Clock,
	}
}

func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Buffered reports the number of bytes waiting for the next flush.
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Append adds a fragment to the pending utterance and restarts the silence
// timer. Fragments are dropped while the call is idle or a turn is in
// flight; the result reports whether the fragment was kept.
func (a *Accumulator) Append(fragment []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.sess.CallActive() || a.state == Flushing {
		return false
	}
	if len(fragment) == 0 {
		return true
	}

	a.buf = append(a.buf, fragment...)
	a.state = Accumulating
	a.stopTimerLocked()
	gen := a.gen
	a.timer = a.clock.AfterFunc(a.quiet, func() { a.fire(gen) })
	return true
}

// Submit runs a turn for a complete utterance on its own goroutine,
// skipping the call gate and the silence timer. It reports false when a
// turn is already in flight.
func (a *Accumulator) Submit(utterance []byte) bool {
	a.mu.Lock()
	if a.closed || a.state == Flushing {
		a.mu.Unlock()
		return false
	}
	a.stopTimerLocked()
	a.buf = nil
	a.state = Flushing
	a.mu.Unlock()

	go a.run(utterance)
	return true
}

// Reset cancels the pending flush and discards the buffer. A turn already
// in flight is not interrupted.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

// Close resets the accumulator and refuses all further audio.
func (a *Accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	a.closed = true
}

func (a *Accumulator) resetLocked() {
	a.stopTimerLocked()
	a.buf = nil
	if a.state == Accumulating {
		a.state = Idle
	}
}

// stopTimerLocked also bumps the generation so a callback that already
// started before Stop takes effect finds itself stale.
func (a *Accumulator) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

// setGate flips the session's call flag under the accumulator lock and
// clears any residual buffer when the flag changes.
func (a *Accumulator) setGate(active bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := a.sess.SetCallActive(active)
	if changed {
		a.resetLocked()
	}
	return changed
}

func (a *Accumulator) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.state != Accumulating || len(a.buf) == 0 {
		a.mu.Unlock()
		return
	}
	audio := a.buf
	a.buf = nil
	a.timer = nil
	a.state = Flushing
	a.mu.Unlock()

	a.run(audio)
}

func (a *Accumulator) run(audio []byte) {
	defer func() {
		a.mu.Lock()
		a.state = Idle
		a.mu.Unlock()
	}()
	a.handler(audio)
}
