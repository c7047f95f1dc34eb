package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Watchdog reports a State that keeps loading for longer than a delay, so that the user can be
// offered a way out (see Bootstrapper.ForceLogin).
type Watchdog struct {
	b       *Bootstrapper
	delay   time.Duration
	clock   clock.Clock
	onStall func(State)

	mu      sync.Mutex
	gen     uint64
	timer   *clock.Timer
	stalled bool
	cancel  func()
}

func NewWatchdog(b *Bootstrapper, delay time.Duration, clk clock.Clock, onStall func(State)) *Watchdog {
	if clk == nil {
		clk = clock.New()
	}
	return &Watchdog{b: b, delay: delay, clock: clk, onStall: onStall}
}

// Start watches the bootstrapper until Stop.
func (w *Watchdog) Start() {
	cancel := w.b.Watch(w.observe)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
}

func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Stalled reports whether the current loading phase outlived the delay.
func (w *Watchdog) Stalled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stalled
}

func (w *Watchdog) observe(st State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !st.Loading {
		w.gen++
		w.stalled = false
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		return
	}
	if w.timer != nil || w.stalled {
		return // already armed for this loading phase
	}

	w.gen++
	gen := w.gen
	w.timer = w.clock.AfterFunc(w.delay, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.stalled = true
	w.mu.Unlock()

	if w.onStall != nil {
		w.onStall(w.b.State())
	}
}
