package medcache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler arranges for tick to run every interval until stop is called.
// Ticks never overlap. stop must be safe to call more than once.
type Scheduler func(interval time.Duration, tick func()) (stop func())

// TickerScheduler runs ticks on a goroutine driven by clock's ticker.
// With a clockwork fake clock, ticks fire as the clock is advanced.
func TickerScheduler(clock clockwork.Clock) Scheduler {
	return func(interval time.Duration, tick func()) func() {
		ticker := clock.NewTicker(interval)
		done := make(chan struct{})
		exited := make(chan struct{})

		go func() {
			defer close(exited)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.Chan():
					tick()
				case <-done:
					return
				}
			}
		}()

		var once sync.Once
		return func() {
			once.Do(func() {
				close(done)
				<-exited
			})
		}
	}
}

// ManualScheduler records the tick function instead of running it, so tests
// can drive sweeps explicitly with Tick.
type ManualScheduler struct {
	mu      sync.Mutex
	tick    func()
	stopped bool
}

// Schedule satisfies the Scheduler signature.
func (m *ManualScheduler) Schedule(_ time.Duration, tick func()) func() {
	m.mu.Lock()
	m.tick = tick
	m.stopped = false
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
	}
}

// Tick runs the scheduled function once. It reports false when nothing is
// scheduled or the schedule was stopped.
func (m *ManualScheduler) Tick() bool {
	m.mu.Lock()
	tick, stopped := m.tick, m.stopped
	m.mu.Unlock()

	if tick == nil || stopped {
		return false
	}
	tick()
	return true
}

// Stopped reports whether the schedule was cancelled.
func (m *ManualScheduler) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
