package participant

import (
	"sync"
	"time"
)

// Scheduler runs fn every interval until the returned stop func is called.
// Stopping never interrupts an fn already running.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler schedules on a time.Ticker in its own goroutine.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// done may have closed while waiting on the tick.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return sync.OnceFunc(func() {
		ticker.Stop()
		close(done)
	})
}

// periodic is a restartable, idempotent wrapper around a Scheduler.
type periodic struct {
	sched    Scheduler
	interval time.Duration
	fn       func()

	mu   sync.Mutex
	stop func()
}

func newPeriodic(sched Scheduler, interval time.Duration, fn func()) *periodic {
	if sched == nil {
		sched = TickerScheduler{}
	}
	return &periodic{sched: sched, interval: interval, fn: fn}
}

// start reports false when already running.
func (p *periodic) start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return false
	}
	p.stop = p.sched.Every(p.interval, p.fn)
	return true
}

func (p *periodic) cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
}

func (p *periodic) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}
