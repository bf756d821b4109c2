// Package clock owns auction time: the anti-snipe extension rule and the one-shot
// alarms that feed start and deadline commands back to an auction's coordinator.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/models"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Extension applies the anti-snipe rule to a bid accepted at acceptedAt. When the bid lands
// within the extension window, the new end is acceptedAt plus the extension duration. The new
// end replaces any earlier extension and never moves the deadline backwards.
func Extension(a *models.Auction, acceptedAt time.Time) (time.Time, bool) {
	if !a.Extension.AutoExtend {
		return time.Time{}, false
	}
	end, ok := a.EffectiveEndTime()
	if !ok {
		return time.Time{}, false
	}
	if end.Sub(acceptedAt) > a.Extension.Window() {
		return time.Time{}, false
	}
	next := acceptedAt.Add(a.Extension.Duration())
	if !next.After(end) {
		return time.Time{}, false
	}
	return next, true
}

// Countdown returns the countdown to the auction's effective end.
func Countdown(a *models.Auction, now time.Time) (models.CountdownState, bool) {
	end, ok := a.EffectiveEndTime()
	if !ok {
		return models.CountdownState{}, false
	}
	return models.NewCountdown(end, now), true
}

// Alarm is a replaceable one-shot timer. Setting it again cancels the previous schedule.
type Alarm struct {
	clock Clock

	mu     sync.Mutex
	timer  clockwork.Timer
	cancel chan struct{}
	at     time.Time
}

func NewAlarm(c Clock) *Alarm {
	return &Alarm{clock: c}
}

// Set arranges for fire to run once at. A time already passed fires immediately.
// fire runs on its own goroutine.
func (a *Alarm) Set(at time.Time, fire func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	cancel := make(chan struct{})
	a.cancel = cancel
	a.at = at

	wait := at.Sub(a.clock.Now())
	if wait <= 0 {
		go fire()
		return
	}

	t := a.clock.NewTimer(wait)
	a.timer = t
	go func() {
		select {
		case <-t.Chan():
			fire()
		case <-cancel:
			stopAndDrainTimer(t)
		}
	}()
}

// Stop cancels any pending fire.
func (a *Alarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// At returns the currently scheduled time, zero when idle.
func (a *Alarm) At() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.at
}

func (a *Alarm) stopLocked() {
	if a.cancel != nil {
		close(a.cancel)
		a.cancel = nil
	}
	if a.timer != nil {
		stopAndDrainTimer(a.timer)
		a.timer = nil
	}
	a.at = time.Time{}
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent goroutine leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
