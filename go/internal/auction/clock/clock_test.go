package clock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func liveAuction(end time.Time) *models.Auction {
	return &models.Auction{
		Status:       models.AuctionStatusLive,
		StartTime:    &start,
		ScheduledEnd: &end,
		Extension:    models.ExtensionPolicy{AutoExtend: true, WindowSeconds: 120, DurationSeconds: 300},
	}
}

func TestExtension(t *testing.T) {
	end := start.Add(time.Hour)

	tests := []struct {
		name       string
		remaining  time.Duration
		autoExtend bool
		want       bool
	}{
		{name: "outside window", remaining: 121 * time.Second, autoExtend: true, want: false},
		{name: "at window boundary", remaining: 120 * time.Second, autoExtend: true, want: true},
		{name: "inside window", remaining: 90 * time.Second, autoExtend: true, want: true},
		{name: "auto extend disabled", remaining: 10 * time.Second, autoExtend: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := liveAuction(end)
			a.Extension.AutoExtend = tt.autoExtend
			acceptedAt := end.Add(-tt.remaining)

			next, ok := Extension(a, acceptedAt)
			check.Equal(t, tt.want, ok)
			if tt.want {
				check.True(t, next.Equal(acceptedAt.Add(300*time.Second)))
			}
		})
	}
}

func TestExtensionReplacesRatherThanStacks(t *testing.T) {
	end := start.Add(time.Hour)
	a := liveAuction(end)

	first := end.Add(-60 * time.Second)
	next, ok := Extension(a, first)
	assert.True(t, ok)
	a.ExtendedEnd = &next

	// A burst of bids inside the same second all land on the same deadline.
	for i := 0; i < 5; i++ {
		again, ok := Extension(a, first)
		check.False(t, ok)
		check.True(t, again.IsZero())
	}

	// The next bid inside the new window resets to its own acceptance plus duration.
	second := next.Add(-30 * time.Second)
	replaced, ok := Extension(a, second)
	assert.True(t, ok)
	check.True(t, replaced.Equal(second.Add(300*time.Second)))
	check.True(t, replaced.Before(next.Add(300*time.Second)))
}

func TestCountdown(t *testing.T) {
	end := start.Add(time.Hour)
	a := liveAuction(end)

	cs, ok := Countdown(a, end.Add(-90*time.Second))
	assert.True(t, ok)
	check.Equal(t, int64(90), cs.RemainingSeconds)
	check.True(t, cs.EndingSoon)

	_, ok = Countdown(&models.Auction{}, start)
	check.False(t, ok)
}

func TestAlarmFiresOnceAtDeadline(t *testing.T) {
	fc := clockwork.NewFakeClockAt(start)
	alarm := NewAlarm(fc)
	fired := make(chan time.Time, 4)

	alarm.Set(start.Add(time.Minute), func() { fired <- fc.Now() })
	check.True(t, alarm.At().Equal(start.Add(time.Minute)))

	fc.Advance(59 * time.Second)
	select {
	case <-fired:
		t.Fatal("alarm fired early")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Advance(time.Second)
	select {
	case at := <-fired:
		check.True(t, at.Equal(start.Add(time.Minute)))
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}
}

func TestAlarmResetCancelsPrevious(t *testing.T) {
	fc := clockwork.NewFakeClockAt(start)
	alarm := NewAlarm(fc)
	fired := make(chan string, 4)

	alarm.Set(start.Add(time.Minute), func() { fired <- "first" })
	alarm.Set(start.Add(2*time.Minute), func() { fired <- "second" })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, fc.BlockUntilContext(ctx, 1))

	fc.Advance(2 * time.Minute)
	select {
	case name := <-fired:
		check.Equal(t, "second", name)
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}
	select {
	case name := <-fired:
		t.Fatalf("unexpected extra fire %q", name)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAlarmPastDeadlineFiresImmediately(t *testing.T) {
	fc := clockwork.NewFakeClockAt(start)
	alarm := NewAlarm(fc)
	fired := make(chan struct{}, 1)

	alarm.Set(start.Add(-time.Second), func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}

	alarm.Set(start.Add(time.Minute), func() { fired <- struct{}{} })
	alarm.Stop()
	check.True(t, alarm.At().IsZero())
	fc.Advance(time.Hour)
	select {
	case <-fired:
		t.Fatal("stopped alarm fired")
	case <-time.After(20 * time.Millisecond):
	}
}
