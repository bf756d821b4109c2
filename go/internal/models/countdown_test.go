package models

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestNewCountdown(t *testing.T) {
	end := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		before     time.Duration
		display    string
		endingSoon bool
		ended      bool
	}{
		{name: "hours remaining", before: 2*time.Hour + 5*time.Minute + 9*time.Second, display: "02:05:09"},
		{name: "minutes remaining", before: 3*time.Minute + 4*time.Second, display: "03:04"},
		{name: "inside ending soon threshold", before: 90 * time.Second, display: "01:30", endingSoon: true},
		{name: "exactly at threshold", before: 120 * time.Second, display: "02:00", endingSoon: true},
		{name: "at end", before: 0, display: "Ended", ended: true},
		{name: "past end", before: -time.Minute, display: "Ended", ended: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := NewCountdown(end, end.Add(-tt.before))
			check.Equal(t, tt.display, cs.Display)
			check.Equal(t, tt.endingSoon, cs.EndingSoon)
			check.Equal(t, tt.ended, cs.Ended)
			check.True(t, cs.RemainingSeconds >= 0)
		})
	}
}

func TestAuctionEffectiveEndTime(t *testing.T) {
	scheduled := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Auction{ScheduledEnd: &scheduled}

	end, ok := a.EffectiveEndTime()
	check.True(t, ok)
	check.True(t, end.Equal(scheduled))

	extended := scheduled.Add(3 * time.Minute)
	a.ExtendedEnd = &extended
	end, ok = a.EffectiveEndTime()
	check.True(t, ok)
	check.True(t, end.Equal(extended))

	clone := a.Clone()
	later := extended.Add(time.Hour)
	clone.ExtendedEnd = &later
	check.True(t, a.ExtendedEnd.Equal(extended))
}
