package models

import (
	"fmt"
	"time"
)

// EndingSoonThreshold marks the final stretch shown to bidders.
const EndingSoonThreshold = 120 * time.Second

// CountdownState is the derived time remaining until the effective end.
type CountdownState struct {
	EndTime          time.Time `json:"end_time"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Hours            int64     `json:"hours"`
	Minutes          int64     `json:"minutes"`
	Seconds          int64     `json:"seconds"`
	EndingSoon       bool      `json:"ending_soon"`
	Ended            bool      `json:"ended"`
	Display          string    `json:"display"`
}

// NewCountdown computes the countdown to end as seen at now. Remaining time never goes negative.
func NewCountdown(end, now time.Time) CountdownState {
	remaining := end.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	secs := int64(remaining / time.Second)
	cs := CountdownState{
		EndTime:          end,
		RemainingSeconds: secs,
		Hours:            secs / 3600,
		Minutes:          (secs % 3600) / 60,
		Seconds:          secs % 60,
		Ended:            remaining == 0,
	}
	cs.EndingSoon = !cs.Ended && remaining <= EndingSoonThreshold

	switch {
	case cs.Ended:
		cs.Display = "Ended"
	case cs.Hours > 0:
		cs.Display = fmt.Sprintf("%02d:%02d:%02d", cs.Hours, cs.Minutes, cs.Seconds)
	default:
		cs.Display = fmt.Sprintf("%02d:%02d", cs.Minutes, cs.Seconds)
	}
	return cs
}
