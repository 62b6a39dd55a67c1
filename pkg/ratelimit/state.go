// Package ratelimit tracks YouTube Data API quota consumption and paces
// outgoing requests. Quota is accounted in units (every list call costs one)
// against a daily budget that resets at midnight Pacific time.
package ratelimit

import (
	"time"
)

// Redis keys for quota state storage.
const (
	RedisKeyUnitsUsed = "yt:quota:units_used"
	RedisKeyExhausted = "yt:quota:exhausted"
)

const (
	// DefaultDailyQuota is the quota granted to a new API project.
	DefaultDailyQuota = 10000

	// DefaultReserveUnits are held back so that a run never drains the
	// project to zero.
	DefaultReserveUnits = 50

	// WarningRatio applies throttling once remaining quota falls below this
	// fraction of the daily limit.
	WarningRatio = 0.10
)

var pacific = loadPacific()

func loadPacific() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.FixedZone("PST", -8*60*60)
	}
	return loc
}

// NextReset returns the next quota reset after now (midnight Pacific).
func NextReset(now time.Time) time.Time {
	p := now.In(pacific)
	midnight := time.Date(p.Year(), p.Month(), p.Day(), 0, 0, 0, 0, pacific)
	return midnight.AddDate(0, 0, 1)
}

// QuotaState represents the current quota window.
type QuotaState struct {
	// UnitsUsed is the number of units charged in the current window.
	UnitsUsed int64 `json:"units_used"`

	// DailyLimit is the configured daily budget.
	DailyLimit int64 `json:"daily_limit"`

	// Reserve is the number of units that must stay unused.
	Reserve int64 `json:"reserve"`

	// ResetAt is when the window rolls over.
	ResetAt time.Time `json:"reset_at"`

	// Exhausted is set when the API itself reported quotaExceeded.
	Exhausted bool `json:"exhausted"`

	LastUpdate time.Time `json:"last_update"`
}

// Remaining returns the units left in the window, never negative.
func (s *QuotaState) Remaining() int64 {
	r := s.DailyLimit - s.UnitsUsed
	if r < 0 {
		return 0
	}
	return r
}

// NeedsCriticalBlock returns true if requests must not be sent.
func (s *QuotaState) NeedsCriticalBlock() bool {
	return s.Exhausted || s.Remaining() <= s.Reserve
}

// NeedsThrottling returns true when the window is running low but not empty.
func (s *QuotaState) NeedsThrottling() bool {
	if s.NeedsCriticalBlock() {
		return false
	}
	return float64(s.Remaining()) < float64(s.DailyLimit)*WarningRatio
}

// IsHealthy reports whether no restriction applies.
func (s *QuotaState) IsHealthy() bool {
	return !s.NeedsCriticalBlock() && !s.NeedsThrottling()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *QuotaState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
