package balance

import "time"

// Balance is the last known on-chain balance for an address. Once Amount has
// been observed, a failed refresh only marks the value stale; it never resets
// Amount, so the dashboard can keep showing the last good figure next to an
// error banner.
type Balance struct {
	Address   string
	Amount    float64
	Known     bool
	FetchedAt time.Time
	Stale     bool
	LastError string
}
