package rates

import "time"

// Snapshot is a cached fiat conversion rate for one (crypto symbol, fiat
// currency) pair.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Currency  string    `json:"currency"`
	Rate      float64   `json:"rate"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Key identifies the cache slot for a snapshot.
type Key struct {
	Symbol   string
	Currency string
}

// FreshAt reports whether the snapshot is still inside the freshness window at
// the given instant.
func (s Snapshot) FreshAt(now time.Time, ttl time.Duration) bool {
	if s.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(s.FetchedAt) < ttl
}
