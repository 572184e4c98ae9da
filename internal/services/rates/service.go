// Package rates caches fiat conversion rates per (symbol, currency) pair.
// Lookups inside the freshness window are served from memory; concurrent
// callers for the same pair share a single upstream fetch.
package rates

import (
	"context"
	"strings"
	"sync"
	"time"

	domain "github.com/paystream-labs/walletcore/internal/domain/rates"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/metrics"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

const defaultTTL = time.Minute

// fetchCall is one in-flight rate fetch shared by concurrent callers.
type fetchCall struct {
	done chan struct{}
	snap domain.Snapshot
	err  error
}

// Service is the exchange rate cache.
type Service struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	log     *logger.Logger

	mu       sync.Mutex
	cache    map[domain.Key]domain.Snapshot
	inflight map[domain.Key]*fetchCall
	onChange []func()
}

// New constructs a rate cache service. A zero ttl falls back to one minute.
func New(fetcher Fetcher, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rates")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		fetcher:  fetcher,
		ttl:      ttl,
		now:      time.Now,
		log:      log,
		cache:    make(map[domain.Key]domain.Snapshot),
		inflight: make(map[domain.Key]*fetchCall),
	}
}

// OnChange registers a callback invoked after any snapshot is refreshed.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func normalizeKey(symbol, currency string) domain.Key {
	return domain.Key{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
	}
}

// GetRate returns the snapshot for the pair, fetching only when the cached
// entry is absent or older than the freshness window.
func (s *Service) GetRate(ctx context.Context, symbol, currency string) (domain.Snapshot, error) {
	key := normalizeKey(symbol, currency)
	if key.Symbol == "" || key.Currency == "" {
		return domain.Snapshot{}, svcerr.Validation("symbol and currency are required")
	}

	s.mu.Lock()
	if snap, ok := s.cache[key]; ok && snap.FreshAt(s.now(), s.ttl) {
		s.mu.Unlock()
		metrics.RecordRateLookup("hit")
		return snap, nil
	}
	if call := s.inflight[key]; call != nil {
		s.mu.Unlock()
		metrics.RecordRateLookup("shared")
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	metrics.RecordRateLookup("miss")
	call.snap, call.err = s.fetch(ctx, key)
	close(call.done)

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()

	return call.snap, call.err
}

func (s *Service) fetch(ctx context.Context, key domain.Key) (domain.Snapshot, error) {
	if s.fetcher == nil {
		return domain.Snapshot{}, svcerr.Internal("no rate fetcher configured", nil)
	}

	fetched, err := s.fetcher.Fetch(ctx, []string{key.Symbol}, key.Currency)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = svcerr.Timeout("rate fetch", err)
		}
		s.log.WithError(err).
			WithField("symbol", key.Symbol).
			WithField("currency", key.Currency).
			Warn("rate fetch failed")
		return domain.Snapshot{}, err
	}

	now := s.now().UTC()
	s.mu.Lock()
	for symbol, rate := range fetched {
		entry := domain.Key{Symbol: strings.ToUpper(symbol), Currency: key.Currency}
		s.cache[entry] = domain.Snapshot{
			Symbol:    entry.Symbol,
			Currency:  entry.Currency,
			Rate:      rate,
			FetchedAt: now,
		}
	}
	snap, ok := s.cache[key]
	callbacks := append([]func(){}, s.onChange...)
	s.mu.Unlock()

	if !ok {
		return domain.Snapshot{}, svcerr.Network("rate service returned no rate for "+key.Symbol, nil)
	}

	for _, fn := range callbacks {
		fn()
	}
	return snap, nil
}

// Peek returns the cached snapshot for the pair without fetching, fresh or
// not.
func (s *Service) Peek(symbol, currency string) (domain.Snapshot, bool) {
	key := normalizeKey(symbol, currency)
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.cache[key]
	return snap, ok
}

// Convert multiplies amount by the cached rate for the pair. It is a pure
// cache read and never triggers a fetch.
func (s *Service) Convert(amount float64, symbol, currency string) (float64, bool) {
	snap, ok := s.Peek(symbol, currency)
	if !ok {
		return 0, false
	}
	return amount * snap.Rate, true
}

// Invalidate drops the cached snapshot for the pair.
func (s *Service) Invalidate(symbol, currency string) {
	key := normalizeKey(symbol, currency)
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}
