// Package balance tracks the on-chain balance of the session address. A
// second fetch for an address already being fetched joins the in-flight call
// instead of hitting the RPC node again, and a failed refresh never erases the
// last successfully observed amount.
package balance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paystream-labs/walletcore/internal/chain"
	domain "github.com/paystream-labs/walletcore/internal/domain/balance"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/metrics"
	ratesvc "github.com/paystream-labs/walletcore/internal/services/rates"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

const defaultFetchTimeout = 15 * time.Second

// fetchCall is one in-flight balance read shared by concurrent callers.
type fetchCall struct {
	done chan struct{}
	bal  domain.Balance
	err  error
}

// Service is the balance fetcher.
type Service struct {
	reader  chain.BalanceReader
	rates   *ratesvc.Service
	timeout time.Duration
	now     func() time.Time
	log     *logger.Logger

	mu       sync.Mutex
	balances map[string]domain.Balance
	inflight map[string]*fetchCall
	onChange []func()
}

// New constructs a balance service. The rates service may be nil when no
// fiat conversion is needed.
func New(reader chain.BalanceReader, rates *ratesvc.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("balance")
	}
	return &Service{
		reader:   reader,
		rates:    rates,
		timeout:  defaultFetchTimeout,
		now:      time.Now,
		log:      log,
		balances: make(map[string]domain.Balance),
		inflight: make(map[string]*fetchCall),
	}
}

// WithTimeout overrides the per-fetch deadline.
func (s *Service) WithTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// OnChange registers a callback invoked after any balance update, successful
// or not.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Fetching reports whether a fetch for the address is currently in flight.
func (s *Service) Fetching(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[normalizeAddress(address)] != nil
}

// Current returns the last known balance for the address.
func (s *Service) Current(address string) (domain.Balance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[normalizeAddress(address)]
	return bal, ok
}

// Converted returns the last known balance multiplied by the cached rate for
// the pair. It reads both caches and never fetches.
func (s *Service) Converted(address, symbol, currency string) (float64, bool) {
	bal, ok := s.Current(address)
	if !ok || !bal.Known || s.rates == nil {
		return 0, false
	}
	return s.rates.Convert(bal.Amount, symbol, currency)
}

// Fetch refreshes the balance for the address. Concurrent calls for the same
// address share one RPC read and observe the same result.
func (s *Service) Fetch(ctx context.Context, address string) (domain.Balance, error) {
	if !common.IsHexAddress(address) {
		return domain.Balance{}, svcerr.Validation("malformed address")
	}
	key := normalizeAddress(address)

	s.mu.Lock()
	if call := s.inflight[key]; call != nil {
		s.mu.Unlock()
		metrics.RecordBalanceFetch("shared")
		select {
		case <-call.done:
			return call.bal, call.err
		case <-ctx.Done():
			return domain.Balance{}, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	call.bal, call.err = s.fetch(ctx, address, key)
	close(call.done)

	s.mu.Lock()
	delete(s.inflight, key)
	callbacks := append([]func(){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return call.bal, call.err
}

func (s *Service) fetch(ctx context.Context, address, key string) (domain.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	amount, err := s.reader.BalanceOf(ctx, address)
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.balances[key]
	current.Address = address

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = svcerr.Timeout("balance fetch", err)
		}
		// Keep the last good amount; only flag the failure.
		current.Stale = current.Known
		current.LastError = err.Error()
		s.balances[key] = current
		metrics.RecordBalanceFetch("error")
		s.log.WithError(err).WithField("address", address).Warn("balance fetch failed")
		return current, err
	}

	current.Amount = amount
	current.Known = true
	current.Stale = false
	current.LastError = ""
	if now.After(current.FetchedAt) {
		current.FetchedAt = now
	}
	s.balances[key] = current
	metrics.RecordBalanceFetch("ok")
	return current, nil
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
