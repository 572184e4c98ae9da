package rates

import (
	"context"
	"sync"
	"time"

	domain "github.com/paystream-labs/walletcore/internal/domain/rates"
	"github.com/paystream-labs/walletcore/internal/system"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// Refresher keeps configured rate pairs warm so dashboard reads rarely pay
// the upstream fetch latency.
type Refresher struct {
	service  *Service
	pairs    []domain.Key
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefresher creates a lifecycle-managed rate refresher for the given
// pairs.
func NewRefresher(service *Service, pairs []domain.Key, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("rates-refresher")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{
		service:  service,
		pairs:    pairs,
		interval: interval,
		log:      log,
	}
}

func (r *Refresher) Name() string { return "rates-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("rate refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("rate refresher stopped")
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	if r.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, pair := range r.pairs {
		r.service.Invalidate(pair.Symbol, pair.Currency)
		if _, err := r.service.GetRate(ctx, pair.Symbol, pair.Currency); err != nil {
			r.log.WithError(err).
				WithField("symbol", pair.Symbol).
				WithField("currency", pair.Currency).
				Warn("rate refresh failed")
		}
	}
}
