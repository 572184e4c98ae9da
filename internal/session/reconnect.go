package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paystream-labs/walletcore/internal/chain"
	"github.com/paystream-labs/walletcore/internal/domain/wallet"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/metrics"
	"github.com/paystream-labs/walletcore/internal/storage"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// ErrNoPriorSession is returned when no reconnect marker exists. It is not a
// failure: the dashboard simply shows the fresh-connect flow.
var ErrNoPriorSession = errors.New("session: no prior session")

const defaultReconnectTimeout = 15 * time.Second

// attempt is one in-flight reconnection shared by all concurrent callers.
type attempt struct {
	done    chan struct{}
	session wallet.Session
	err     error
}

// Reconnector silently restores a previously active session from its stored
// marker. Concurrent invocations collapse into a single provider call and
// every caller observes the same result. A failed attempt keeps the marker so
// a later manual retry remains possible, and records its error in a slot
// distinct from the connector's so the dashboard can tell "never connected"
// from "failed to restore".
type Reconnector struct {
	store    *Store
	provider chain.Provider
	markers  storage.SessionMarkerStore
	timeout  time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	inflight  *attempt
	attempted bool
	lastErr   error
}

// NewReconnector creates a reconnector writing to the given store.
func NewReconnector(store *Store, provider chain.Provider, markers storage.SessionMarkerStore, log *logger.Logger) *Reconnector {
	if log == nil {
		log = logger.NewDefault("session-reconnector")
	}
	return &Reconnector{
		store:    store,
		provider: provider,
		markers:  markers,
		timeout:  defaultReconnectTimeout,
		log:      log,
	}
}

// WithTimeout overrides the per-attempt deadline.
func (r *Reconnector) WithTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Attempted reports whether a reconnect has run in this process.
func (r *Reconnector) Attempted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempted
}

// LastError returns the most recent reconnect failure, if any. It is cleared
// by a successful attempt.
func (r *Reconnector) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Attempt restores the prior session if a marker exists. Callers arriving
// while an attempt is in flight await its result instead of issuing a
// duplicate provider call.
func (r *Reconnector) Attempt(ctx context.Context) (wallet.Session, error) {
	r.mu.Lock()
	if current := r.inflight; current != nil {
		r.mu.Unlock()
		select {
		case <-current.done:
			return current.session, current.err
		case <-ctx.Done():
			return wallet.Session{}, ctx.Err()
		}
	}
	current := &attempt{done: make(chan struct{})}
	r.inflight = current
	r.attempted = true
	r.mu.Unlock()

	session, err := r.run(ctx)
	if !errors.Is(err, ErrNoPriorSession) {
		metrics.RecordSessionOp("reconnect", err)
	}

	current.session = session
	current.err = err
	close(current.done)

	r.mu.Lock()
	r.inflight = nil
	if err != nil && !errors.Is(err, ErrNoPriorSession) {
		r.lastErr = err
	} else if err == nil {
		r.lastErr = nil
	}
	r.mu.Unlock()

	return session, err
}

func (r *Reconnector) run(ctx context.Context) (wallet.Session, error) {
	if session, ok := r.store.Snapshot(); ok && r.store.State() == wallet.StateConnected {
		return session, nil
	}

	if r.markers == nil {
		return wallet.Session{}, ErrNoPriorSession
	}
	marker, err := r.markers.GetMarker(ctx)
	if errors.Is(err, storage.ErrNoMarker) {
		return wallet.Session{}, ErrNoPriorSession
	}
	if err != nil {
		return wallet.Session{}, svcerr.Internal("load session marker", err)
	}

	if !r.store.transition(wallet.StateReconnecting) {
		return wallet.Session{}, svcerr.State("session busy").
			WithDetails("state", string(r.store.State()))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	grant, err := r.provider.Resume(ctx, marker.KeyRef)
	if err != nil {
		r.store.transition(wallet.StateDisconnected)
		if ctx.Err() == context.DeadlineExceeded {
			err = svcerr.Timeout("reconnect", err)
		}
		r.log.WithError(err).Warn("session restore failed")
		// The marker survives so a manual retry stays possible.
		return wallet.Session{}, err
	}

	session := wallet.Session{
		Address:       grant.Address,
		ProviderLabel: marker.ProviderLabel,
		ConnectedAt:   time.Now().UTC(),
	}
	r.store.publish(session, grant.KeyRef)

	r.log.WithField("address", session.Address).Info("session restored")
	return session, nil
}
