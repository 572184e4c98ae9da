package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/paystream-labs/walletcore/internal/chain"
	"github.com/paystream-labs/walletcore/internal/domain/wallet"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/metrics"
	"github.com/paystream-labs/walletcore/internal/storage"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

const defaultConnectTimeout = 15 * time.Second

// Connector establishes fresh wallet sessions from user-presented
// credentials. A malformed credential fails synchronously, before any
// provider call and without touching the store.
type Connector struct {
	store    *Store
	provider chain.Provider
	markers  storage.SessionMarkerStore
	timeout  time.Duration
	log      *logger.Logger

	mu sync.Mutex
}

// NewConnector creates a connector writing to the given store.
func NewConnector(store *Store, provider chain.Provider, markers storage.SessionMarkerStore, log *logger.Logger) *Connector {
	if log == nil {
		log = logger.NewDefault("session-connector")
	}
	return &Connector{
		store:    store,
		provider: provider,
		markers:  markers,
		timeout:  defaultConnectTimeout,
		log:      log,
	}
}

// WithTimeout overrides the per-connect deadline.
func (c *Connector) WithTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Connect validates the credential, authorizes it with the provider and
// publishes the resulting session. Exactly one store transition survives a
// successful call; failed calls leave the store disconnected.
func (c *Connector) Connect(ctx context.Context, credential, providerLabel string) (_ wallet.Session, err error) {
	defer func() { metrics.RecordSessionOp("connect", err) }()

	if err := validateCredential(credential); err != nil {
		return wallet.Session{}, err
	}
	providerLabel = strings.TrimSpace(providerLabel)
	if providerLabel == "" {
		providerLabel = "wallet"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if state := c.store.State(); state != wallet.StateDisconnected {
		return wallet.Session{}, svcerr.State("session already active").
			WithDetails("state", string(state))
	}
	c.store.transition(wallet.StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	grant, err := c.provider.Authorize(ctx, strings.TrimSpace(credential))
	if err != nil {
		c.store.transition(wallet.StateDisconnected)
		if ctx.Err() == context.DeadlineExceeded {
			return wallet.Session{}, svcerr.Timeout("connect", err)
		}
		return wallet.Session{}, err
	}

	session := wallet.Session{
		Address:       grant.Address,
		ProviderLabel: providerLabel,
		ConnectedAt:   time.Now().UTC(),
	}
	c.store.publish(session, grant.KeyRef)

	if c.markers != nil {
		marker := wallet.Marker{
			Address:       grant.Address,
			ProviderLabel: providerLabel,
			KeyRef:        grant.KeyRef,
			SavedAt:       session.ConnectedAt,
		}
		if err := c.markers.SaveMarker(ctx, marker); err != nil {
			c.log.WithError(err).Warn("save session marker failed")
		}
	}

	c.log.WithField("address", grant.Address).
		WithField("provider", providerLabel).
		Info("wallet connected")
	return session, nil
}

// Disconnect tears down the active session, revokes the provider grant best
// effort and removes the reconnect marker.
func (c *Connector) Disconnect(ctx context.Context) (err error) {
	defer func() { metrics.RecordSessionOp("disconnect", err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.State() != wallet.StateConnected {
		return svcerr.State("wallet not connected")
	}

	session, _ := c.store.Snapshot()
	keyRef, _ := c.store.KeyRef()

	c.store.transition(wallet.StateDisconnecting)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if keyRef != "" {
		if err := c.provider.Revoke(ctx, keyRef); err != nil {
			c.log.WithError(err).Warn("revoke provider grant failed")
		}
	}
	if c.markers != nil {
		if err := c.markers.DeleteMarker(ctx); err != nil {
			c.log.WithError(err).Warn("delete session marker failed")
		}
	}

	c.store.transition(wallet.StateDisconnected)
	c.log.WithField("address", session.Address).Info("wallet disconnected")
	return nil
}

// validateCredential checks the shape of a private key reference: 64 hex
// characters, optionally 0x-prefixed. No network is touched.
func validateCredential(credential string) error {
	trimmed := strings.TrimPrefix(strings.TrimSpace(credential), "0x")
	if len(trimmed) != 64 {
		return svcerr.Credential("invalid format", nil).
			WithDetails("reason", "credential must be 64 hex characters")
	}
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return svcerr.Credential("invalid format", nil).
				WithDetails("reason", "credential must be hex encoded")
		}
	}
	return nil
}
