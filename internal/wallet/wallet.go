// Package wallet is the composition surface over the session, balance, rate
// and payment services. Handlers talk to this facade only; the services stay
// oblivious to each other except where a contract requires it.
package wallet

import (
	"context"
	"sync"

	walletdom "github.com/paystream-labs/walletcore/internal/domain/wallet"

	paydom "github.com/paystream-labs/walletcore/internal/domain/payment"
	ratedom "github.com/paystream-labs/walletcore/internal/domain/rates"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/services/balance"
	"github.com/paystream-labs/walletcore/internal/services/payment"
	"github.com/paystream-labs/walletcore/internal/services/rates"
	"github.com/paystream-labs/walletcore/internal/session"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// Deps collects the services the facade composes.
type Deps struct {
	Store       *session.Store
	Connector   *session.Connector
	Reconnector *session.Reconnector
	Balances    *balance.Service
	Rates       *rates.Service
	Payments    *payment.Service
	Log         *logger.Logger
}

// Wallet is the aggregated wallet surface.
type Wallet struct {
	store       *session.Store
	connector   *session.Connector
	reconnector *session.Reconnector
	balances    *balance.Service
	rates       *rates.Service
	payments    *payment.Service
	log         *logger.Logger

	displaySymbol   string
	displayCurrency string

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
}

// subscription is one registered listener. Its own lock guarantees the
// listener is never invoked after Unsubscribe returns, even if a broadcast is
// concurrently in flight.
type subscription struct {
	mu     sync.Mutex
	fn     func()
	closed bool
}

func (s *subscription) invoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.fn()
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.fn = nil
	s.mu.Unlock()
}

// Snapshot is one consistent view of wallet state for rendering.
type Snapshot struct {
	IsConnected       bool    `json:"is_connected"`
	Address           string  `json:"address,omitempty"`
	ProviderLabel     string  `json:"provider_label,omitempty"`
	Balance           float64 `json:"balance"`
	BalanceKnown      bool    `json:"balance_known"`
	BalanceStale      bool    `json:"balance_stale"`
	ConvertedBalance  float64 `json:"converted_balance"`
	ConvertedKnown    bool    `json:"converted_known"`
	Currency          string  `json:"currency"`
	IsFetchingBalance bool    `json:"is_fetching_balance"`
	IsSending         bool    `json:"is_sending"`
	ReconnectError    string  `json:"reconnect_error,omitempty"`
	SendError         string  `json:"send_error,omitempty"`
	SuccessMessage    string  `json:"success_message,omitempty"`
}

// New wires the facade and subscribes it to every underlying change source so
// one Subscribe covers the whole wallet.
func New(deps Deps) *Wallet {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	w := &Wallet{
		store:           deps.Store,
		connector:       deps.Connector,
		reconnector:     deps.Reconnector,
		balances:        deps.Balances,
		rates:           deps.Rates,
		payments:        deps.Payments,
		log:             log,
		displaySymbol:   "ETH",
		displayCurrency: "USD",
		subs:            make(map[int]*subscription),
	}
	w.store.Subscribe(w.broadcast)
	w.balances.OnChange(w.broadcast)
	w.rates.OnChange(w.broadcast)
	w.payments.OnChange(w.broadcast)
	return w
}

// WithDisplayRate sets the conversion pair shown in snapshots.
func (w *Wallet) WithDisplayRate(symbol, currency string) {
	w.mu.Lock()
	w.displaySymbol = symbol
	w.displayCurrency = currency
	w.mu.Unlock()
}

// Subscribe registers a change callback for any wallet state change. After
// the returned unsubscribe func returns, the callback is never invoked again.
func (w *Wallet) Subscribe(fn func()) func() {
	sub := &subscription{fn: fn}

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = sub
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
		sub.close()
	}
}

func (w *Wallet) broadcast() {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		subs = append(subs, sub)
	}
	w.mu.Unlock()
	for _, sub := range subs {
		sub.invoke()
	}
}

// Connect establishes a session from a raw credential.
func (w *Wallet) Connect(ctx context.Context, credential, providerLabel string) (walletdom.Session, error) {
	return w.connector.Connect(ctx, credential, providerLabel)
}

// AttemptReconnect restores the previous session from its marker.
func (w *Wallet) AttemptReconnect(ctx context.Context) (walletdom.Session, error) {
	return w.reconnector.Attempt(ctx)
}

// Disconnect tears the session down and removes the reconnect marker.
func (w *Wallet) Disconnect(ctx context.Context) error {
	return w.connector.Disconnect(ctx)
}

// RefreshBalance fetches the connected address's balance.
func (w *Wallet) RefreshBalance(ctx context.Context) (float64, error) {
	sess, ok := w.store.Snapshot()
	if !ok {
		return 0, svcerr.State("wallet not connected")
	}
	b, err := w.balances.Fetch(ctx, sess.Address)
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// GetRate returns a fresh or cached exchange rate.
func (w *Wallet) GetRate(ctx context.Context, symbol, currency string) (ratedom.Snapshot, error) {
	return w.rates.GetRate(ctx, symbol, currency)
}

// Send submits one transfer from the connected session.
func (w *Wallet) Send(ctx context.Context, recipient string, amountEth float64, metadata paydom.Metadata) (paydom.Transaction, error) {
	return w.payments.Send(ctx, recipient, amountEth, metadata)
}

// ClearSuccessMessage dismisses the send success notification.
func (w *Wallet) ClearSuccessMessage() {
	w.payments.ClearSuccessMessage()
}

// State assembles the current snapshot.
func (w *Wallet) State() Snapshot {
	w.mu.Lock()
	symbol, currency := w.displaySymbol, w.displayCurrency
	w.mu.Unlock()

	snap := Snapshot{Currency: currency}

	sess, connected := w.store.Snapshot()
	snap.IsConnected = connected
	if connected {
		snap.Address = sess.Address
		snap.ProviderLabel = sess.ProviderLabel
		if b, ok := w.balances.Current(sess.Address); ok {
			snap.Balance = b.Amount
			snap.BalanceKnown = b.Known
			snap.BalanceStale = b.Stale
		}
		if converted, ok := w.balances.Converted(sess.Address, symbol, currency); ok {
			snap.ConvertedBalance = converted
			snap.ConvertedKnown = true
		}
		snap.IsFetchingBalance = w.balances.Fetching(sess.Address)
	}

	snap.IsSending = w.payments.Sending()
	snap.ReconnectError = errText(w.reconnector.LastError())
	snap.SendError = errText(w.payments.LastError())
	snap.SuccessMessage = w.payments.SuccessMessage()
	return snap
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	if svc := svcerr.GetServiceError(err); svc != nil {
		return svc.Message
	}
	return err.Error()
}
