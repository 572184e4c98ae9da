// Package payment validates and submits outgoing transfers. One submission
// may be in flight per session; a second send is rejected outright rather
// than queued, because a financial transfer is not safe to retry
// automatically.
package payment

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paystream-labs/walletcore/internal/chain"
	domain "github.com/paystream-labs/walletcore/internal/domain/payment"
	"github.com/paystream-labs/walletcore/internal/domain/wallet"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/metrics"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// Epsilon is the smallest transfer amount considered non-zero.
const Epsilon = 1e-9

const (
	defaultSendTimeout = 30 * time.Second
	defaultSuccessTTL  = 3 * time.Second
)

// SessionSource exposes the connected session to the submitter. Satisfied by
// the session store.
type SessionSource interface {
	State() wallet.State
	Snapshot() (wallet.Session, bool)
	KeyRef() (string, bool)
}

// Reporter forwards confirmed transfer metadata to the bookkeeping backend.
type Reporter interface {
	Report(ctx context.Context, tx domain.Transaction) error
}

// Service is the transaction submitter.
type Service struct {
	sessions   SessionSource
	signer     chain.Signer
	reporter   Reporter
	timeout    time.Duration
	successTTL time.Duration
	now        func() time.Time
	log        *logger.Logger

	mu           sync.Mutex
	sending      bool
	last         domain.Transaction
	hasLast      bool
	lastErr      error
	successMsg   string
	successTimer *time.Timer
	onChange     []func()
}

// New constructs a transaction submitter.
func New(sessions SessionSource, signer chain.Signer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payment")
	}
	return &Service{
		sessions:   sessions,
		signer:     signer,
		timeout:    defaultSendTimeout,
		successTTL: defaultSuccessTTL,
		now:        time.Now,
		log:        log,
	}
}

// WithReporter attaches the bookkeeping reporter. Reporting is best effort
// and never fails a confirmed transfer.
func (s *Service) WithReporter(r Reporter) {
	s.mu.Lock()
	s.reporter = r
	s.mu.Unlock()
}

// WithTimeout overrides the per-send deadline.
func (s *Service) WithTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// WithSuccessTTL overrides how long the success message stays before
// auto-expiring.
func (s *Service) WithSuccessTTL(d time.Duration) {
	if d > 0 {
		s.successTTL = d
	}
}

// OnChange registers a callback invoked after any submission state change.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Sending reports whether a submission is currently in flight.
func (s *Service) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Last returns the most recent submission, if any.
func (s *Service) Last() (domain.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// LastError returns the retained send error. Cleared by the next successful
// send.
func (s *Service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SuccessMessage returns the current success notification, if any.
func (s *Service) SuccessMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successMsg
}

// ClearSuccessMessage dismisses the success notification. Safe to call when
// nothing is displayed.
func (s *Service) ClearSuccessMessage() {
	s.mu.Lock()
	cleared := s.successMsg != ""
	s.successMsg = ""
	if s.successTimer != nil {
		s.successTimer.Stop()
		s.successTimer = nil
	}
	callbacks := append([]func(){}, s.onChange...)
	s.mu.Unlock()

	if cleared {
		for _, fn := range callbacks {
			fn()
		}
	}
}

// Send validates and submits one transfer. Validation failures and state
// conflicts return before any signer call; the submission slot is released
// only when the attempt reaches a terminal state.
func (s *Service) Send(ctx context.Context, recipient string, amountEth float64, metadata domain.Metadata) (domain.Transaction, error) {
	started := s.now()
	tx := domain.Transaction{
		Recipient: recipient,
		AmountEth: amountEth,
		Metadata:  metadata,
		Status:    domain.StatusDraft,
		CreatedAt: started.UTC(),
	}

	if s.sessions.State() != wallet.StateConnected {
		err := svcerr.State("wallet not connected")
		s.recordFailure(tx, err)
		metrics.RecordSend("state_rejected", 0)
		return tx, err
	}

	tx.Status = domain.StatusValidating
	if !common.IsHexAddress(recipient) {
		err := svcerr.Validation("malformed recipient address")
		s.recordFailure(tx, err)
		metrics.RecordSend("validation_rejected", 0)
		return tx, err
	}
	if math.IsNaN(amountEth) || math.IsInf(amountEth, 0) || amountEth <= Epsilon {
		err := svcerr.Validation("amount must be a positive number")
		s.recordFailure(tx, err)
		metrics.RecordSend("validation_rejected", 0)
		return tx, err
	}

	session, _ := s.sessions.Snapshot()
	keyRef, _ := s.sessions.KeyRef()

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		// The prior submission keeps its slot; this attempt is simply
		// rejected and not retained as the send error.
		metrics.RecordSend("state_rejected", 0)
		return tx, svcerr.State("submission in progress")
	}
	s.sending = true
	tx.Status = domain.StatusSubmitting
	tx.UpdatedAt = s.now().UTC()
	s.last = tx
	s.hasLast = true
	s.mu.Unlock()
	s.notify()

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hash, err := s.signer.SignAndSend(sendCtx, chain.SendRequest{
		KeyRef:    keyRef,
		From:      session.Address,
		Recipient: recipient,
		AmountEth: amountEth,
	})
	if err != nil {
		if sendCtx.Err() == context.DeadlineExceeded {
			err = svcerr.Timeout("send", err)
		}
		tx.Status = domain.StatusFailed
		tx.Error = err.Error()
		tx.UpdatedAt = s.now().UTC()

		s.mu.Lock()
		s.sending = false
		s.last = tx
		s.lastErr = err
		s.mu.Unlock()
		s.notify()

		metrics.RecordSend("failed", s.now().Sub(started))
		s.log.WithError(err).
			WithField("recipient", recipient).
			Warn("transaction submission failed")
		return tx, err
	}

	tx.Hash = hash
	tx.Status = domain.StatusPending
	tx.UpdatedAt = s.now().UTC()
	s.mu.Lock()
	s.last = tx
	s.mu.Unlock()
	s.notify()

	tx.Status = domain.StatusConfirmed
	tx.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.sending = false
	s.last = tx
	s.lastErr = nil
	s.successMsg = fmt.Sprintf("Sent %g ETH to %s", amountEth, recipient)
	if s.successTimer != nil {
		s.successTimer.Stop()
	}
	s.successTimer = time.AfterFunc(s.successTTL, s.expireSuccess)
	reporter := s.reporter
	s.mu.Unlock()
	s.notify()

	metrics.RecordSend("confirmed", s.now().Sub(started))
	s.log.WithField("hash", hash).
		WithField("recipient", recipient).
		WithField("category", metadata.Category).
		Info("transaction confirmed")

	if reporter != nil {
		if err := reporter.Report(ctx, tx); err != nil {
			s.log.WithError(err).WithField("hash", hash).Warn("bookkeeping report failed")
		}
	}
	return tx, nil
}

// recordFailure retains the terminal transaction and, for retained error
// classes, the send error slot.
func (s *Service) recordFailure(tx domain.Transaction, err error) {
	tx.Status = domain.StatusFailed
	tx.Error = err.Error()
	tx.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.last = tx
	s.hasLast = true
	s.lastErr = err
	s.mu.Unlock()
	s.notify()
}

func (s *Service) expireSuccess() {
	s.mu.Lock()
	expired := s.successMsg != ""
	s.successMsg = ""
	s.successTimer = nil
	s.mu.Unlock()

	if expired {
		s.notify()
	}
}

func (s *Service) notify() {
	s.mu.Lock()
	callbacks := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}
