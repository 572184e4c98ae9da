package wallet

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/paystream-labs/walletcore/internal/chain"
	paydom "github.com/paystream-labs/walletcore/internal/domain/payment"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/services/balance"
	"github.com/paystream-labs/walletcore/internal/services/payment"
	"github.com/paystream-labs/walletcore/internal/services/rates"
	"github.com/paystream-labs/walletcore/internal/session"
	"github.com/paystream-labs/walletcore/internal/storage/memory"
)

const (
	testCredential = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testRecipient  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type fakeReader struct {
	amount float64
}

func (f *fakeReader) BalanceOf(ctx context.Context, address string) (float64, error) {
	return f.amount, nil
}

type WalletSuite struct {
	suite.Suite
	wallet *Wallet
	reader *fakeReader
}

func (s *WalletSuite) SetupTest() {
	store := session.NewStore(nil)
	markers := memory.New()
	provider := chain.NewDevProvider(nil)
	connector := session.NewConnector(store, provider, markers, nil)
	reconnector := session.NewReconnector(store, provider, markers, nil)

	rateSvc := rates.New(rates.FetcherFunc(func(ctx context.Context, symbols []string, currency string) (map[string]float64, error) {
		return map[string]float64{"ETH": 2000}, nil
	}), time.Minute, nil)

	s.reader = &fakeReader{amount: 1.5}
	balanceSvc := balance.New(s.reader, rateSvc, nil)

	paymentSvc := payment.New(store, chain.NewDevSigner(), nil)
	paymentSvc.WithSuccessTTL(time.Hour)

	s.wallet = New(Deps{
		Store:       store,
		Connector:   connector,
		Reconnector: reconnector,
		Balances:    balanceSvc,
		Rates:       rateSvc,
		Payments:    paymentSvc,
	})
}

func (s *WalletSuite) TestDisconnectedSnapshot() {
	snap := s.wallet.State()
	s.False(snap.IsConnected)
	s.Empty(snap.Address)
	s.False(snap.BalanceKnown)
	s.Equal("USD", snap.Currency)
}

func (s *WalletSuite) TestConnectAndRender() {
	sess, err := s.wallet.Connect(context.Background(), testCredential, "dev")
	s.Require().NoError(err)
	s.Equal(testAddress, sess.Address)

	_, err = s.wallet.RefreshBalance(context.Background())
	s.Require().NoError(err)
	_, err = s.wallet.GetRate(context.Background(), "ETH", "USD")
	s.Require().NoError(err)

	snap := s.wallet.State()
	s.True(snap.IsConnected)
	s.Equal(testAddress, snap.Address)
	s.Equal("dev", snap.ProviderLabel)
	s.True(snap.BalanceKnown)
	s.InDelta(1.5, snap.Balance, 1e-9)
	s.True(snap.ConvertedKnown)
	s.InDelta(3000, snap.ConvertedBalance, 1e-6)
}

func (s *WalletSuite) TestRefreshBalanceRequiresSession() {
	_, err := s.wallet.RefreshBalance(context.Background())
	s.True(svcerr.IsCode(err, svcerr.CodeState))
}

func (s *WalletSuite) TestSendAndDismissSuccess() {
	_, err := s.wallet.Connect(context.Background(), testCredential, "dev")
	s.Require().NoError(err)

	tx, err := s.wallet.Send(context.Background(), testRecipient, 0.25, paydom.Metadata{Category: "salary"})
	s.Require().NoError(err)
	s.Equal(paydom.StatusConfirmed, tx.Status)
	s.NotEmpty(tx.Hash)

	snap := s.wallet.State()
	s.NotEmpty(snap.SuccessMessage)
	s.Empty(snap.SendError)

	s.wallet.ClearSuccessMessage()
	s.Empty(s.wallet.State().SuccessMessage)
}

func (s *WalletSuite) TestSendErrorSurfacesInSnapshot() {
	_, err := s.wallet.Connect(context.Background(), testCredential, "dev")
	s.Require().NoError(err)

	_, err = s.wallet.Send(context.Background(), "not-an-address", 1, paydom.Metadata{})
	s.Require().Error(err)

	snap := s.wallet.State()
	s.Contains(snap.SendError, "recipient")
}

func (s *WalletSuite) TestReconnectAcrossRestart() {
	_, err := s.wallet.Connect(context.Background(), testCredential, "dev")
	s.Require().NoError(err)

	// No prior session on a fresh store is a quiet outcome, not an error
	// surfaced in the snapshot.
	s.Require().NoError(s.wallet.Disconnect(context.Background()))
	_, err = s.wallet.AttemptReconnect(context.Background())
	s.Require().ErrorIs(err, session.ErrNoPriorSession)
	s.Empty(s.wallet.State().ReconnectError)
}

func (s *WalletSuite) TestSubscribeAggregatesChanges() {
	var changes int32
	unsubscribe := s.wallet.Subscribe(func() { atomic.AddInt32(&changes, 1) })

	_, err := s.wallet.Connect(context.Background(), testCredential, "dev")
	s.Require().NoError(err)
	s.Greater(atomic.LoadInt32(&changes), int32(0))

	before := atomic.LoadInt32(&changes)
	_, err = s.wallet.RefreshBalance(context.Background())
	s.Require().NoError(err)
	s.Greater(atomic.LoadInt32(&changes), before)

	unsubscribe()
	final := atomic.LoadInt32(&changes)
	s.Require().NoError(s.wallet.Disconnect(context.Background()))
	s.Equal(final, atomic.LoadInt32(&changes))
}

func TestWalletSuite(t *testing.T) {
	suite.Run(t, new(WalletSuite))
}

func TestUnsubscribeStopsDeliveryDuringBroadcasts(t *testing.T) {
	store := session.NewStore(nil)
	markers := memory.New()
	provider := chain.NewDevProvider(nil)
	rateSvc := rates.New(rates.FetcherFunc(func(ctx context.Context, symbols []string, currency string) (map[string]float64, error) {
		return map[string]float64{"ETH": 2000}, nil
	}), time.Minute, nil)

	w := New(Deps{
		Store:       store,
		Connector:   session.NewConnector(store, provider, markers, nil),
		Reconnector: session.NewReconnector(store, provider, markers, nil),
		Balances:    balance.New(&fakeReader{amount: 1}, rateSvc, nil),
		Rates:       rateSvc,
		Payments:    payment.New(store, chain.NewDevSigner(), nil),
	})

	var removed int32
	var late int32
	unsubscribe := w.Subscribe(func() {
		if atomic.LoadInt32(&removed) == 1 {
			atomic.AddInt32(&late, 1)
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, err := w.Connect(context.Background(), testCredential, "dev"); err != nil {
				return
			}
			if err := w.Disconnect(context.Background()); err != nil {
				return
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	unsubscribe()
	atomic.StoreInt32(&removed, 1)
	<-done

	if atomic.LoadInt32(&late) != 0 {
		t.Fatalf("listener invoked %d times after unsubscribe returned", late)
	}
}

func TestDisplayRateOverride(t *testing.T) {
	store := session.NewStore(nil)
	markers := memory.New()
	provider := chain.NewDevProvider(nil)

	rateSvc := rates.New(rates.FetcherFunc(func(ctx context.Context, symbols []string, currency string) (map[string]float64, error) {
		return map[string]float64{"ETH": 113000}, nil
	}), time.Minute, nil)
	balanceSvc := balance.New(&fakeReader{amount: 2}, rateSvc, nil)

	w := New(Deps{
		Store:       store,
		Connector:   session.NewConnector(store, provider, markers, nil),
		Reconnector: session.NewReconnector(store, provider, markers, nil),
		Balances:    balanceSvc,
		Rates:       rateSvc,
		Payments:    payment.New(store, chain.NewDevSigner(), nil),
	})
	w.WithDisplayRate("ETH", "PHP")

	_, err := w.Connect(context.Background(), testCredential, "dev")
	require.NoError(t, err)
	_, err = w.RefreshBalance(context.Background())
	require.NoError(t, err)
	_, err = w.GetRate(context.Background(), "ETH", "PHP")
	require.NoError(t, err)

	snap := w.State()
	require.Equal(t, "PHP", snap.Currency)
	require.True(t, snap.ConvertedKnown)
	require.InDelta(t, 226000, snap.ConvertedBalance, 1e-3)
}
