// Package app wires the wallet services together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/paystream-labs/walletcore/internal/chain"
	"github.com/paystream-labs/walletcore/internal/config"
	ratedom "github.com/paystream-labs/walletcore/internal/domain/rates"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/services/balance"
	"github.com/paystream-labs/walletcore/internal/services/payment"
	"github.com/paystream-labs/walletcore/internal/services/rates"
	"github.com/paystream-labs/walletcore/internal/session"
	"github.com/paystream-labs/walletcore/internal/storage"
	"github.com/paystream-labs/walletcore/internal/storage/memory"
	"github.com/paystream-labs/walletcore/internal/system"
	"github.com/paystream-labs/walletcore/internal/wallet"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation, which does not survive a restart.
type Stores struct {
	Markers storage.SessionMarkerStore
}

// Application ties the wallet services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Wallet   *wallet.Wallet
	Sessions *session.Store
	Rates    *rates.Service
	Balances *balance.Service
	Payments *payment.Service
}

// New builds a fully initialised application from the configuration.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Markers == nil {
		stores.Markers = memory.New()
	}

	manager := system.NewManager()
	httpClient := &http.Client{Timeout: 10 * time.Second}

	rpc, err := chain.NewClient(chain.Config{
		RPCURL:            cfg.Chain.RPCURL,
		Timeout:           cfg.Chain.Timeout,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("configure chain client: %w", err)
	}

	var provider chain.Provider
	var signer chain.Signer
	if cfg.Provider.Endpoint != "" {
		httpProvider, err := chain.NewHTTPProvider(httpClient, cfg.Provider.Endpoint, cfg.Provider.APIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure wallet provider: %w", err)
		}
		httpSigner, err := chain.NewHTTPSigner(httpClient, cfg.Provider.Endpoint, cfg.Provider.APIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure transaction signer: %w", err)
		}
		provider, signer = httpProvider, httpSigner
	} else {
		log.Warn("provider endpoint not set; using in-process dev provider")
		provider = chain.NewDevProvider(log)
		signer = chain.NewDevSigner()
	}

	sessions := session.NewStore(log)
	connector := session.NewConnector(sessions, provider, stores.Markers, log)
	connector.WithTimeout(cfg.Provider.ConnectTimeout)
	reconnector := session.NewReconnector(sessions, provider, stores.Markers, log)
	reconnector.WithTimeout(cfg.Provider.ConnectTimeout)

	var fetcher rates.Fetcher
	if cfg.Rates.Endpoint != "" {
		fetcher, err = rates.NewHTTPFetcher(httpClient, cfg.Rates.Endpoint, cfg.Rates.APIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure rate fetcher: %w", err)
		}
	} else {
		log.Warn("rates endpoint not set; conversions disabled")
		fetcher = rates.FetcherFunc(func(context.Context, []string, string) (map[string]float64, error) {
			return nil, svcerr.Network("rate service not configured", nil)
		})
	}
	rateService := rates.New(fetcher, cfg.Rates.TTL, log)

	balanceService := balance.New(rpc, rateService, log)
	balanceService.WithTimeout(cfg.Chain.Timeout)

	paymentService := payment.New(sessions, signer, log)
	paymentService.WithTimeout(cfg.Payments.SendTimeout)
	paymentService.WithSuccessTTL(cfg.Payments.SuccessMessageTTL)
	if cfg.Payments.BookkeepingURL != "" {
		paymentService.WithReporter(payment.NewHTTPReporter(
			cfg.Payments.BookkeepingURL,
			cfg.Payments.BookkeepingAPIKey,
			cfg.Payments.BookkeepingTimeout,
		))
	}

	facade := wallet.New(wallet.Deps{
		Store:       sessions,
		Connector:   connector,
		Reconnector: reconnector,
		Balances:    balanceService,
		Rates:       rateService,
		Payments:    paymentService,
		Log:         log,
	})
	facade.WithDisplayRate(cfg.Rates.DisplaySymbol, cfg.Rates.DisplayCurrency)

	if cfg.Rates.Endpoint != "" && len(cfg.Rates.Pairs) > 0 {
		pairs := make([]ratedom.Key, 0, len(cfg.Rates.Pairs))
		for _, p := range cfg.Rates.Pairs {
			pairs = append(pairs, ratedom.Key{Symbol: p.Symbol, Currency: p.Currency})
		}
		refresher := rates.NewRefresher(rateService, pairs, cfg.Rates.RefreshInterval, log)
		if err := manager.Register(refresher); err != nil {
			return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Wallet:   facade,
		Sessions: sessions,
		Rates:    rateService,
		Balances: balanceService,
		Payments: paymentService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services and attempts to restore the previous
// wallet session.
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	if _, err := a.Wallet.AttemptReconnect(ctx); err != nil && !errors.Is(err, session.ErrNoPriorSession) {
		a.log.WithError(err).Warn("session restore failed; continuing disconnected")
	}
	return nil
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
