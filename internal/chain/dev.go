package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// DevProvider derives addresses locally from the presented credential. It
// exists for local development and tests, where no custody service is
// running. Grants live only in process memory.
type DevProvider struct {
	mu     sync.Mutex
	grants map[string]Grant
	log    *logger.Logger
}

var _ Provider = (*DevProvider)(nil)

// NewDevProvider creates a development provider.
func NewDevProvider(log *logger.Logger) *DevProvider {
	if log == nil {
		log = logger.NewDefault("chain-provider-dev")
	}
	return &DevProvider{
		grants: make(map[string]Grant),
		log:    log,
	}
}

func (p *DevProvider) Authorize(_ context.Context, credential string) (Grant, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(credential, "0x"))
	if err != nil {
		return Grant{}, svcerr.Credential("provider rejected credential", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	ref := make([]byte, 16)
	if _, err := rand.Read(ref); err != nil {
		return Grant{}, fmt.Errorf("generate key reference: %w", err)
	}
	grant := Grant{Address: address, KeyRef: hex.EncodeToString(ref)}

	p.mu.Lock()
	p.grants[grant.KeyRef] = grant
	p.mu.Unlock()

	p.log.WithField("address", address).Debug("dev grant issued")
	return grant, nil
}

func (p *DevProvider) Resume(_ context.Context, keyRef string) (Grant, error) {
	p.mu.Lock()
	grant, ok := p.grants[keyRef]
	p.mu.Unlock()
	if !ok {
		return Grant{}, svcerr.Credential("unknown key reference", nil)
	}
	return grant, nil
}

func (p *DevProvider) Revoke(_ context.Context, keyRef string) error {
	p.mu.Lock()
	delete(p.grants, keyRef)
	p.mu.Unlock()
	return nil
}

// DevSigner fabricates deterministic-looking transaction hashes without
// touching a chain. Development and tests only.
type DevSigner struct {
	mu    sync.Mutex
	nonce uint64
}

var _ Signer = (*DevSigner)(nil)

// NewDevSigner creates a development signer.
func NewDevSigner() *DevSigner {
	return &DevSigner{}
}

func (s *DevSigner) SignAndSend(_ context.Context, req SendRequest) (string, error) {
	s.mu.Lock()
	s.nonce++
	nonce := s.nonce
	s.mu.Unlock()

	seed := fmt.Sprintf("%s|%s|%f|%d", req.From, req.Recipient, req.AmountEth, nonce)
	return crypto.Keccak256Hash([]byte(seed)).Hex(), nil
}
