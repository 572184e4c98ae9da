// Package chain provides Ethereum-side collaborators for the wallet core: the
// custody provider that turns credentials into session grants, the signer that
// broadcasts transfers, and a JSON-RPC client for balance reads. Key custody,
// signing and broadcast all happen behind these interfaces; the core never
// holds key material.
package chain

import "context"

// Grant is the provider's answer to a successful authorization: the wallet
// address the credential controls and an opaque key reference that can resume
// the session later without re-presenting the credential.
type Grant struct {
	Address string
	KeyRef  string
}

// Provider is the external wallet/custody capability.
type Provider interface {
	// Authorize validates the credential with the provider and opens a grant.
	Authorize(ctx context.Context, credential string) (Grant, error)
	// Resume re-opens a grant from a previously issued key reference.
	Resume(ctx context.Context, keyRef string) (Grant, error)
	// Revoke invalidates a key reference. Best effort on disconnect.
	Revoke(ctx context.Context, keyRef string) error
}

// SendRequest describes one transfer handed to the signer.
type SendRequest struct {
	KeyRef    string
	From      string
	Recipient string
	AmountEth float64
}

// Signer performs the actual signing and broadcast of a transfer and returns
// the transaction hash.
type Signer interface {
	SignAndSend(ctx context.Context, req SendRequest) (string, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, req SendRequest) (string, error)

func (f SignerFunc) SignAndSend(ctx context.Context, req SendRequest) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx, req)
}

// BalanceReader reads the current on-chain balance for an address, in ETH.
type BalanceReader interface {
	BalanceOf(ctx context.Context, address string) (float64, error)
}
