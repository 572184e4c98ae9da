package storage

import (
	"context"
	"errors"

	"github.com/paystream-labs/walletcore/internal/domain/wallet"
)

// ErrNoMarker is returned when no reconnect marker has been saved.
var ErrNoMarker = errors.New("storage: no session marker")

// SessionMarkerStore persists the reconnect marker for the current wallet
// session. Exactly one marker exists at a time; saving replaces any previous
// one.
type SessionMarkerStore interface {
	SaveMarker(ctx context.Context, marker wallet.Marker) error
	GetMarker(ctx context.Context) (wallet.Marker, error)
	DeleteMarker(ctx context.Context) error
}
