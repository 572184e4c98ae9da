// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/paystream-labs/walletcore/internal/domain/wallet"
	"github.com/paystream-labs/walletcore/internal/storage"
)

// Store holds the reconnect marker in process memory.
type Store struct {
	mu     sync.RWMutex
	marker wallet.Marker
	set    bool
}

var _ storage.SessionMarkerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{}
}

func (s *Store) SaveMarker(_ context.Context, marker wallet.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = marker
	s.set = true
	return nil
}

func (s *Store) GetMarker(_ context.Context) (wallet.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return wallet.Marker{}, storage.ErrNoMarker
	}
	return s.marker, nil
}

func (s *Store) DeleteMarker(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = wallet.Marker{}
	s.set = false
	return nil
}
