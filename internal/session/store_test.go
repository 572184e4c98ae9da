package session

import (
	"testing"

	"github.com/paystream-labs/walletcore/internal/domain/wallet"
)

func TestStore_InitialState(t *testing.T) {
	store := NewStore(nil)
	if store.State() != wallet.StateDisconnected {
		t.Fatalf("unexpected initial state: %s", store.State())
	}
	if _, ok := store.Snapshot(); ok {
		t.Fatalf("fresh store should have no session")
	}
	if _, ok := store.KeyRef(); ok {
		t.Fatalf("fresh store should have no key reference")
	}
}

func TestStore_TransitionAndPublish(t *testing.T) {
	store := NewStore(nil)

	if !store.transition(wallet.StateConnecting) {
		t.Fatalf("disconnected -> connecting should be legal")
	}
	if !store.publish(wallet.Session{Address: "0xabc"}, "ref-1") {
		t.Fatalf("publish from connecting should succeed")
	}
	if store.State() != wallet.StateConnected {
		t.Fatalf("unexpected state: %s", store.State())
	}

	session, ok := store.Snapshot()
	if !ok || session.Address != "0xabc" {
		t.Fatalf("unexpected session: %#v ok=%v", session, ok)
	}
	keyRef, ok := store.KeyRef()
	if !ok || keyRef != "ref-1" {
		t.Fatalf("unexpected key ref: %q ok=%v", keyRef, ok)
	}
}

func TestStore_IllegalTransitionIgnored(t *testing.T) {
	store := NewStore(nil)
	if store.transition(wallet.StateConnected) {
		t.Fatalf("disconnected -> connected must be rejected")
	}
	if store.State() != wallet.StateDisconnected {
		t.Fatalf("state changed on illegal transition: %s", store.State())
	}
}

func TestStore_PublishOutsideConnectFlowIgnored(t *testing.T) {
	store := NewStore(nil)
	if store.publish(wallet.Session{Address: "0xabc"}, "ref") {
		t.Fatalf("publish from disconnected must be rejected")
	}
	if _, ok := store.Snapshot(); ok {
		t.Fatalf("session must not be installed")
	}
}

func TestStore_DisconnectClearsSession(t *testing.T) {
	store := NewStore(nil)
	store.transition(wallet.StateConnecting)
	store.publish(wallet.Session{Address: "0xabc"}, "ref-1")

	store.transition(wallet.StateDisconnecting)
	store.transition(wallet.StateDisconnected)

	if _, ok := store.Snapshot(); ok {
		t.Fatalf("session should be cleared on disconnect")
	}
	if _, ok := store.KeyRef(); ok {
		t.Fatalf("key reference should be cleared on disconnect")
	}
}

func TestStore_SubscribeNotifiesAndUnsubscribeStops(t *testing.T) {
	store := NewStore(nil)

	var calls int
	unsubscribe := store.Subscribe(func() { calls++ })

	store.transition(wallet.StateConnecting)
	store.publish(wallet.Session{Address: "0xabc"}, "ref")
	if calls != 2 {
		t.Fatalf("expected 2 notifications, got %d", calls)
	}

	unsubscribe()
	store.transition(wallet.StateDisconnecting)
	store.transition(wallet.StateDisconnected)
	if calls != 2 {
		t.Fatalf("listener invoked after unsubscribe: %d calls", calls)
	}
}

func TestStore_UnsubscribeIdempotent(t *testing.T) {
	store := NewStore(nil)
	unsubscribe := store.Subscribe(func() {})
	unsubscribe()
	unsubscribe()
}
