package wallet

import "time"

// State describes where the session lifecycle currently stands. The connecting
// and reconnecting states are distinct so the dashboard can render a fresh
// connect differently from a silent restore after reload.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
	StateDisconnecting State = "disconnecting"
)

// Session is the live association between the application and one connected
// wallet address. At most one session exists per running application.
type Session struct {
	Address       string    `json:"address"`
	ProviderLabel string    `json:"provider_label"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// Marker records that a session existed so it can be silently restored after a
// restart. KeyRef is an opaque handle issued by the wallet provider; raw key
// material is never stored here.
type Marker struct {
	Address       string    `json:"address"`
	ProviderLabel string    `json:"provider_label"`
	KeyRef        string    `json:"key_ref"`
	SavedAt       time.Time `json:"saved_at"`
}
