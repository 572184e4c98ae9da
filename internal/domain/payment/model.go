package payment

import "time"

// Status tracks one outgoing transfer from draft to its terminal state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusValidating Status = "validating"
	StatusSubmitting Status = "submitting"
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Metadata carries the bookkeeping fields attached to a payroll transfer. The
// chain never sees these; they are reported to the backend for invoicing and
// payslip history.
type Metadata struct {
	Company     string `json:"company,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

// Transaction is one outgoing transfer attempt. It is owned by the caller
// until it reaches a terminal state and is never persisted by this core.
type Transaction struct {
	Recipient string    `json:"recipient"`
	AmountEth float64   `json:"amount_eth"`
	Metadata  Metadata  `json:"metadata"`
	Status    Status    `json:"status"`
	Hash      string    `json:"hash,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
