package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/paystream-labs/walletcore/internal/domain/payment"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
)

// HTTPReporter posts confirmed transfer metadata to the bookkeeping backend.
type HTTPReporter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPReporter constructs a reporter for the given backend.
func NewHTTPReporter(baseURL, apiKey string, timeout time.Duration) *HTTPReporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type reportPayload struct {
	Hash        string  `json:"hash"`
	Recipient   string  `json:"recipient"`
	AmountEth   float64 `json:"amount_eth"`
	Company     string  `json:"company,omitempty"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	ConfirmedAt string  `json:"confirmed_at"`
}

// Report submits one confirmed transaction record.
func (r *HTTPReporter) Report(ctx context.Context, tx domain.Transaction) error {
	body, err := json.Marshal(reportPayload{
		Hash:        tx.Hash,
		Recipient:   tx.Recipient,
		AmountEth:   tx.AmountEth,
		Company:     tx.Metadata.Company,
		Category:    tx.Metadata.Category,
		Description: tx.Metadata.Description,
		ConfirmedAt: tx.UpdatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return svcerr.Internal("encode bookkeeping record", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/transactions/", bytes.NewReader(body))
	if err != nil {
		return svcerr.Internal("build bookkeeping request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return svcerr.Network("bookkeeping backend unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return svcerr.Network(fmt.Sprintf("bookkeeping backend returned status %d", resp.StatusCode), nil)
	}
	return nil
}
