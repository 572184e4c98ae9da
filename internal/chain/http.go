package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// HTTPProvider talks to an external custody service that holds the actual
// keys. The credential is exchanged for a grant; later resumes present only
// the opaque key reference.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	log     *logger.Logger
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider backed by the custody service at baseURL.
func NewHTTPProvider(client *http.Client, baseURL, apiKey string, log *logger.Logger) (*HTTPProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider base URL required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("chain-provider")
	}
	return &HTTPProvider{client: client, baseURL: baseURL, apiKey: apiKey, log: log}, nil
}

func (p *HTTPProvider) Authorize(ctx context.Context, credential string) (Grant, error) {
	body, err := p.post(ctx, "/sessions", map[string]string{"credential": credential})
	if err != nil {
		return Grant{}, err
	}
	return grantFromBody(body)
}

func (p *HTTPProvider) Resume(ctx context.Context, keyRef string) (Grant, error) {
	body, err := p.post(ctx, "/sessions/resume", map[string]string{"key_ref": keyRef})
	if err != nil {
		return Grant{}, err
	}
	return grantFromBody(body)
}

func (p *HTTPProvider) Revoke(ctx context.Context, keyRef string) error {
	_, err := p.post(ctx, "/sessions/revoke", map[string]string{"key_ref": keyRef})
	return err
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, status, err := postJSON(ctx, p.client, p.baseURL+path, p.apiKey, payload)
	if err != nil {
		return nil, svcerr.Network("wallet provider unreachable", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, svcerr.Credential("provider rejected credential", nil).
			WithDetails("status", status)
	}
	if status >= 400 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = fmt.Sprintf("provider returned status %d", status)
		}
		return nil, svcerr.Network(msg, nil).WithDetails("status", status)
	}
	return body, nil
}

func grantFromBody(body []byte) (Grant, error) {
	address := gjson.GetBytes(body, "address").String()
	keyRef := gjson.GetBytes(body, "key_ref").String()
	if address == "" || keyRef == "" {
		return Grant{}, svcerr.Network("malformed provider response", nil)
	}
	return Grant{Address: address, KeyRef: keyRef}, nil
}

// HTTPSigner submits transfers to the custody service for signing and
// broadcast. Chain-level rejections (insufficient funds, reverts) are
// classified separately from transport failures so the dashboard can tell the
// user which one happened.
type HTTPSigner struct {
	client  *http.Client
	baseURL string
	apiKey  string
	log     *logger.Logger
}

var _ Signer = (*HTTPSigner)(nil)

// NewHTTPSigner creates a signer backed by the custody service at baseURL.
func NewHTTPSigner(client *http.Client, baseURL, apiKey string, log *logger.Logger) (*HTTPSigner, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("signer base URL required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("chain-signer")
	}
	return &HTTPSigner{client: client, baseURL: baseURL, apiKey: apiKey, log: log}, nil
}

func (s *HTTPSigner) SignAndSend(ctx context.Context, req SendRequest) (string, error) {
	payload := map[string]interface{}{
		"key_ref":    req.KeyRef,
		"from":       req.From,
		"recipient":  req.Recipient,
		"amount_eth": req.AmountEth,
	}
	body, status, err := postJSON(ctx, s.client, s.baseURL+"/transactions", s.apiKey, payload)
	if err != nil {
		return "", svcerr.Network("signer unreachable", err)
	}
	if status >= 400 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = fmt.Sprintf("signer returned status %d", status)
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return "", svcerr.Credential(msg, nil)
		}
		if isChainRejection(msg) {
			return "", svcerr.Chain(msg, nil)
		}
		return "", svcerr.Network(msg, nil).WithDetails("status", status)
	}

	hash := gjson.GetBytes(body, "hash").String()
	if hash == "" {
		return "", svcerr.Network("malformed signer response", nil)
	}
	return hash, nil
}

func isChainRejection(msg string) bool {
	lowered := strings.ToLower(msg)
	return strings.Contains(lowered, "insufficient funds") ||
		strings.Contains(lowered, "revert") ||
		strings.Contains(lowered, "nonce") ||
		strings.Contains(lowered, "gas")
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload interface{}) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
