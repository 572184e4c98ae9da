package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	svcerr "github.com/paystream-labs/walletcore/internal/errors"
)

var weiPerEth = new(big.Float).SetFloat64(1e18)

// Client provides Ethereum JSON-RPC client functionality for balance reads.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
	// RequestsPerSecond caps the RPC call rate. Zero disables limiting.
	RequestsPerSecond int
}

var _ BalanceReader = (*Client)(nil)

// NewClient creates a new Ethereum RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}, nil
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is the error object of a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes an RPC call to the Ethereum node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// BalanceOf returns the current balance of the address in ETH.
func (c *Client) BalanceOf(ctx context.Context, address string) (float64, error) {
	result, err := c.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			return 0, svcerr.Chain("balance query rejected", rpcErr)
		}
		return 0, svcerr.Network("rpc endpoint unreachable", err)
	}

	var hexWei string
	if err := json.Unmarshal(result, &hexWei); err != nil {
		return 0, svcerr.Network("malformed balance response", err)
	}

	eth, err := hexWeiToEth(hexWei)
	if err != nil {
		return 0, svcerr.Network("malformed balance response", err)
	}
	return eth, nil
}

func hexWeiToEth(hexWei string) (float64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexWei), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty balance value")
	}
	wei, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", hexWei)
	}
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEth).Float64()
	return eth, nil
}
