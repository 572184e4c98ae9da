package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paystream-labs/walletcore/internal/chain"
	"github.com/paystream-labs/walletcore/internal/metrics"
	"github.com/paystream-labs/walletcore/internal/middleware"
	"github.com/paystream-labs/walletcore/internal/services/balance"
	"github.com/paystream-labs/walletcore/internal/services/payment"
	"github.com/paystream-labs/walletcore/internal/services/rates"
	"github.com/paystream-labs/walletcore/internal/session"
	"github.com/paystream-labs/walletcore/internal/storage/memory"
	"github.com/paystream-labs/walletcore/internal/wallet"
)

const (
	testCredential = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testRecipient  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type fakeReader struct{ amount float64 }

func (f *fakeReader) BalanceOf(ctx context.Context, address string) (float64, error) {
	return f.amount, nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store := session.NewStore(nil)
	markers := memory.New()
	provider := chain.NewDevProvider(nil)

	rateSvc := rates.New(rates.FetcherFunc(func(ctx context.Context, symbols []string, currency string) (map[string]float64, error) {
		return map[string]float64{"ETH": 2000}, nil
	}), time.Minute, nil)

	w := wallet.New(wallet.Deps{
		Store:       store,
		Connector:   session.NewConnector(store, provider, markers, nil),
		Reconnector: session.NewReconnector(store, provider, markers, nil),
		Balances:    balance.New(&fakeReader{amount: 1.5}, rateSvc, nil),
		Rates:       rateSvc,
		Payments:    payment.New(store, chain.NewDevSigner(), nil),
	})
	return NewHandler(w, nil)
}

func marshal(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func do(t *testing.T, h http.Handler, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func connect(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/session/connect",
		marshal(t, map[string]string{"credential": testCredential, "provider_label": "dev"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestHandler(t)
	connect(t, h)

	rec := do(t, h, http.MethodGet, "/wallet", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap wallet.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if !snap.IsConnected || snap.Address != testAddress {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	rec = do(t, h, http.MethodDelete, "/session", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disconnect: expected 204, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/session", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second disconnect: expected 409, got %d", rec.Code)
	}
}

func TestConnectRejectsMalformedCredential(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/session/connect",
		marshal(t, map[string]string{"credential": "zz-not-hex", "provider_label": "dev"}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body["code"] != "CREDENTIAL_ERROR" {
		t.Fatalf("expected CREDENTIAL_ERROR code, got %q", body["code"])
	}
}

func TestReconnectWithoutMarker(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/session/reconnect", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBalanceRefreshAndRate(t *testing.T) {
	h := newTestHandler(t)
	connect(t, h)

	rec := do(t, h, http.MethodPost, "/wallet/balance/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var balanceBody map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &balanceBody); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if balanceBody["balance"] != 1.5 {
		t.Fatalf("unexpected balance %v", balanceBody)
	}

	rec = do(t, h, http.MethodGet, "/rates/ETH/USD", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rate: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "2000") {
		t.Fatalf("rate body missing value: %s", rec.Body.String())
	}
}

func TestBalanceRefreshRequiresSession(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/wallet/balance/refresh", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestSendTransaction(t *testing.T) {
	h := newTestHandler(t)
	connect(t, h)

	rec := do(t, h, http.MethodPost, "/transactions", marshal(t, map[string]interface{}{
		"recipient":  testRecipient,
		"amount_eth": 0.5,
		"category":   "salary",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tx map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &tx); err != nil {
		t.Fatalf("unmarshal tx: %v", err)
	}
	if tx["status"] != "confirmed" || tx["hash"] == "" {
		t.Fatalf("unexpected tx: %v", tx)
	}

	rec = do(t, h, http.MethodDelete, "/notifications/success", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear success: expected 204, got %d", rec.Code)
	}
}

func TestSendValidation(t *testing.T) {
	h := newTestHandler(t)
	connect(t, h)

	rec := do(t, h, http.MethodPost, "/transactions", marshal(t, map[string]interface{}{
		"recipient":  "bogus",
		"amount_eth": 1,
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/transactions", marshal(t, map[string]interface{}{
		"recipient":  testRecipient,
		"amount_eth": -1,
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

// TestEventStreamThroughMiddleware composes the handler behind the same
// middleware chain the daemon builds, so the websocket upgrade is exercised
// through every status-capturing wrapper.
func TestEventStreamThroughMiddleware(t *testing.T) {
	var handler http.Handler = newTestHandler(t)
	handler = middleware.NewRateLimiter(100, 100, nil).Handler()(handler)
	handler = middleware.Logging(nil)(handler)
	handler = middleware.NewCORS([]string{"*"}).Handler(handler)
	handler = metrics.InstrumentHandler(handler)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("upgrade through middleware chain failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap wallet.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if snap.IsConnected {
		t.Fatalf("fresh wallet should be disconnected")
	}

	// A plain REST request still flows through the same chain.
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz through chain: expected 200, got %d", resp.StatusCode)
	}
}

func TestEventStreamPushesSnapshots(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()

	// First frame is the current state.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first wallet.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.IsConnected {
		t.Fatalf("fresh wallet should be disconnected")
	}

	resp, err := http.Post(srv.URL+"/session/connect", "application/json",
		strings.NewReader(`{"credential":"`+testCredential+`","provider_label":"dev"}`))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	resp.Body.Close()

	// The connect transition produces at least one connected frame.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var snap wallet.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if snap.IsConnected && snap.Address == testAddress {
			return
		}
	}
	t.Fatalf("never observed a connected snapshot")
}
