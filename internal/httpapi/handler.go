// Package httpapi exposes the wallet facade over REST plus a websocket
// event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	paydom "github.com/paystream-labs/walletcore/internal/domain/payment"
	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/internal/metrics"
	"github.com/paystream-labs/walletcore/internal/session"
	"github.com/paystream-labs/walletcore/internal/wallet"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

type handler struct {
	wallet *wallet.Wallet
	log    *logger.Logger
	stream *stream
}

// NewHandler returns the wallet REST router.
func NewHandler(w *wallet.Wallet, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{wallet: w, log: log, stream: newStream(w, log)}

	r := mux.NewRouter()
	r.HandleFunc("/session/connect", h.connect).Methods(http.MethodPost)
	r.HandleFunc("/session/reconnect", h.reconnect).Methods(http.MethodPost)
	r.HandleFunc("/session", h.disconnect).Methods(http.MethodDelete)
	r.HandleFunc("/wallet", h.state).Methods(http.MethodGet)
	r.HandleFunc("/wallet/balance/refresh", h.refreshBalance).Methods(http.MethodPost)
	r.HandleFunc("/rates/{symbol}/{currency}", h.rate).Methods(http.MethodGet)
	r.HandleFunc("/transactions", h.send).Methods(http.MethodPost)
	r.HandleFunc("/notifications/success", h.clearSuccess).Methods(http.MethodDelete)
	r.HandleFunc("/events", h.stream.serve).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (h *handler) connect(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Credential    string `json:"credential"`
		ProviderLabel string `json:"provider_label"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, svcerr.Validation("invalid request body"))
		return
	}

	session, err := h.wallet.Connect(r.Context(), payload.Credential, payload.ProviderLabel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *handler) reconnect(w http.ResponseWriter, r *http.Request) {
	restored, err := h.wallet.AttemptReconnect(r.Context())
	if errors.Is(err, session.ErrNoPriorSession) {
		writeError(w, svcerr.NotFound("no previous session"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restored)
}

func (h *handler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Disconnect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wallet.State())
}

func (h *handler) refreshBalance(w http.ResponseWriter, r *http.Request) {
	amount, err := h.wallet.RefreshBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": amount})
}

func (h *handler) rate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := h.wallet.GetRate(r.Context(), vars["symbol"], vars["currency"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Recipient   string  `json:"recipient"`
		AmountEth   float64 `json:"amount_eth"`
		Company     string  `json:"company"`
		Category    string  `json:"category"`
		Description string  `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, svcerr.Validation("invalid request body"))
		return
	}

	tx, err := h.wallet.Send(r.Context(), payload.Recipient, payload.AmountEth, paydom.Metadata{
		Company:     payload.Company,
		Category:    payload.Category,
		Description: payload.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) clearSuccess(w http.ResponseWriter, r *http.Request) {
	h.wallet.ClearSuccessMessage()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if svc := svcerr.GetServiceError(err); svc != nil {
		body["error"] = svc.Message
		body["code"] = string(svc.Code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcerr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(body)
}
