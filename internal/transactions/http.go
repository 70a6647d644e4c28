package transactions

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

const (
	msgInvalid     = "Invalid transaction data"
	msgFetchFailed = "Failed to fetch transactions"
)

// Handler serves POST and GET on /api/transactions.
type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

func NewHandler(ledger Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger.With(slog.String("component", "transactions-api"))}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/transactions", h.handleCreate)
	mux.HandleFunc("GET /api/transactions", h.handleList)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body NewTransaction
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgInvalid})
		return
	}
	tx, err := h.ledger.Create(r.Context(), body)
	if err != nil {
		if !errors.Is(err, ErrInvalid) {
			h.logger.Warn("failed to create transaction", slogError(err))
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgInvalid})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.ledger.List(r.Context())
	if err != nil {
		h.logger.Warn("failed to list transactions", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgFetchFailed})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
