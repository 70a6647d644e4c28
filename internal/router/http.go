package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loqalabs/voicepay/internal/controller"
	"github.com/loqalabs/voicepay/internal/navigation"
	"github.com/loqalabs/voicepay/internal/protocol"
)

// Register mounts the presenter HTTP routes on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/commands", s.handleCommand)
	mux.HandleFunc("POST /api/listen", s.handleListenHTTP)
	mux.HandleFunc("GET /api/screen/ws", s.handleWatch)
}

func (s *Service) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req protocol.UICommand
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<14)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.CommandResult{Error: "invalid request body", State: s.state()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := s.apply(ctx, req)
	writeJSON(w, statusFor(err), res)
}

func (s *Service) handleListenHTTP(w http.ResponseWriter, r *http.Request) {
	var req protocol.ListenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	listening, err := s.presenter.SetListening(ctx, req.Listen)
	if err != nil {
		s.logger.Warn("listen request failed", slogError(err))
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.ListenRequest{Listen: listening})
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, navigation.ErrStaleCommand):
		return http.StatusConflict
	case errors.Is(err, controller.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusGatewayTimeout
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
