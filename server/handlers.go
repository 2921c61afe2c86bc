package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	qstashx "github.com/tanpawarit/chative-experts/pkg/qstash"
)

type turnRequest struct {
	Content string `json:"content"`
}

type confirmationRequest struct {
	Decision string `json:"decision"`
}

type stateResponse struct {
	State any      `json:"state"`
	BMI   *float64 `json:"bmi,omitempty"`
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))

	var body turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sessionID == "" || strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "session id and content are required")
		return
	}

	sink, ok := newSSESink(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// A dropped connection cancels r.Context(), which stops the turn at its next safe point.
	if _, err := s.deps.Turns.HandleTurn(r.Context(), sessionID, body.Content, sink); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("turn stream closed with error")
	}
}

func (s *Server) postConfirmation(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(chi.URLParam(r, "correlationID"))

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.verifySignature(r, raw) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var body confirmationRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decision, err := contractx.ParseDecision(body.Decision)
	if err != nil {
		writeError(w, http.StatusBadRequest, "decision must be approve or decline")
		return
	}

	switch err := s.deps.Confirmer.Resolve(r.Context(), correlationID, decision); {
	case err == nil:
		log.Info().Str("correlation_id", correlationID).Str("decision", string(decision)).Msg("confirmation resolved")
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, contractx.ErrConfirmationNotFound):
		writeError(w, http.StatusNotFound, "no pending confirmation")
	case errors.Is(err, contractx.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid confirmation")
	default:
		log.Error().Err(err).Str("correlation_id", correlationID).Msg("resolve confirmation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// verifySignature checks the Upstash-Signature header. Unsigned callbacks are only
// accepted when signatures are not required.
func (s *Server) verifySignature(r *http.Request, body []byte) bool {
	v := s.deps.Verifier
	if v == nil || !v.CanVerify() {
		return !s.cfg.RequireSignature
	}
	signature := r.Header.Get(qstashx.SignatureHeaderKey)
	if signature == "" {
		return !s.cfg.RequireSignature
	}
	if err := v.Verify(signature, body, s.callbackURL(r)); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("rejected confirmation callback")
		return false
	}
	return true
}

func (s *Server) callbackURL(r *http.Request) string {
	if base := strings.TrimRight(s.cfg.PublicURL, "/"); base != "" {
		return base + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	if s.deps.State == nil {
		writeError(w, http.StatusNotFound, "state store not configured")
		return
	}
	st, err := s.deps.State.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		log.Error().Err(err).Msg("load session state failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := stateResponse{State: st}
	if bmi, ok := st.BMI(); ok {
		resp.BMI = &bmi
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history store not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	turns, err := s.deps.History.Load(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		log.Error().Err(err).Msg("load history failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if turns == nil {
		turns = []contractx.ConversationTurn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
