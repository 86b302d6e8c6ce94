package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/digkill/BananaStudio/internal/imagegen"
	"github.com/digkill/BananaStudio/internal/payment"
	"github.com/digkill/BananaStudio/internal/service"
)

const maxBodyBytes = 25 << 20

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Required  *int   `json:"required,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return false
	}
	return true
}

// writeError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *service.InsufficientCreditsError
		providerErr  *imagegen.ProviderError
		paymentErr   *payment.APIError
	)
	switch {
	case errors.Is(err, imagegen.ErrInvalidRequest), errors.Is(err, service.ErrInvalidInput):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: clientMessage(err)})
	case errors.Is(err, service.ErrUnauthorized):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	case errors.As(err, &insufficient):
		s.writeJSON(w, http.StatusForbidden, errorResponse{
			Error:     "Insufficient credits",
			Required:  &insufficient.Required,
			Available: &insufficient.Available,
		})
	case errors.Is(err, service.ErrConfiguration), errors.Is(err, imagegen.ErrNotConfigured):
		s.log.Error("configuration error", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Server configuration error"})
	case errors.Is(err, imagegen.ErrTimeout):
		s.log.Error("generation timed out", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "generation timed out"})
	case errors.As(err, &providerErr):
		s.log.Error("provider error", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "generation failed", Details: providerErr.Message})
	case errors.As(err, &paymentErr):
		s.log.Error("payment provider error", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "payment provider error"})
	default:
		s.log.Error("handler error", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal Server Error"})
	}
}

// clientMessage strips the sentinel prefix so the caller sees only the field problem.
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{imagegen.ErrInvalidRequest, service.ErrInvalidInput} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
			return rest
		}
	}
	return msg
}
