package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arosboro/ollama-proxy/internal/ollama"
)

// writeError writes a JSON error response in the client protocol's envelope.
func writeError(w http.ResponseWriter, msg string, errType string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": errType},
	})
}

func writeClientError(w http.ResponseWriter, msg string) {
	writeError(w, msg, "invalid_request_error", http.StatusBadRequest)
}

func writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, msg, "internal_error", http.StatusInternalServerError)
}

func writeNotImplemented(w http.ResponseWriter, msg string) {
	writeError(w, msg, "not_implemented_error", http.StatusNotImplemented)
}

// upstreamStatus returns the client status a backend failure maps onto.
func upstreamStatus(err error, timeoutStatus int) int {
	var statusErr *ollama.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	if ollama.IsTimeout(err) {
		return timeoutStatus
	}
	return http.StatusBadGateway
}

// writeUpstreamError maps a backend call failure onto a client status.
// Backend status errors are relayed verbatim, body and all. Timeouts use
// timeoutStatus, which differs between passthrough (504) and translated
// flows (502).
func writeUpstreamError(w http.ResponseWriter, err error, timeoutStatus int) {
	var statusErr *ollama.StatusError
	if errors.As(err, &statusErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusErr.StatusCode)
		_, _ = w.Write(statusErr.Body)
		return
	}
	if ollama.IsTimeout(err) {
		writeError(w, "backend request timed out: "+err.Error(), "gateway_error", timeoutStatus)
		return
	}
	writeError(w, "backend request failed: "+err.Error(), "gateway_error", http.StatusBadGateway)
}
