package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch orders.KindOf(err) {
	case orders.KindInput:
		return http.StatusBadRequest
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindLimitExceeded:
		return http.StatusTooManyRequests
	case orders.KindConfiguration:
		return http.StatusBadRequest
	case orders.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides unclassified errors behind a generic message and logs them.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	code := statusFor(err)
	body := map[string]string{"error": err.Error(), "kind": string(orders.KindOf(err))}
	if code == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		body = map[string]string{"error": "internal error"}
	}
	writeJSON(w, code, body)
}
