package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"P2PEscrow/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

// writeError maps a service error onto its HTTP status. Internal failures
// never leak their cause to the client.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	var rl *apperr.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", retryAfterSeconds(rl.RetryAfter.Seconds()))
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError && !errors.Is(err, apperr.ErrCustody) {
		msg = http.StatusText(status)
	}
	writeMessage(w, status, apperr.Kind(err), msg)
}

func retryAfterSeconds(s float64) string {
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(int(math.Ceil(s)))
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
