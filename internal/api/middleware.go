package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/pquerna/otp/totp"
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-OTP")
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != m {
			w.Header().Set("Allow", m)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func get(h http.HandlerFunc) http.HandlerFunc  { return method(http.MethodGet, h) }
func post(h http.HandlerFunc) http.HandlerFunc { return method(http.MethodPost, h) }

// mutating is a POST route guarded by the one-time password, when configured.
func (s *server) mutating(h http.HandlerFunc) http.HandlerFunc {
	return post(func(w http.ResponseWriter, r *http.Request) {
		if s.TOTPSecret != "" {
			code := strings.TrimSpace(r.Header.Get("X-OTP"))
			if code == "" || !totp.Validate(code, s.TOTPSecret) {
				log.Printf("[api] rejected %s %s: invalid one-time password", r.Method, r.URL.Path)
				writeError(w, http.StatusUnauthorized, "missing or invalid X-OTP code")
				return
			}
		}
		h(w, r)
	})
}
