package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Supported modes.
const (
	ModeNone   = "none"
	ModeAPIKey = "apikey"
	ModeJWT    = "jwt"
)

// Options configures Middleware.
type Options struct {
	// Mode is one of: apikey | jwt | none. Empty means none.
	Mode string

	// Header is the request header carrying the API key in apikey mode.
	Header string

	// Key is the expected API key.
	Key string

	// Secret is the HS256 signing secret in jwt mode.
	Secret string
}

// Middleware returns an HTTP middleware that enforces authentication on the
// wrapped handler.
//
// Behaviour:
//   - Mode none, or a mode whose credential (Key or Secret) is empty, lets
//     every request through.
//   - apikey compares the Header value with Key in constant time.
//   - jwt expects "Authorization: Bearer <token>" signed with HS256 under
//     Secret; expiry and not-before claims are checked when present.
//
// A rejected request gets 401 with a JSON error body.
func Middleware(opts Options) func(http.Handler) http.Handler {
	check := checker(opts)
	return func(next http.Handler) http.Handler {
		if check == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(r); err != nil {
				slog.Debug("auth: request rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "err", err)
				unauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checker(opts Options) func(*http.Request) error {
	switch opts.Mode {
	case ModeAPIKey:
		if opts.Key == "" {
			return nil
		}
		header := opts.Header
		if header == "" {
			header = "x-api-key"
		}
		return func(r *http.Request) error {
			got := r.Header.Get(header)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(opts.Key)) != 1 {
				return fmt.Errorf("invalid api key")
			}
			return nil
		}

	case ModeJWT:
		if opts.Secret == "" {
			return nil
		}
		secret := []byte(opts.Secret)
		parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		return func(r *http.Request) error {
			raw, ok := bearer(r)
			if !ok {
				return fmt.Errorf("missing bearer token")
			}
			token, err := parser.Parse(raw, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil {
				return fmt.Errorf("invalid token: %w", err)
			}
			if !token.Valid {
				return fmt.Errorf("invalid token")
			}
			return nil
		}
	}
	return nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
