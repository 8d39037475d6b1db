package server

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// apiKeyMiddleware rejects requests whose key header does not match the
// configured API key. The comparison is constant-time.
func (s *Server) apiKeyMiddleware(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(s.cfg.APIKeyHeader)
		if presented == "" {
			// WebSocket clients often cannot set custom headers.
			presented = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminMiddleware protects the admin surface: a Bearer JWT signed with the
// shared secret, or the plain API key as a fallback.
func (s *Server) adminMiddleware(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return adminSecret(), nil
			})
			if err == nil && token.Valid {
				next.ServeHTTP(w, r)
				return
			}
			s.logger.Warn("Rejected admin token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		presented := r.Header.Get(s.cfg.APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "admin authorization required")
	})
}

// adminSecret resolves the JWT signing secret, padded to a usable length
// for development setups.
func adminSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default-dev-secret-change-in-production-32chars"
	}
	if len(secret) < 32 {
		secret = secret + "xxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	}
	return []byte(secret)
}

// GenerateAdminToken issues an HS256 token for the admin surface.
func GenerateAdminToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": jwt.NewNumericDate(now.Add(ttl)),
		"iat": jwt.NewNumericDate(now),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(adminSecret())
}

// statusRecorder captures the response code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware records request counts and latency per route template.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.services.Metrics == nil || isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.services.Metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start))
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
