package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-gateway-go/internal/audit"
	apperrors "github.com/openclaw/pairing-gateway-go/internal/errors"
	"github.com/openclaw/pairing-gateway-go/internal/httputil"
	"github.com/openclaw/pairing-gateway-go/internal/util"
)

// OperatorAuth guards the routes that mutate sessions or the device link.
// Only the SHA-256 digest of the configured token is kept.
type OperatorAuth struct {
	tokenHash string
}

// NewOperatorAuth with an empty token rejects every request.
func NewOperatorAuth(token string) *OperatorAuth {
	if token == "" {
		return &OperatorAuth{}
	}
	return &OperatorAuth{tokenHash: util.HashToken(token)}
}

func (m *OperatorAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			log.Warn().Str("path", r.URL.Path).Msg("operator auth: no token configured")
			unauthorized(w, "Operator access is not configured")
			return
		}

		token := extractToken(r)
		if token == "" {
			unauthorized(w, "Missing authentication token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(util.HashToken(token)), []byte(m.tokenHash)) != 1 {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventOperatorAuthFailed,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			unauthorized(w, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pairing-gateway"`)
	httputil.WriteError(w, apperrors.Unauthorized(msg))
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
