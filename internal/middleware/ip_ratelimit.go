package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/openclaw/pairing-gateway-go/internal/audit"
	apperrors "github.com/openclaw/pairing-gateway-go/internal/errors"
	"github.com/openclaw/pairing-gateway-go/internal/httputil"
	redisclient "github.com/openclaw/pairing-gateway-go/internal/redis"
	"github.com/openclaw/pairing-gateway-go/internal/service"
)

// IPRateLimitMiddleware caps code issuance per client address.
type IPRateLimitMiddleware struct {
	limiter service.Limiter
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewIPRateLimitMiddleware(limiter service.Limiter, limit int, window time.Duration) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := audit.ClientIP(r)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), redisclient.CodeRateLimitKey(ip), m.limit, m.window)
		if !allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"path": r.URL.Path, "limit": m.limit},
			})

			secondsLeft := int(resetAt.Sub(m.now()).Seconds()) + 1
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secondsLeft))
			httputil.WriteErrorWithStatus(w, http.StatusTooManyRequests, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
