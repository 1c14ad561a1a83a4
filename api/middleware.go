package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/coreybb/datapusher/models"
	"github.com/coreybb/datapusher/webutil"
)

// TokenAuthenticator resolves an app secret token to its account.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Account, error)
}

// RateLimitByAccount rejects requests with 429 once their bucket is empty.
// A header token that resolves to an account gets that account's bucket; any
// other request is keyed by client address, so made-up tokens share one bucket.
func RateLimitByAccount(limiter *TokenRateLimiter, auth TokenAuthenticator, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r, auth, header)
			if !limiter.Allow(key) {
				slog.Warn("Rate limit exceeded", "path", r.URL.Path, "remote", clientAddr(r))
				w.Header().Set(webutil.HeaderRetryAfter, "1")
				webutil.RespondWithError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request, auth TokenAuthenticator, header string) string {
	token := strings.TrimSpace(r.Header.Get(header))
	if token != "" && auth != nil {
		if account, err := auth.Authenticate(r.Context(), token); err == nil {
			return "account:" + strconv.FormatInt(account.ID, 10)
		}
	}
	return "addr:" + clientAddr(r)
}

// clientAddr is the host part of RemoteAddr, which middleware.RealIP has
// already rewritten when proxy headers are present.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
