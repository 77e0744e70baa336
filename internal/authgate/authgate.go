// Package authgate validates the bearer token on every /v1/* request,
// enforces per-token fixed-window rate limiting, and attaches the
// resolved Token to the request context. Grounded on the teacher's
// authenticateRequest (internal/server/gateway.go) for the fire-and-forget
// lastUsed update, and on NodeNestor-CodeGate's internal/ratelimit
// package shape for the limiter's map+mutex layout — its sliding-window
// algorithm is not reused, since this gateway requires fixed-window
// count/resetAt semantics.
package authgate

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
)

type contextKey int

const tokenContextKey contextKey = iota

// WithToken attaches a Token to ctx. AuthGate is the sole producer.
func WithToken(ctx context.Context, t model.Token) context.Context {
	return context.WithValue(ctx, tokenContextKey, t)
}

// TokenFromContext retrieves the Token attached by AuthGate, if any.
func TokenFromContext(ctx context.Context) (model.Token, bool) {
	t, ok := ctx.Value(tokenContextKey).(model.Token)
	return t, ok
}

// lastUsedThreshold throttles the best-effort lastUsed write so a hot
// token doesn't trigger a Store write on every single request.
const lastUsedThreshold = 5 * time.Minute

// AuthGate validates bearer tokens and enforces per-token rate limits.
type AuthGate struct {
	store store.Store

	lastUsedSeen sync.Map // tokenId -> time.Time of last throttled write
	limiter      *rateLimiter
}

func New(st store.Store) *AuthGate {
	return &AuthGate{
		store:   st,
		limiter: newRateLimiter(),
	}
}

// Authenticate runs the full AuthGate pipeline: parse bearer, validate
// token, rate-limit, attach to context. On failure it writes the JSON
// error response itself and returns ok=false; callers must stop processing.
func (g *AuthGate) Authenticate(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	authz := r.Header.Get("Authorization")
	value, found := strings.CutPrefix(authz, "Bearer ")
	if !found || value == "" {
		writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header", "")
		return r, false
	}

	token, err := g.store.TokenByValue(r.Context(), value)
	if err != nil || token == nil {
		writeError(w, http.StatusUnauthorized, "Invalid token", "")
		return r, false
	}

	if !token.Enabled {
		writeError(w, http.StatusForbidden, "Token is disabled", "")
		return r, false
	}

	g.touchLastUsed(*token)

	if token.RateLimit != nil {
		if !g.limiter.allow(token.ID, *token.RateLimit) {
			writeRateLimitError(w)
			return r, false
		}
	}

	ctx := WithToken(r.Context(), *token)
	return r.WithContext(ctx), true
}

// touchLastUsed is best-effort and fire-and-forget: it skips the Store
// write entirely if this token was touched within lastUsedThreshold.
func (g *AuthGate) touchLastUsed(t model.Token) {
	now := time.Now()

	if last, ok := g.lastUsedSeen.Load(t.ID); ok {
		if now.Sub(last.(time.Time)) < lastUsedThreshold {
			return
		}
	}
	g.lastUsedSeen.Store(t.ID, now)

	go func(id string) {
		ctx := context.WithoutCancel(context.Background())
		ms := time.Now().UnixMilli()
		_, _ = g.store.UpdateToken(ctx, id, store.TokenPatch{LastUsed: &ms})
	}(t.ID)
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if typ == "" {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message, "type": typ},
	})
}

func writeRateLimitError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": "Rate limit exceeded", "type": "rate_limit_error"},
	})
}

// ─── fixed-window rate limiter ───

type window struct {
	count   int
	resetAt int64 // unix ms
}

// rateLimiter implements a 60s fixed-window limiter keyed by token id.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{windows: make(map[string]*window)}
}

const windowMS = 60_000

// allow increments the token's counter, resetting the window if it has
// elapsed. Returns false (reject) once count exceeds limit.
func (rl *rateLimiter) allow(tokenID string, limit int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	w, ok := rl.windows[tokenID]
	if !ok {
		w = &window{count: 0, resetAt: now + windowMS}
		rl.windows[tokenID] = w
	}

	if now >= w.resetAt {
		w.count = 0
		w.resetAt = now + windowMS
	}

	w.count++

	return w.count <= limit
}
