package authgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store/memory"
)

func TestRateLimiterAllowsUpToLimitThenRejects(t *testing.T) {
	rl := newRateLimiter()

	const limit = 3
	for i := 0; i < limit; i++ {
		if !rl.allow("tok-1", limit) {
			t.Fatalf("request %d should be allowed within the limit of %d", i+1, limit)
		}
	}

	// The (limit+1)th request in the same window must be rejected.
	if rl.allow("tok-1", limit) {
		t.Fatalf("request %d should be rejected, exceeding the limit of %d", limit+1, limit)
	}
}

func TestRateLimiterIsolatedPerToken(t *testing.T) {
	rl := newRateLimiter()

	for i := 0; i < 2; i++ {
		if !rl.allow("tok-a", 2) {
			t.Fatalf("tok-a request %d should be allowed", i+1)
		}
	}
	if rl.allow("tok-a", 2) {
		t.Fatal("tok-a third request should be rejected")
	}

	// tok-b has its own independent window/count.
	if !rl.allow("tok-b", 2) {
		t.Fatal("tok-b first request should be allowed, unaffected by tok-a's limit")
	}
}

func TestAuthenticateMissingBearer(t *testing.T) {
	gate := New(memory.New())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()

	_, ok := gate.Authenticate(w, req)
	if ok {
		t.Fatal("expected authentication to fail without an Authorization header")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthenticateInvalidToken(t *testing.T) {
	gate := New(memory.New())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer kh-does-not-exist")
	w := httptest.NewRecorder()

	_, ok := gate.Authenticate(w, req)
	if ok {
		t.Fatal("expected authentication to fail for an unknown token")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthenticateDisabledToken(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	tok, err := st.CreateToken(ctx, model.Token{Name: "t1", Token: "kh-disabled", Enabled: false})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	_ = tok

	gate := New(st)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer kh-disabled")
	w := httptest.NewRecorder()

	_, ok := gate.Authenticate(w, req)
	if ok {
		t.Fatal("expected authentication to fail for a disabled token")
	}
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestAuthenticateSuccessAttachesTokenToContext(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	created, err := st.CreateToken(ctx, model.Token{Name: "t1", Token: "kh-valid", Enabled: true})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	gate := New(st)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer kh-valid")
	w := httptest.NewRecorder()

	out, ok := gate.Authenticate(w, req)
	if !ok {
		t.Fatalf("expected authentication to succeed, got status %d", w.Code)
	}

	got, found := TokenFromContext(out.Context())
	if !found {
		t.Fatal("expected token to be attached to request context")
	}
	if got.ID != created.ID {
		t.Fatalf("context token ID = %q, want %q", got.ID, created.ID)
	}
}

func TestAuthenticateRateLimitBoundary(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	limit := 2
	_, err := st.CreateToken(ctx, model.Token{Name: "t1", Token: "kh-limited", Enabled: true, RateLimit: &limit})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	gate := New(st)

	for i := 0; i < limit; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer kh-limited")
		w := httptest.NewRecorder()

		if _, ok := gate.Authenticate(w, req); !ok {
			t.Fatalf("request %d should be allowed within the limit of %d (status %d)", i+1, limit, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer kh-limited")
	w := httptest.NewRecorder()

	if _, ok := gate.Authenticate(w, req); ok {
		t.Fatalf("request %d should be rejected, exceeding the limit of %d", limit+1, limit)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
}
