package provideradapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DYLCKH/key-hub/internal/model"
)

func TestForUnsupportedType(t *testing.T) {
	if _, err := For(model.ChannelType("carrier-pigeon")); err == nil {
		t.Fatal("expected an error for an unsupported channel type")
	}
}

func TestChatEndpointPerDialect(t *testing.T) {
	tests := []struct {
		name string
		typ  model.ChannelType
		want string
	}{
		{"openai", model.ChannelOpenAI, "https://api.openai.com/v1/chat/completions"},
		{"anthropic", model.ChannelAnthropic, "https://api.anthropic.com/v1/messages"},
		{"gemini", model.ChannelGemini, "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent?key=sk-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := For(tt.typ)
			if err != nil {
				t.Fatalf("For: %v", err)
			}

			var got string
			switch tt.typ {
			case model.ChannelOpenAI:
				got = a.ChatEndpoint("https://api.openai.com", "sk-1", "")
			case model.ChannelAnthropic:
				got = a.ChatEndpoint("https://api.anthropic.com", "sk-1", "")
			case model.ChannelGemini:
				got = a.ChatEndpoint("https://generativelanguage.googleapis.com", "sk-1", "gemini-pro")
			}

			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChatEndpointTrimsTrailingSlash(t *testing.T) {
	a, _ := For(model.ChannelOpenAI)
	got := a.ChatEndpoint("https://api.openai.com/", "sk-1", "")
	want := "https://api.openai.com/v1/chat/completions"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSetAuthHeadersPerDialect(t *testing.T) {
	t.Run("openai uses bearer", func(t *testing.T) {
		a, _ := For(model.ChannelOpenAI)
		req := httptest.NewRequest(http.MethodPost, "http://upstream/v1/chat/completions", nil)
		a.SetAuthHeaders(req, "sk-key")

		if got := req.Header.Get("Authorization"); got != "Bearer sk-key" {
			t.Fatalf("Authorization = %q, want Bearer sk-key", got)
		}
	})

	t.Run("anthropic uses x-api-key and version header", func(t *testing.T) {
		a, _ := For(model.ChannelAnthropic)
		req := httptest.NewRequest(http.MethodPost, "http://upstream/v1/messages", nil)
		a.SetAuthHeaders(req, "sk-ant-key")

		if got := req.Header.Get("x-api-key"); got != "sk-ant-key" {
			t.Fatalf("x-api-key = %q, want sk-ant-key", got)
		}
		if got := req.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Fatalf("anthropic-version = %q, want 2023-06-01", got)
		}
		if got := req.Header.Get("Authorization"); got != "" {
			t.Fatalf("Authorization should not be set for anthropic, got %q", got)
		}
	})

	t.Run("gemini carries key in URL, sets no headers", func(t *testing.T) {
		a, _ := For(model.ChannelGemini)
		req := httptest.NewRequest(http.MethodPost, "http://upstream/v1beta/models/gemini-pro:generateContent?key=sk-1", nil)
		a.SetAuthHeaders(req, "sk-1")

		if got := req.Header.Get("Authorization"); got != "" {
			t.Fatalf("Authorization should be empty for gemini, got %q", got)
		}
		if got := req.Header.Get("x-api-key"); got != "" {
			t.Fatalf("x-api-key should be empty for gemini, got %q", got)
		}
	})
}

func TestBalanceEndpointOnlyOpenAI(t *testing.T) {
	a, _ := For(model.ChannelOpenAI)
	endpoint, ok := a.BalanceEndpoint("https://api.openai.com")
	if !ok {
		t.Fatal("expected openai to support balance endpoint")
	}
	if endpoint != "https://api.openai.com/dashboard/billing/credit_grants" {
		t.Fatalf("got %q", endpoint)
	}

	anthropic, _ := For(model.ChannelAnthropic)
	if _, ok := anthropic.BalanceEndpoint("https://api.anthropic.com"); ok {
		t.Fatal("expected anthropic to not support balance endpoint")
	}
}

func TestClassifyResponseStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   model.KeyStatus
	}{
		{http.StatusOK, model.StatusActive},
		{http.StatusUnauthorized, model.StatusInvalid},
		{http.StatusForbidden, model.StatusInvalid},
		{http.StatusTooManyRequests, model.StatusQuotaExceeded},
		{http.StatusInternalServerError, model.StatusInvalid},
	}

	for _, tt := range tests {
		got := ClassifyResponse(tt.status, strings.NewReader(""))
		if got.Status != tt.want {
			t.Fatalf("status %d: got %q, want %q", tt.status, got.Status, tt.want)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	got := ClassifyTransportError(errTimeout{})
	if got.Status != model.StatusInvalid {
		t.Fatalf("got %q, want invalid", got.Status)
	}
	if got.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "dial tcp: i/o timeout" }
