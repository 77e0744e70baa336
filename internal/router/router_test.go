package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DYLCKH/key-hub/internal/loadbalancer"
	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/proxydialer"
	"github.com/DYLCKH/key-hub/internal/store"
	"github.com/DYLCKH/key-hub/internal/store/memory"
)

func newTestRouter(t *testing.T, upstreamURL string) (*Router, store.Store, *model.Channel, *model.ApiKey) {
	t.Helper()

	ctx := context.Background()
	st := memory.New()

	ch, err := st.CreateChannel(ctx, model.Channel{
		Name:    "chan-1",
		Type:    model.ChannelOpenAI,
		BaseURL: upstreamURL,
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	status := model.StatusActive
	key, err := st.CreateKey(ctx, model.ApiKey{ChannelID: ch.ID, Key: "sk-test"})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	key, err = st.UpdateKey(ctx, key.ID, store.KeyPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateKey: %v", err)
	}

	rt := New(st, loadbalancer.New(), proxydialer.NewCache())
	return rt, st, ch, key
}

func TestRelayUnaryByteIdenticalBody(t *testing.T) {
	const wantBody = `{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"hi"}}]}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(wantBody))
	}))
	defer upstream.Close()

	rt, _, _, _ := newTestRouter(t, upstream.URL)

	reqBody := []byte(`{"model":"gpt-3.5-turbo","stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	rt.ChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != wantBody {
		t.Fatalf("relayed body = %q, want byte-identical %q", got, wantBody)
	}
}

func TestRelayStreamingByteIdenticalAndHeaders(t *testing.T) {
	const chunk1 = "data: {\"delta\":\"hel\"}\n\n"
	const chunk2 = "data: {\"delta\":\"lo\"}\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(chunk1))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		_, _ = w.Write([]byte(chunk2))
	}))
	defer upstream.Close()

	rt, _, _, _ := newTestRouter(t, upstream.URL)

	reqBody := []byte(`{"model":"gpt-3.5-turbo","stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	rt.ChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != chunk1+chunk2 {
		t.Fatalf("relayed stream = %q, want byte-identical %q", got, chunk1+chunk2)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control = %q, want no-cache", got)
	}
	if got := w.Header().Get("Connection"); got != "keep-alive" {
		t.Fatalf("Connection = %q, want keep-alive", got)
	}
}

func TestRelayRecordsOutcomeOnSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	ctx := context.Background()
	rt, st, ch, key := newTestRouter(t, upstream.URL)

	reqBody := []byte(`{"model":"gpt-3.5-turbo","stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	rt.ChatCompletions(w, req)

	updated, err := st.GetKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if updated.TotalRequests != 1 {
		t.Fatalf("TotalRequests = %d, want 1", updated.TotalRequests)
	}
	if updated.LastUsed == nil {
		t.Fatal("expected LastUsed to be set after a relayed request")
	}

	logs, total, err := st.QueryLogs(ctx, model.LogFilter{Limit: 10})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("expected exactly one RequestLog, got total=%d len=%d", total, len(logs))
	}
	if logs[0].ChannelID != ch.ID || logs[0].KeyID != key.ID {
		t.Fatalf("log = %+v, want channel %q key %q", logs[0], ch.ID, key.ID)
	}
	if logs[0].Status != http.StatusOK {
		t.Fatalf("log.Status = %d, want 200", logs[0].Status)
	}
}

func TestSelectChannelAndKeySkipsDisabledChannels(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	_, err := st.CreateChannel(ctx, model.Channel{Name: "disabled", Type: model.ChannelOpenAI, BaseURL: "http://unused", Enabled: false})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	rt := New(st, loadbalancer.New(), proxydialer.NewCache())

	ch, key, _, err := rt.selectChannelAndKey(ctx, []string{"openai", "openai-compatible"}, model.Token{})
	if err != nil {
		t.Fatalf("selectChannelAndKey: %v", err)
	}
	if ch != nil || key != nil {
		t.Fatalf("expected no eligible channel/key for a disabled channel, got ch=%+v key=%+v", ch, key)
	}
}

func TestSelectChannelAndKeyFiltersByType(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	anthropicChan, err := st.CreateChannel(ctx, model.Channel{Name: "claude", Type: model.ChannelAnthropic, BaseURL: "http://unused", Enabled: true})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	status := model.StatusActive
	if _, err := st.CreateKey(ctx, model.ApiKey{ChannelID: anthropicChan.ID, Key: "sk-ant", Status: status}); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	rt := New(st, loadbalancer.New(), proxydialer.NewCache())

	// Candidate types resolved for an openai-style model should never
	// match an anthropic-only channel.
	ch, key, _, err := rt.selectChannelAndKey(ctx, []string{"openai", "openai-compatible"}, model.Token{})
	if err != nil {
		t.Fatalf("selectChannelAndKey: %v", err)
	}
	if ch != nil || key != nil {
		t.Fatalf("expected no match for mismatched provider type, got ch=%+v key=%+v", ch, key)
	}
}

func TestSelectChannelAndKeyRespectsAllowedChannels(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	allowed, err := st.CreateChannel(ctx, model.Channel{Name: "allowed", Type: model.ChannelOpenAI, BaseURL: "http://unused", Enabled: true})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	blocked, err := st.CreateChannel(ctx, model.Channel{Name: "blocked", Type: model.ChannelOpenAI, BaseURL: "http://unused", Enabled: true})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	status := model.StatusActive
	if _, err := st.CreateKey(ctx, model.ApiKey{ChannelID: allowed.ID, Key: "sk-allowed", Status: status}); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, err := st.CreateKey(ctx, model.ApiKey{ChannelID: blocked.ID, Key: "sk-blocked", Status: status}); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	rt := New(st, loadbalancer.New(), proxydialer.NewCache())

	token := model.Token{AllowedChannels: []string{allowed.ID}}
	ch, key, _, err := rt.selectChannelAndKey(ctx, []string{"openai", "openai-compatible"}, token)
	if err != nil {
		t.Fatalf("selectChannelAndKey: %v", err)
	}
	if ch == nil || key == nil {
		t.Fatal("expected the allowed channel to be selected")
	}
	if ch.ID != allowed.ID {
		t.Fatalf("selected channel = %q, want %q", ch.ID, allowed.ID)
	}
}

func TestRelayMissingModelIsBadRequest(t *testing.T) {
	rt, _, _, _ := newTestRouter(t, "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	rt.ChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRelayNoEligibleChannelIsServiceUnavailable(t *testing.T) {
	st := memory.New()
	rt := New(st, loadbalancer.New(), proxydialer.NewCache())

	reqBody := []byte(`{"model":"gpt-3.5-turbo","stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	rt.ChatCompletions(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestModelsOnlyListsModelsWithEligibleChannel(t *testing.T) {
	rt, _, _, _ := newTestRouter(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()

	rt.Models(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "gpt-3.5-turbo") {
		t.Fatalf("expected an openai model in the list, got %s", body)
	}
	if strings.Contains(string(body), "claude-3-opus") {
		t.Fatalf("expected no anthropic model to be listed without an anthropic channel, got %s", body)
	}
}
