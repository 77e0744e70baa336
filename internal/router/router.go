// Package router implements the OpenAI-compatible relay surface:
// POST /v1/chat/completions, GET /v1/models, POST /v1/embeddings,
// POST /v1/images/generations. The unary/streaming dual-path relay with
// chunked io.Flusher copying is grounded directly on the teacher's
// internal/server/native-proxy.go NativeProxy handler.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DYLCKH/key-hub/internal/authgate"
	"github.com/DYLCKH/key-hub/internal/loadbalancer"
	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/provideradapter"
	"github.com/DYLCKH/key-hub/internal/proxydialer"
	"github.com/DYLCKH/key-hub/internal/store"
	"github.com/DYLCKH/key-hub/pkg/oaiwire"
)

// The relay client's 10-minute timeout and CheckRedirect policy are grounded on
// the teacher's nativeProxyClient in internal/server/native-proxy.go.
var relayTimeout = 10 * time.Minute

// Router handles the OpenAI-compatible surface.
type Router struct {
	store   store.Store
	lb      *loadbalancer.LoadBalancer
	proxies *proxydialer.Cache
}

func New(st store.Store, lb *loadbalancer.LoadBalancer, proxies *proxydialer.Cache) *Router {
	return &Router{store: st, lb: lb, proxies: proxies}
}

// ChatCompletions handles POST /v1/chat/completions.
func (rt *Router) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	rt.relay(w, r, "chat")
}

// Embeddings handles POST /v1/embeddings.
func (rt *Router) Embeddings(w http.ResponseWriter, r *http.Request) {
	rt.relay(w, r, "embeddings")
}

// ImagesGenerations handles POST /v1/images/generations.
func (rt *Router) ImagesGenerations(w http.ResponseWriter, r *http.Request) {
	rt.relay(w, r, "images/generations")
}

func (rt *Router) relay(w http.ResponseWriter, r *http.Request, path string) {
	start := time.Now()
	ctx := r.Context()

	token, _ := authgate.TokenFromContext(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return
	}

	var envelope oaiwire.RelayEnvelope
	_ = json.Unmarshal(body, &envelope)

	if envelope.Model == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required", "invalid_request_error")
		return
	}

	candidateTypes := oaiwire.ResolveModelTypes(envelope.Model)

	channel, key, proxy, err := rt.selectChannelAndKey(ctx, candidateTypes, token)
	if err != nil {
		slog.Error("channel selection failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error", "server_error")
		return
	}
	if channel == nil || key == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "No available API keys for this model", "server_error")
		return
	}

	adapter, err := provideradapter.For(channel.Type)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error", "server_error")
		return
	}

	upstreamURL := rt.buildUpstreamURL(adapter, path, *channel, key.Key, envelope.Model)

	transport, err := rt.proxies.Transport(proxy)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "proxy transport error", "server_error")
		return
	}
	client := &http.Client{
		Transport:     transport,
		Timeout:       relayTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to build upstream request", "server_error")
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")
	adapter.SetAuthHeaders(upstreamReq, key.Key)

	resp, err := client.Do(upstreamReq)
	if err != nil {
		rt.recordTransportFailure(ctx, *channel, *key, token, envelope, r, path, start, err.Error())
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "server_error")
		return
	}
	defer resp.Body.Close()

	if envelope.Stream && isSSEResponse(resp) {
		rt.relayStreaming(w, resp, ctx, *channel, *key, token, envelope, r, path, start)
		return
	}

	rt.relayUnary(w, resp, ctx, *channel, *key, token, envelope, r, path, start)
}

func (rt *Router) buildUpstreamURL(adapter provideradapter.Adapter, path string, ch model.Channel, key, modelName string) string {
	if path == "chat" {
		return adapter.ChatEndpoint(ch.BaseURL, key, modelName)
	}
	return adapter.RelayEndpoint(path, ch.BaseURL)
}

// selectChannelAndKey iterates candidate channels (enabled, matching a
// candidate type, intersected with the token's allowedChannels if
// non-empty) in insertion order, asking the LoadBalancer for a key until
// one is found.
func (rt *Router) selectChannelAndKey(ctx context.Context, candidateTypes []string, token model.Token) (*model.Channel, *model.ApiKey, *model.Proxy, error) {
	channels, err := rt.store.ListChannels(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	typeSet := make(map[string]bool, len(candidateTypes))
	for _, t := range candidateTypes {
		typeSet[t] = true
	}

	allowedSet := map[string]bool(nil)
	if len(token.AllowedChannels) > 0 {
		allowedSet = make(map[string]bool, len(token.AllowedChannels))
		for _, id := range token.AllowedChannels {
			allowedSet[id] = true
		}
	}

	for _, ch := range channels {
		if !ch.Enabled || !typeSet[string(ch.Type)] {
			continue
		}
		if allowedSet != nil && !allowedSet[ch.ID] {
			continue
		}

		activeKeys, err := rt.store.ActiveKeysFor(ctx, ch.ID)
		if err != nil {
			return nil, nil, nil, err
		}

		key := rt.lb.Select(activeKeys, ch.LoadBalanceStrategy, ch.ID)
		if key == nil {
			continue
		}

		var proxy *model.Proxy
		if ch.ProxyID != "" {
			proxy, err = rt.store.GetProxy(ctx, ch.ProxyID)
			if err != nil {
				return nil, nil, nil, err
			}
		}

		chCopy := ch
		return &chCopy, key, proxy, nil
	}

	return nil, nil, nil, nil
}

func (rt *Router) relayUnary(w http.ResponseWriter, resp *http.Response, ctx context.Context, ch model.Channel, key model.ApiKey, token model.Token, envelope oaiwire.RelayEnvelope, r *http.Request, path string, start time.Time) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		rt.recordTransportFailure(ctx, ch, key, token, envelope, r, path, start, err.Error())
		writeJSONError(w, http.StatusInternalServerError, "failed to read upstream response", "server_error")
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	errMsg := ""
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg = string(respBody)
	}

	rt.recordOutcome(ctx, ch, key, token, envelope, r, path, resp.StatusCode, start, false, errMsg)
}

func (rt *Router) relayStreaming(w http.ResponseWriter, resp *http.Response, ctx context.Context, ch model.Channel, key model.ApiKey, token model.Token, envelope oaiwire.RelayEnvelope, r *http.Request, path string, start time.Time) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
		select {
		case <-r.Context().Done():
			rt.recordOutcome(ctx, ch, key, token, envelope, r, path, resp.StatusCode, start, true, "client disconnected")
			return
		default:
		}
	}

	rt.recordOutcome(ctx, ch, key, token, envelope, r, path, resp.StatusCode, start, true, "")
}

// recordOutcome applies per-key bookkeeping and writes the RequestLog row
// for a request that reached the upstream and received an HTTP response,
// success or failure alike. It bumps lastUsed and totalRequests along with
// errorCount. Transport failures (no upstream response reached) go through
// recordTransportFailure instead, per spec.md §4.8 step 8.
func (rt *Router) recordOutcome(ctx context.Context, ch model.Channel, key model.ApiKey, token model.Token, envelope oaiwire.RelayEnvelope, r *http.Request, path string, status int, start time.Time, streaming bool, errMsg string) {
	now := time.Now().UnixMilli()
	latency := time.Since(start).Milliseconds()

	errorCount := key.ErrorCount
	if status >= 200 && status < 300 {
		errorCount = 0
	} else {
		errorCount = key.ErrorCount + 1
	}
	totalRequests := key.TotalRequests + 1

	_, _ = rt.store.UpdateKey(ctx, key.ID, store.KeyPatch{
		LastUsed:      &now,
		TotalRequests: &totalRequests,
		ErrorCount:    &errorCount,
	})

	log := model.RequestLog{
		Timestamp: now,
		ChannelID: ch.ID,
		KeyID:     key.ID,
		Model:     envelope.Model,
		Path:      "/v1/" + path,
		Method:    r.Method,
		Status:    status,
		Latency:   latency,
		Error:     errMsg,
		Streaming: streaming,
	}
	if token.ID != "" {
		log.TokenID = token.ID
	}

	_ = rt.store.AppendLog(ctx, log)
}

// recordTransportFailure handles the case where no upstream HTTP response
// was ever obtained (dial/TLS/timeout errors, or a response body that
// fails mid-read). Per spec.md §4.8 step 8, only errorCount is bumped;
// lastUsed and totalRequests are left untouched since the key was never
// actually exercised against the upstream.
func (rt *Router) recordTransportFailure(ctx context.Context, ch model.Channel, key model.ApiKey, token model.Token, envelope oaiwire.RelayEnvelope, r *http.Request, path string, start time.Time, errMsg string) {
	now := time.Now().UnixMilli()
	latency := time.Since(start).Milliseconds()

	errorCount := key.ErrorCount + 1
	_, _ = rt.store.UpdateKey(ctx, key.ID, store.KeyPatch{ErrorCount: &errorCount})

	log := model.RequestLog{
		Timestamp: now,
		ChannelID: ch.ID,
		KeyID:     key.ID,
		Model:     envelope.Model,
		Path:      "/v1/" + path,
		Method:    r.Method,
		Status:    http.StatusInternalServerError,
		Latency:   latency,
		Error:     errMsg,
	}
	if token.ID != "" {
		log.TokenID = token.ID
	}

	_ = rt.store.AppendLog(ctx, log)
}

// Models handles GET /v1/models: enumerate the fixed model table,
// including a model once if any eligible channel exists.
func (rt *Router) Models(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, _ := authgate.TokenFromContext(ctx)

	channels, err := rt.store.ListChannels(ctx)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error", "server_error")
		return
	}

	allowedSet := map[string]bool(nil)
	if len(token.AllowedChannels) > 0 {
		allowedSet = make(map[string]bool, len(token.AllowedChannels))
		for _, id := range token.AllowedChannels {
			allowedSet[id] = true
		}
	}

	now := time.Now().Unix()
	data := make([]oaiwire.ModelInfo, 0)

	for _, modelName := range oaiwire.AllModels() {
		types := oaiwire.TypesFor(modelName)
		typeSet := make(map[string]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}

		var eligibleChannel *model.Channel
		for i := range channels {
			ch := channels[i]
			if !ch.Enabled || !typeSet[string(ch.Type)] {
				continue
			}
			if allowedSet != nil && !allowedSet[ch.ID] {
				continue
			}
			eligibleChannel = &ch
			break
		}

		if eligibleChannel == nil {
			continue
		}

		data = append(data, oaiwire.ModelInfo{
			ID:      modelName,
			Object:  "model",
			Created: now,
			OwnedBy: string(eligibleChannel.Type),
		})
	}

	writeJSON(w, http.StatusOK, oaiwire.ModelListResponse{Object: "list", Data: data})
}

func isSSEResponse(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message, "type": typ},
	})
}
