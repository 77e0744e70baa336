// Package provideradapter implements the per-Channel.Type dialect: auth
// header injection, endpoint path selection, probe body shapes, and
// upstream error classification. Grounded on the teacher's
// internal/server/native-proxy.go raw-passthrough relay, not on its
// gateway.go message-translation path (this gateway never reshapes
// request/response bodies, only relays them byte-for-byte).
package provideradapter

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DYLCKH/key-hub/internal/model"
)

// Adapter describes one provider's dialect.
type Adapter struct {
	Type              model.ChannelType
	DefaultProbeModel string
}

// For returns the Adapter for a Channel's type.
func For(t model.ChannelType) (Adapter, error) {
	switch t {
	case model.ChannelOpenAI, model.ChannelOpenAICompatible:
		return Adapter{Type: t, DefaultProbeModel: "gpt-3.5-turbo"}, nil
	case model.ChannelAnthropic:
		return Adapter{Type: t, DefaultProbeModel: "claude-3-haiku-20240307"}, nil
	case model.ChannelGemini:
		return Adapter{Type: t, DefaultProbeModel: "gemini-pro"}, nil
	default:
		return Adapter{}, fmt.Errorf("unsupported channel type %q", t)
	}
}

func trimBase(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}

// ChatEndpoint returns the upstream URL for a chat-completions-shaped
// relay request, given the channel's base URL, API key, and the model
// name (only Gemini needs the model in the path).
func (a Adapter) ChatEndpoint(baseURL, key, model_ string) string {
	base := trimBase(baseURL)

	switch a.Type {
	case model.ChannelAnthropic:
		return base + "/v1/messages"
	case model.ChannelGemini:
		return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", base, model_, url.QueryEscape(key))
	default: // openai, openai-compatible
		return base + "/v1/chat/completions"
	}
}

// RelayEndpoint returns the upstream URL for /v1/embeddings and
// /v1/images/generations relays. Spec.md only specifies chat/models/
// balance endpoints in detail; these two are routed through the same
// model-resolution and relay pipeline as chat (see SPEC_FULL.md §6). The
// URL is {base}/v1/{path} for every dialect: unlike ChatEndpoint it has no
// per-dialect path and does not put a Gemini key in the query string.
func (a Adapter) RelayEndpoint(path, baseURL string) string {
	return trimBase(baseURL) + "/v1/" + path
}

// ModelsEndpoint returns the upstream URL for the models-list probe/relay.
func (a Adapter) ModelsEndpoint(baseURL, key string) string {
	base := trimBase(baseURL)

	switch a.Type {
	case model.ChannelGemini:
		return base + "/v1beta/models?key=" + url.QueryEscape(key)
	default: // openai, openai-compatible, anthropic
		return base + "/v1/models"
	}
}

// BalanceEndpoint returns the upstream URL for a balance probe; only
// openai/openai-compatible support this test method.
func (a Adapter) BalanceEndpoint(baseURL string) (string, bool) {
	switch a.Type {
	case model.ChannelOpenAI, model.ChannelOpenAICompatible:
		return trimBase(baseURL) + "/dashboard/billing/credit_grants", true
	default:
		return "", false
	}
}

// SetAuthHeaders injects the provider's authentication convention into req.
// Gemini's auth travels in the URL (already applied by ChatEndpoint /
// ModelsEndpoint), so this is a no-op for it.
func (a Adapter) SetAuthHeaders(req *http.Request, key string) {
	switch a.Type {
	case model.ChannelAnthropic:
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", "2023-06-01")
	case model.ChannelGemini:
		// key is carried in the URL query string.
	default: // openai, openai-compatible
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// ProbeChatBody builds the minimal chat-completion probe body for this
// dialect, targeting model_ (falls back to DefaultProbeModel if empty).
func (a Adapter) ProbeChatBody(model_ string) []byte {
	if model_ == "" {
		model_ = a.DefaultProbeModel
	}

	switch a.Type {
	case model.ChannelGemini:
		return []byte(`{"contents":[{"parts":[{"text":"hi"}]}],"generationConfig":{"maxOutputTokens":1}}`)
	case model.ChannelAnthropic:
		return []byte(fmt.Sprintf(
			`{"model":%q,"messages":[{"role":"user","content":"hi"}],"max_tokens":1}`, model_,
		))
	default: // openai, openai-compatible — same shape as anthropic's probe body
		return []byte(fmt.Sprintf(
			`{"model":%q,"messages":[{"role":"user","content":"hi"}],"max_tokens":1}`, model_,
		))
	}
}

// ErrorClass is the outcome of classifying an upstream response or
// transport failure. KeyChecker is the only consumer that turns this into
// a persisted KeyStatus.
type ErrorClass struct {
	Status model.KeyStatus
	Error  string
}

// ClassifyResponse maps an upstream HTTP response to a KeyStatus per the
// status-code table in the spec. For 2xx, 401, 403 and 429 the body is not
// read. For any other status up to 200 bytes of the body are read into the
// error message, so the caller must not rely on reading it again.
func ClassifyResponse(statusCode int, body io.Reader) ErrorClass {
	if statusCode >= 200 && statusCode < 300 {
		return ErrorClass{Status: model.StatusActive}
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorClass{Status: model.StatusInvalid, Error: fmt.Sprintf("HTTP %d", statusCode)}
	case http.StatusTooManyRequests:
		return ErrorClass{Status: model.StatusQuotaExceeded, Error: fmt.Sprintf("HTTP %d", statusCode)}
	default:
		var buf bytes.Buffer
		_, _ = io.CopyN(&buf, body, 200)
		return ErrorClass{
			Status: model.StatusInvalid,
			Error:  fmt.Sprintf("HTTP %d: %s", statusCode, buf.String()),
		}
	}
}

// ClassifyTransportError maps a transport-level failure (connection
// refused, timeout, TLS error, ...) to the spec-mandated "invalid" class.
func ClassifyTransportError(err error) ErrorClass {
	return ErrorClass{Status: model.StatusInvalid, Error: err.Error()}
}
