// Package managementapi is a thin CRUD layer over store.Store serving
// channels, keys, proxies, tokens, and read-only stats/logs, with input
// validation and secret masking applied at the response boundary only.
// Handler shape (list/get/create/update/delete per entity, with the
// writeJSON/ok/fail envelope helpers) is grounded on the teacher's internal/server/provider.go, api_tokens.go,
// and secrets.go.
package managementapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DYLCKH/key-hub/internal/cluster"
	atcrypto "github.com/DYLCKH/key-hub/internal/crypto"
	"github.com/DYLCKH/key-hub/internal/keychecker"
	"github.com/DYLCKH/key-hub/internal/loadbalancer"
	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/proxydialer"
	"github.com/DYLCKH/key-hub/internal/scheduler"
	"github.com/DYLCKH/key-hub/internal/store"
)

// API serves the management JSON surface.
type API struct {
	store     store.Store
	checker   *keychecker.KeyChecker
	scheduler *scheduler.Scheduler
	proxies   *proxydialer.Cache
	lb        *loadbalancer.LoadBalancer
	cluster   *cluster.Cluster // nil in single-instance mode
}

func New(st store.Store, checker *keychecker.KeyChecker, sched *scheduler.Scheduler, proxies *proxydialer.Cache, lb *loadbalancer.LoadBalancer, cl *cluster.Cluster) *API {
	return &API{store: st, checker: checker, scheduler: sched, proxies: proxies, lb: lb, cluster: cl}
}

// envelope is the wrapped JSON response shape every management endpoint
// uses: {success, data?, error?, message?}.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func okMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: true, Message: message})
}

func fail(w http.ResponseWriter, status int, err string) {
	writeJSON(w, status, envelope{Success: false, Error: err})
}

// failInternal logs the underlying error server-side before writing the
// 500 envelope — the client only ever sees err.Error(), never a stack or
// internal detail beyond that message.
func failInternal(w http.ResponseWriter, err error) {
	logUnhandled(err)
	fail(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pathSegment returns the fromEnd-th path segment counting back from the
// tail (0 = last segment), for routes registered with a trailing "*"
// wildcard rather than a named parameter. Grounded on the teacher's
// extractSecretID prefix-trim idiom, generalized to any segment depth.
func pathSegment(r *http.Request, fromEnd int) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	idx := len(parts) - 1 - fromEnd
	if idx < 0 || idx >= len(parts) {
		return ""
	}
	return parts[idx]
}

// ─── Channels ───

func (a *API) ListChannels(w http.ResponseWriter, r *http.Request) {
	chans, err := a.store.ListChannels(r.Context())
	if err != nil {
		failInternal(w, err)
		return
	}
	ok(w, http.StatusOK, chans)
}

func (a *API) GetChannel(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)
	ch, err := a.store.GetChannel(r.Context(), id)
	if err != nil {
		failInternal(w, err)
		return
	}
	if ch == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("channel %q not found", id))
		return
	}
	ok(w, http.StatusOK, ch)
}

type channelRequest struct {
	Name                string                     `json:"name"`
	Type                model.ChannelType          `json:"type"`
	BaseURL             string                     `json:"baseUrl"`
	TestMethod          model.TestMethod           `json:"testMethod"`
	TestModel           string                     `json:"testModel"`
	ProxyID             string                     `json:"proxyId"`
	LoadBalanceStrategy model.LoadBalanceStrategy  `json:"loadBalanceStrategy"`
	Enabled             bool                       `json:"enabled"`
}

func validateChannel(req channelRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if req.Type != "" && !req.Type.Valid() {
		return fmt.Errorf("invalid type %q", req.Type)
	}
	if req.BaseURL != "" {
		u, err := url.ParseRequestURI(req.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("baseUrl must be a valid absolute URL")
		}
	}
	if req.TestMethod != "" && !req.TestMethod.Valid() {
		return fmt.Errorf("invalid testMethod %q", req.TestMethod)
	}
	if req.LoadBalanceStrategy != "" && !req.LoadBalanceStrategy.Valid() {
		return fmt.Errorf("invalid loadBalanceStrategy %q", req.LoadBalanceStrategy)
	}
	return nil
}

func (a *API) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		fail(w, http.StatusBadRequest, "type is required")
		return
	}
	if err := validateChannel(req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	ch := model.Channel{
		Name:                req.Name,
		Type:                req.Type,
		BaseURL:             req.BaseURL,
		TestMethod:          req.TestMethod,
		TestModel:           req.TestModel,
		ProxyID:             req.ProxyID,
		LoadBalanceStrategy: req.LoadBalanceStrategy,
		Enabled:             req.Enabled,
	}

	created, err := a.store.CreateChannel(r.Context(), ch)
	if err != nil {
		failInternal(w, err)
		return
	}

	ok(w, http.StatusCreated, created)
}

func (a *API) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)

	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateChannel(req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := store.ChannelPatch{}
	if req.Name != "" {
		patch.Name = &req.Name
	}
	if req.Type != "" {
		patch.Type = &req.Type
	}
	if req.BaseURL != "" {
		patch.BaseURL = &req.BaseURL
	}
	if req.TestMethod != "" {
		patch.TestMethod = &req.TestMethod
	}
	patch.TestModel = &req.TestModel
	if req.ProxyID == "" {
		patch.ClearProxyID = true
	} else {
		patch.ProxyID = &req.ProxyID
	}
	if req.LoadBalanceStrategy != "" {
		patch.LoadBalanceStrategy = &req.LoadBalanceStrategy
	}
	patch.Enabled = &req.Enabled

	updated, err := a.store.UpdateChannel(r.Context(), id, patch)
	if err != nil {
		failInternal(w, err)
		return
	}
	if updated == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("channel %q not found", id))
		return
	}

	ok(w, http.StatusOK, updated)
}

func (a *API) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)
	if err := a.store.DeleteChannel(r.Context(), id); err != nil {
		failInternal(w, err)
		return
	}
	okMessage(w, http.StatusOK, "deleted")
}

// ─── Keys ───

// maskKey implements spec.md's masking rule:
// key[0:4]+"****"+key[-4:], or "****" if length <= 8.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func maskedKeyRecord(k model.ApiKey) model.ApiKey {
	k.Key = maskKey(k.Key)
	return k
}

func (a *API) ListKeys(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	keys, err := a.store.ListKeys(r.Context(), channelID)
	if err != nil {
		failInternal(w, err)
		return
	}
	for i := range keys {
		keys[i] = maskedKeyRecord(keys[i])
	}
	ok(w, http.StatusOK, keys)
}

func (a *API) GetKey(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)
	k, err := a.store.GetKey(r.Context(), id)
	if err != nil {
		failInternal(w, err)
		return
	}
	if k == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("key %q not found", id))
		return
	}
	masked := maskedKeyRecord(*k)
	ok(w, http.StatusOK, masked)
}

type keyRequest struct {
	ChannelID string `json:"channelId"`
	Key       string `json:"key"`
	Alias     string `json:"alias"`
	Priority  int    `json:"priority"`
	Weight    int    `json:"weight"`
	Enabled   bool   `json:"enabled"`
}

func (a *API) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ChannelID) == "" || strings.TrimSpace(req.Key) == "" {
		fail(w, http.StatusBadRequest, "channelId and key are required")
		return
	}

	created, err := a.store.CreateKey(r.Context(), model.ApiKey{
		ChannelID: req.ChannelID,
		Key:       req.Key,
		Alias:     req.Alias,
		Priority:  req.Priority,
		Weight:    req.Weight,
	})
	if err != nil {
		failInternal(w, err)
		return
	}

	ok(w, http.StatusCreated, maskedKeyRecord(*created))
}

func (a *API) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)

	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := store.KeyPatch{}
	if req.Key != "" {
		patch.Key = &req.Key
	}
	patch.Alias = &req.Alias
	if req.Priority != 0 {
		patch.Priority = &req.Priority
	}
	if req.Weight != 0 {
		patch.Weight = &req.Weight
	}
	// Status is KeyChecker-owned; this endpoint never sets it directly.

	updated, err := a.store.UpdateKey(r.Context(), id, patch)
	if err != nil {
		failInternal(w, err)
		return
	}
	if updated == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("key %q not found", id))
		return
	}

	ok(w, http.StatusOK, maskedKeyRecord(*updated))
}

func (a *API) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)
	if err := a.store.DeleteKey(r.Context(), id); err != nil {
		failInternal(w, err)
		return
	}
	okMessage(w, http.StatusOK, "deleted")
}

type importKeysRequest struct {
	ChannelID string `json:"channelId"`
	Keys      string `json:"keys"`
	Delimiter string `json:"delimiter"`
}

// ImportKeys handles POST /api/keys/import: splits by delimiter (default
// newline), trims whitespace, drops empties, creates all keys atomically
// with defaults priority=50, weight=50, status=unknown, errorCount=0,
// totalRequests=0.
func (a *API) ImportKeys(w http.ResponseWriter, r *http.Request) {
	var req importKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		fail(w, http.StatusBadRequest, "channelId is required")
		return
	}

	delimiter := req.Delimiter
	if delimiter == "" {
		delimiter = "\n"
	}

	parts := strings.Split(req.Keys, delimiter)
	keys := make([]model.ApiKey, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		keys = append(keys, model.ApiKey{
			ChannelID: req.ChannelID,
			Key:       trimmed,
			Status:    model.StatusUnknown,
			Priority:  50,
			Weight:    50,
		})
	}

	created, err := a.store.CreateKeys(r.Context(), keys)
	if err != nil {
		failInternal(w, err)
		return
	}

	for i := range created {
		created[i] = maskedKeyRecord(created[i])
	}

	ok(w, http.StatusCreated, created)
}

// CheckKey handles POST /api/keys/:id/check — a synchronous single-key
// probe via the Scheduler's CheckOne path.
func (a *API) CheckKey(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 1)
	if err := a.scheduler.CheckOne(r.Context(), id); err != nil {
		failInternal(w, err)
		return
	}
	okMessage(w, http.StatusOK, "checked")
}

// CheckAllKeys handles POST /api/keys/check-all — returns immediately,
// runs in the background.
func (a *API) CheckAllKeys(w http.ResponseWriter, r *http.Request) {
	a.scheduler.CheckAll(r.Context())
	okMessage(w, http.StatusAccepted, "check started")
}

// ─── Proxies ───

func maskedProxyRecord(p model.Proxy) model.Proxy {
	if p.Password != "" {
		p.Password = "****"
	}
	return p
}

func (a *API) ListProxies(w http.ResponseWriter, r *http.Request) {
	proxies, err := a.store.ListProxies(r.Context())
	if err != nil {
		failInternal(w, err)
		return
	}
	for i := range proxies {
		proxies[i] = maskedProxyRecord(proxies[i])
	}
	ok(w, http.StatusOK, proxies)
}

func (a *API) GetProxy(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)
	p, err := a.store.GetProxy(r.Context(), id)
	if err != nil {
		failInternal(w, err)
		return
	}
	if p == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("proxy %q not found", id))
		return
	}
	ok(w, http.StatusOK, maskedProxyRecord(*p))
}

type proxyRequest struct {
	Name     string         `json:"name"`
	Type     model.ProxyType `json:"type"`
	Host     string         `json:"host"`
	Port     int            `json:"port"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	Enabled  bool           `json:"enabled"`
}

func validateProxy(req proxyRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if req.Type != "" && !req.Type.Valid() {
		return fmt.Errorf("invalid type %q", req.Type)
	}
	if req.Port < 1 || req.Port > 65535 {
		return fmt.Errorf("port must be in [1,65535]")
	}
	return nil
}

func (a *API) CreateProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		fail(w, http.StatusBadRequest, "type is required")
		return
	}
	if err := validateProxy(req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := a.store.CreateProxy(r.Context(), model.Proxy{
		Name: req.Name, Type: req.Type, Host: req.Host, Port: req.Port,
		Username: req.Username, Password: req.Password, Enabled: req.Enabled,
	})
	if err != nil {
		failInternal(w, err)
		return
	}

	ok(w, http.StatusCreated, maskedProxyRecord(*created))
}

func (a *API) UpdateProxy(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)

	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateProxy(req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := store.ProxyPatch{
		Name: &req.Name, Host: &req.Host, Port: &req.Port,
		Username: &req.Username, Enabled: &req.Enabled,
	}
	if req.Type != "" {
		patch.Type = &req.Type
	}
	if req.Password != "" {
		patch.Password = &req.Password
	}

	updated, err := a.store.UpdateProxy(r.Context(), id, patch)
	if err != nil {
		failInternal(w, err)
		return
	}
	if updated == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("proxy %q not found", id))
		return
	}

	// Invalidate the cached transport so the new credentials/host take effect.
	a.proxies.Invalidate(id)

	ok(w, http.StatusOK, maskedProxyRecord(*updated))
}

func (a *API) DeleteProxy(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)
	if err := a.store.DeleteProxy(r.Context(), id); err != nil {
		failInternal(w, err)
		return
	}
	a.proxies.Invalidate(id)
	okMessage(w, http.StatusOK, "deleted")
}

// TestProxyHandler handles POST /api/proxies/:id/test.
func (a *API) TestProxyHandler(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 1)
	p, err := a.store.GetProxy(r.Context(), id)
	if err != nil {
		failInternal(w, err)
		return
	}
	if p == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("proxy %q not found", id))
		return
	}

	succeeded, latency, testErr := proxydialer.TestProxy(r.Context(), *p)
	result := map[string]any{"ok": succeeded, "latencyMs": latency}
	if testErr != nil {
		result["error"] = testErr.Error()
	}

	ok(w, http.StatusOK, result)
}

// ─── Tokens ───

func maskToken(token string) string {
	if len(token) <= 10 {
		return "****"
	}
	return token[:6] + "****" + token[len(token)-4:]
}

func maskedTokenRecord(t model.Token) model.Token {
	t.Token = maskToken(t.Token)
	return t
}

func (a *API) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := a.store.ListTokens(r.Context())
	if err != nil {
		failInternal(w, err)
		return
	}
	for i := range tokens {
		tokens[i] = maskedTokenRecord(tokens[i])
	}
	ok(w, http.StatusOK, tokens)
}

type tokenRequest struct {
	Name            string   `json:"name"`
	AllowedChannels []string `json:"allowedChannels"`
	RateLimit       *int     `json:"rateLimit"`
	Enabled         bool     `json:"enabled"`
}

// generateToken produces a kh-prefixed 48-lowercase-hex-char secret from
// 24 random bytes, per spec.md §3 — a shortened adaptation of the
// teacher's "at_"+hex(32 random bytes) scheme in api_tokens.go.
func generateToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "kh-" + hex.EncodeToString(raw), nil
}

func (a *API) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		fail(w, http.StatusBadRequest, "name is required")
		return
	}

	value, err := generateToken()
	if err != nil {
		failInternal(w, err)
		return
	}

	created, err := a.store.CreateToken(r.Context(), model.Token{
		Name:            req.Name,
		Token:           value,
		AllowedChannels: req.AllowedChannels,
		RateLimit:       req.RateLimit,
		Enabled:         req.Enabled,
	})
	if err != nil {
		failInternal(w, err)
		return
	}

	// Creation response returns the raw token once, per spec.md §4.9.
	ok(w, http.StatusCreated, created)
}

func (a *API) UpdateToken(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := store.TokenPatch{Enabled: &req.Enabled}
	if req.Name != "" {
		patch.Name = &req.Name
	}
	if req.AllowedChannels != nil {
		patch.AllowedChannels = &req.AllowedChannels
	}
	if req.RateLimit != nil {
		patch.RateLimit = &req.RateLimit
	}

	updated, err := a.store.UpdateToken(r.Context(), id, patch)
	if err != nil {
		failInternal(w, err)
		return
	}
	if updated == nil {
		fail(w, http.StatusNotFound, fmt.Sprintf("token %q not found", id))
		return
	}

	ok(w, http.StatusOK, maskedTokenRecord(*updated))
}

func (a *API) DeleteToken(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, 0)
	if err := a.store.DeleteToken(r.Context(), id); err != nil {
		failInternal(w, err)
		return
	}
	okMessage(w, http.StatusOK, "deleted")
}

// ─── Stats & Logs ───

type dashboardStats struct {
	ChannelCount       int `json:"channelCount"`
	KeyCount           int `json:"keyCount"`
	ActiveKeyCount     int `json:"activeKeyCount"`
	TokenCount         int `json:"tokenCount"`
	RequestsLast24h    int `json:"requestsLast24h"`
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	channels, err := a.store.ListChannels(ctx)
	if err != nil {
		failInternal(w, err)
		return
	}

	keyCount, activeCount := 0, 0
	for _, ch := range channels {
		keys, err := a.store.ListKeys(ctx, ch.ID)
		if err != nil {
			failInternal(w, err)
			return
		}
		keyCount += len(keys)
		for _, k := range keys {
			if k.Status == model.StatusActive {
				activeCount++
			}
		}
	}

	tokens, err := a.store.ListTokens(ctx)
	if err != nil {
		failInternal(w, err)
		return
	}

	since := time.Now().Add(-24 * time.Hour).UnixMilli()
	recentLogs, err := a.store.LogsSince(ctx, since)
	if err != nil {
		failInternal(w, err)
		return
	}

	ok(w, http.StatusOK, dashboardStats{
		ChannelCount:    len(channels),
		KeyCount:        keyCount,
		ActiveKeyCount:  activeCount,
		TokenCount:      len(tokens),
		RequestsLast24h: len(recentLogs),
	})
}

func (a *API) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := model.LogFilter{
		ChannelID: q.Get("channelId"),
		Status:    atoiOrZero(q.Get("status")),
		StartTime: atoiOrZero(q.Get("startTime")),
		EndTime:   atoiOrZero(q.Get("endTime")),
		Offset:    int(atoiOrZero(q.Get("offset"))),
		Limit:     int(atoiOrZero(q.Get("limit"))),
	}

	logs, total, err := a.store.QueryLogs(r.Context(), filter)
	if err != nil {
		failInternal(w, err)
		return
	}

	ok(w, http.StatusOK, map[string]any{"logs": logs, "total": total})
}

func atoiOrZero(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ─── Settings ───

func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.store.GetSettings(r.Context())
	if err != nil {
		failInternal(w, err)
		return
	}
	ok(w, http.StatusOK, s)
}

type settingsRequest struct {
	CheckInterval    *int64 `json:"checkInterval"`
	MaxLogsRetention *int64 `json:"maxLogsRetention"`
}

func (a *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := a.store.UpdateSettings(r.Context(), store.SettingsPatch{
		CheckInterval:    req.CheckInterval,
		MaxLogsRetention: req.MaxLogsRetention,
	})
	if err != nil {
		failInternal(w, err)
		return
	}

	ok(w, http.StatusOK, updated)
}

type rotateKeyRequest struct {
	// EncryptionKey is the new encryption passphrase. If empty, encryption
	// is disabled and secrets are stored as plaintext going forward.
	EncryptionKey string `json:"encryptionKey"`
}

// RotateKey handles POST /api/settings/rotate-key: re-encrypts every
// ApiKey.Key and Proxy.Password under a new passphrase. When clustering
// is configured it acquires the distributed lock first and broadcasts the
// new key to peers after the local rotation commits.
func (a *API) RotateKey(w http.ResponseWriter, r *http.Request) {
	rotator, supported := a.store.(store.KeyRotator)
	if !supported {
		fail(w, http.StatusBadRequest, "encryption key rotation is not supported by the current store")
		return
	}

	var req rotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var newKey []byte
	if req.EncryptionKey != "" {
		k, err := atcrypto.DeriveKey(req.EncryptionKey)
		if err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		newKey = k
	}

	if a.cluster != nil {
		if err := a.cluster.Lock(r.Context()); err != nil {
			fail(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to acquire distributed lock: %v", err))
			return
		}
		defer func() {
			if err := a.cluster.Unlock(); err != nil {
				slog.Error("failed to release key-rotation lock", "error", err)
			}
		}()
	}

	if err := rotator.RotateEncryptionKey(r.Context(), newKey); err != nil {
		logUnhandled(err)
		fail(w, http.StatusInternalServerError, fmt.Sprintf("key rotation failed: %v", err))
		return
	}

	if a.cluster != nil {
		if err := a.cluster.BroadcastNewKey(r.Context(), newKey); err != nil {
			slog.Error("key rotation succeeded locally but peer broadcast failed", "error", err)
		}
	}

	okMessage(w, http.StatusOK, "encryption key rotated")
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func logUnhandled(err error) {
	if err != nil {
		slog.Error("management api error", "error", err)
	}
}
