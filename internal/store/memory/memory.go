// Package memory is an in-memory implementation of store.Store. Data does
// not survive process restarts; round-robin cursors, rate-limit buckets,
// and this store's own maps are all process-local by the same design
// rationale.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
)

// Memory is an in-memory implementation of store.Store.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]model.Channel
	keys     map[string]model.ApiKey
	proxies  map[string]model.Proxy
	tokens   map[string]model.Token
	// tokensByValue indexes tokens by their raw secret for O(1) auth lookups.
	tokensByValue map[string]string // token value -> id
	logs          []model.RequestLog
	settings      model.Settings
}

func New() *Memory {
	slog.Info("using in-memory store (data will not persist across restarts)")

	return &Memory{
		channels:      make(map[string]model.Channel),
		keys:          make(map[string]model.ApiKey),
		proxies:       make(map[string]model.Proxy),
		tokens:        make(map[string]model.Token),
		tokensByValue: make(map[string]string),
		settings:      model.DefaultSettings(),
	}
}

func (m *Memory) Close() {}

func newID() string {
	return ulid.Make().String()
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

// ─── Channels ───

func (m *Memory) ListChannels(_ context.Context) ([]model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b model.Channel) int {
		return cmpString(a.ID, b.ID)
	})

	return result, nil
}

func (m *Memory) GetChannel(_ context.Context, id string) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.channels[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) CreateChannel(_ context.Context, ch model.Channel) (*model.Channel, error) {
	normalized, err := normalize(ch)
	if err != nil {
		return nil, err
	}

	now := nowMS()
	normalized.ID = newID()
	normalized.CreatedAt = now
	normalized.UpdatedAt = now
	if normalized.LoadBalanceStrategy == "" {
		normalized.LoadBalanceStrategy = model.StrategyRoundRobin
	}
	if normalized.TestMethod == "" {
		normalized.TestMethod = model.TestMethodChat
	}

	m.mu.Lock()
	m.channels[normalized.ID] = normalized
	m.mu.Unlock()

	return &normalized, nil
}

func (m *Memory) UpdateChannel(_ context.Context, id string, patch store.ChannelPatch) (*model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.channels[id]
	if !ok {
		return nil, nil
	}

	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.Type != nil {
		existing.Type = *patch.Type
	}
	if patch.BaseURL != nil {
		existing.BaseURL = *patch.BaseURL
	}
	if patch.TestMethod != nil {
		existing.TestMethod = *patch.TestMethod
	}
	if patch.TestModel != nil {
		existing.TestModel = *patch.TestModel
	}
	if patch.ClearProxyID {
		existing.ProxyID = ""
	} else if patch.ProxyID != nil {
		existing.ProxyID = *patch.ProxyID
	}
	if patch.LoadBalanceStrategy != nil {
		existing.LoadBalanceStrategy = *patch.LoadBalanceStrategy
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	existing.UpdatedAt = nowMS()

	m.channels[id] = existing

	return &existing, nil
}

func (m *Memory) DeleteChannel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.channels, id)

	// Cascade: remove every key belonging to this channel in the same unit.
	for kid, k := range m.keys {
		if k.ChannelID == id {
			delete(m.keys, kid)
		}
	}

	return nil
}

// ─── Keys ───

func (m *Memory) ListKeys(_ context.Context, channelID string) ([]model.ApiKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.ApiKey, 0, len(m.keys))
	for _, k := range m.keys {
		if channelID != "" && k.ChannelID != channelID {
			continue
		}
		result = append(result, k)
	}
	slices.SortFunc(result, func(a, b model.ApiKey) int {
		return cmpString(a.ID, b.ID)
	})

	return result, nil
}

func (m *Memory) GetKey(_ context.Context, id string) (*model.ApiKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[id]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m *Memory) ActiveKeysFor(_ context.Context, channelID string) ([]model.ApiKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.ApiKey, 0)
	for _, k := range m.keys {
		if k.ChannelID == channelID && k.Status == model.StatusActive {
			result = append(result, k)
		}
	}
	slices.SortFunc(result, func(a, b model.ApiKey) int {
		return cmpString(a.ID, b.ID)
	})

	return result, nil
}

func (m *Memory) CreateKey(_ context.Context, k model.ApiKey) (*model.ApiKey, error) {
	normalized, err := normalizeKey(k)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.keys[normalized.ID] = normalized
	m.mu.Unlock()

	return &normalized, nil
}

func (m *Memory) CreateKeys(_ context.Context, ks []model.ApiKey) ([]model.ApiKey, error) {
	normalized := make([]model.ApiKey, 0, len(ks))
	for _, k := range ks {
		n, err := normalizeKey(k)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}

	m.mu.Lock()
	for _, k := range normalized {
		m.keys[k.ID] = k
	}
	m.mu.Unlock()

	return normalized, nil
}

func normalizeKey(k model.ApiKey) (model.ApiKey, error) {
	// Round-trip through JSON to normalize zero values the same way a
	// real DB row would on read-back.
	raw, err := json.Marshal(k)
	if err != nil {
		return model.ApiKey{}, fmt.Errorf("marshal key: %w", err)
	}
	var n model.ApiKey
	if err := json.Unmarshal(raw, &n); err != nil {
		return model.ApiKey{}, fmt.Errorf("unmarshal key: %w", err)
	}

	now := nowMS()
	n.ID = newID()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = model.StatusUnknown
	}
	if n.Priority == 0 {
		n.Priority = 50
	}
	if n.Weight == 0 {
		n.Weight = 50
	}

	return n, nil
}

func (m *Memory) UpdateKey(_ context.Context, id string, patch store.KeyPatch) (*model.ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.keys[id]
	if !ok {
		return nil, nil
	}

	if patch.Key != nil {
		existing.Key = *patch.Key
	}
	if patch.Alias != nil {
		existing.Alias = *patch.Alias
	}
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.Priority != nil {
		existing.Priority = *patch.Priority
	}
	if patch.Weight != nil {
		existing.Weight = *patch.Weight
	}
	if patch.Balance != nil {
		existing.Balance = patch.Balance
	}
	if patch.LastChecked != nil {
		existing.LastChecked = patch.LastChecked
	}
	if patch.LastUsed != nil {
		existing.LastUsed = patch.LastUsed
	}
	if patch.ErrorCount != nil {
		existing.ErrorCount = *patch.ErrorCount
	}
	if patch.TotalRequests != nil {
		existing.TotalRequests = *patch.TotalRequests
	}
	existing.UpdatedAt = nowMS()

	m.keys[id] = existing

	return &existing, nil
}

func (m *Memory) DeleteKey(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.keys, id)
	m.mu.Unlock()

	return nil
}

// ─── Proxies ───

func (m *Memory) ListProxies(_ context.Context) ([]model.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b model.Proxy) int {
		return cmpString(a.ID, b.ID)
	})

	return result, nil
}

func (m *Memory) GetProxy(_ context.Context, id string) (*model.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.proxies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) CreateProxy(_ context.Context, p model.Proxy) (*model.Proxy, error) {
	now := nowMS()
	p.ID = newID()
	p.CreatedAt = now
	p.UpdatedAt = now

	m.mu.Lock()
	m.proxies[p.ID] = p
	m.mu.Unlock()

	return &p, nil
}

func (m *Memory) UpdateProxy(_ context.Context, id string, patch store.ProxyPatch) (*model.Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.proxies[id]
	if !ok {
		return nil, nil
	}

	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.Type != nil {
		existing.Type = *patch.Type
	}
	if patch.Host != nil {
		existing.Host = *patch.Host
	}
	if patch.Port != nil {
		existing.Port = *patch.Port
	}
	if patch.Username != nil {
		existing.Username = *patch.Username
	}
	if patch.Password != nil {
		existing.Password = *patch.Password
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	existing.UpdatedAt = nowMS()

	m.proxies[id] = existing

	return &existing, nil
}

func (m *Memory) DeleteProxy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.proxies, id)

	// Weak-reference cascade: clear proxyId on every referencing channel.
	for cid, c := range m.channels {
		if c.ProxyID == id {
			c.ProxyID = ""
			c.UpdatedAt = nowMS()
			m.channels[cid] = c
		}
	}

	return nil
}

// ─── Tokens ───

func (m *Memory) ListTokens(_ context.Context) ([]model.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		result = append(result, t)
	}
	slices.SortFunc(result, func(a, b model.Token) int {
		return cmpString(a.ID, b.ID)
	})

	return result, nil
}

func (m *Memory) GetToken(_ context.Context, id string) (*model.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) TokenByValue(_ context.Context, value string) (*model.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.tokensByValue[value]
	if !ok {
		return nil, nil
	}
	t, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) CreateToken(_ context.Context, t model.Token) (*model.Token, error) {
	t.ID = newID()
	t.CreatedAt = nowMS()
	if t.AllowedChannels == nil {
		t.AllowedChannels = []string{}
	}

	m.mu.Lock()
	m.tokens[t.ID] = t
	m.tokensByValue[t.Token] = t.ID
	m.mu.Unlock()

	return &t, nil
}

func (m *Memory) UpdateToken(_ context.Context, id string, patch store.TokenPatch) (*model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}

	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.AllowedChannels != nil {
		existing.AllowedChannels = *patch.AllowedChannels
	}
	if patch.RateLimit != nil {
		existing.RateLimit = *patch.RateLimit
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.LastUsed != nil {
		existing.LastUsed = patch.LastUsed
	}

	m.tokens[id] = existing

	return &existing, nil
}

func (m *Memory) DeleteToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tokens[id]; ok {
		delete(m.tokensByValue, t.Token)
	}
	delete(m.tokens, id)

	return nil
}

// ─── Logs ───

func (m *Memory) AppendLog(_ context.Context, l model.RequestLog) error {
	l.ID = newID()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs = append(m.logs, l)

	// Garbage-collect logs older than now-maxLogsRetention in the same unit.
	cutoff := nowMS() - m.settings.MaxLogsRetention
	kept := m.logs[:0]
	for _, existing := range m.logs {
		if existing.Timestamp >= cutoff {
			kept = append(kept, existing)
		}
	}
	m.logs = kept

	return nil
}

func (m *Memory) QueryLogs(_ context.Context, f model.LogFilter) ([]model.RequestLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]model.RequestLog, 0, len(m.logs))
	for _, l := range m.logs {
		if f.ChannelID != "" && l.ChannelID != f.ChannelID {
			continue
		}
		if f.Status != 0 && l.Status != f.Status {
			continue
		}
		if f.StartTime != 0 && l.Timestamp < f.StartTime {
			continue
		}
		if f.EndTime != 0 && l.Timestamp > f.EndTime {
			continue
		}
		matched = append(matched, l)
	}

	slices.SortFunc(matched, func(a, b model.RequestLog) int {
		if a.Timestamp == b.Timestamp {
			return 0
		}
		if a.Timestamp > b.Timestamp {
			return -1
		}
		return 1
	})

	total := len(matched)

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if offset >= total {
		return []model.RequestLog{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]model.RequestLog, end-offset)
	copy(page, matched[offset:end])

	return page, total, nil
}

func (m *Memory) LogsSince(_ context.Context, ts int64) ([]model.RequestLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.RequestLog, 0)
	for _, l := range m.logs {
		if l.Timestamp >= ts {
			result = append(result, l)
		}
	}
	slices.SortFunc(result, func(a, b model.RequestLog) int {
		if a.Timestamp == b.Timestamp {
			return 0
		}
		if a.Timestamp > b.Timestamp {
			return -1
		}
		return 1
	})

	return result, nil
}

// ─── Settings ───

func (m *Memory) GetSettings(_ context.Context) (model.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.settings, nil
}

func (m *Memory) UpdateSettings(_ context.Context, patch store.SettingsPatch) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patch.CheckInterval != nil {
		m.settings.CheckInterval = *patch.CheckInterval
	}
	if patch.MaxLogsRetention != nil {
		m.settings.MaxLogsRetention = *patch.MaxLogsRetention
	}

	return m.settings, nil
}

// ─── helpers ───

func normalize(ch model.Channel) (model.Channel, error) {
	raw, err := json.Marshal(ch)
	if err != nil {
		return model.Channel{}, fmt.Errorf("marshal channel: %w", err)
	}
	var n model.Channel
	if err := json.Unmarshal(raw, &n); err != nil {
		return model.Channel{}, fmt.Errorf("unmarshal channel: %w", err)
	}
	return n, nil
}

func cmpString(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

var _ store.Store = (*Memory)(nil)
