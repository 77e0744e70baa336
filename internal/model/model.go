// Package model defines the persisted entities of the gateway: Channel,
// ApiKey, Proxy, Token, RequestLog, and the Settings singleton.
package model

// ChannelType identifies the provider dialect a Channel speaks.
type ChannelType string

const (
	ChannelOpenAI           ChannelType = "openai"
	ChannelAnthropic        ChannelType = "anthropic"
	ChannelGemini           ChannelType = "gemini"
	ChannelOpenAICompatible ChannelType = "openai-compatible"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelOpenAI, ChannelAnthropic, ChannelGemini, ChannelOpenAICompatible:
		return true
	}
	return false
}

// TestMethod selects the probe shape KeyChecker uses against a Channel.
type TestMethod string

const (
	TestMethodBalance TestMethod = "balance"
	TestMethodChat     TestMethod = "chat"
	TestMethodModels   TestMethod = "models"
)

func (m TestMethod) Valid() bool {
	switch m {
	case TestMethodBalance, TestMethodChat, TestMethodModels:
		return true
	}
	return false
}

// LoadBalanceStrategy selects how LoadBalancer picks among active keys.
type LoadBalanceStrategy string

const (
	StrategyRoundRobin LoadBalanceStrategy = "round-robin"
	StrategyWeighted   LoadBalanceStrategy = "weighted"
	StrategyPriority   LoadBalanceStrategy = "priority"
	StrategyLeastUsed  LoadBalanceStrategy = "least-used"
)

func (s LoadBalanceStrategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyWeighted, StrategyPriority, StrategyLeastUsed:
		return true
	}
	return false
}

// KeyStatus is the health classification of an ApiKey, rewritten solely
// by KeyChecker.
type KeyStatus string

const (
	StatusActive        KeyStatus = "active"
	StatusInvalid       KeyStatus = "invalid"
	StatusQuotaExceeded KeyStatus = "quota_exceeded"
	StatusDisabled      KeyStatus = "disabled"
	StatusUnknown       KeyStatus = "unknown"
)

// ProxyType identifies the outbound tunnel protocol of a Proxy.
type ProxyType string

const (
	ProxySOCKS5  ProxyType = "socks5"
	ProxySOCKS5h ProxyType = "socks5h"
	ProxyHTTP    ProxyType = "http"
	ProxyHTTPS   ProxyType = "https"
)

func (t ProxyType) Valid() bool {
	switch t {
	case ProxySOCKS5, ProxySOCKS5h, ProxyHTTP, ProxyHTTPS:
		return true
	}
	return false
}

// Channel is a configured upstream LLM provider endpoint.
type Channel struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Type                ChannelType         `json:"type"`
	BaseURL             string              `json:"baseUrl"`
	TestMethod          TestMethod          `json:"testMethod"`
	TestModel           string              `json:"testModel,omitempty"`
	ProxyID             string              `json:"proxyId,omitempty"`
	LoadBalanceStrategy LoadBalanceStrategy `json:"loadBalanceStrategy"`
	Enabled             bool                `json:"enabled"`
	CreatedAt           int64               `json:"createdAt"`
	UpdatedAt           int64               `json:"updatedAt"`
}

// ApiKey is one credential of one provider Channel.
type ApiKey struct {
	ID            string    `json:"id"`
	ChannelID     string    `json:"channelId"`
	Key           string    `json:"key"`
	Alias         string    `json:"alias,omitempty"`
	Status        KeyStatus `json:"status"`
	Priority      int       `json:"priority"`
	Weight        int       `json:"weight"`
	Balance       *float64  `json:"balance,omitempty"`
	LastChecked   *int64    `json:"lastChecked,omitempty"`
	LastUsed      *int64    `json:"lastUsed,omitempty"`
	ErrorCount    int       `json:"errorCount"`
	TotalRequests int       `json:"totalRequests"`
	CreatedAt     int64     `json:"createdAt"`
	UpdatedAt     int64     `json:"updatedAt"`
}

// Proxy is an outbound tunnel configuration, weakly referenced by Channel.
type Proxy struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      ProxyType `json:"type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// Token is a management-issued bearer for the OpenAI-compatible surface.
type Token struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Token           string   `json:"token"`
	AllowedChannels []string `json:"allowedChannels"`
	RateLimit       *int     `json:"rateLimit,omitempty"`
	Enabled         bool     `json:"enabled"`
	CreatedAt       int64    `json:"createdAt"`
	LastUsed        *int64   `json:"lastUsed,omitempty"`
}

// RequestLog records one relay outcome.
type RequestLog struct {
	ID           string `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	TokenID      string `json:"tokenId,omitempty"`
	ChannelID    string `json:"channelId"`
	KeyID        string `json:"keyId"`
	Model        string `json:"model"`
	Path         string `json:"path"`
	Method       string `json:"method"`
	Status       int    `json:"status"`
	Latency      int64  `json:"latency"`
	InputTokens  *int   `json:"inputTokens,omitempty"`
	OutputTokens *int   `json:"outputTokens,omitempty"`
	Error        string `json:"error,omitempty"`
	Streaming    bool   `json:"streaming"`
}

// LogFilter composes AND-ed filters for Store.QueryLogs.
type LogFilter struct {
	ChannelID string
	Status    int
	StartTime int64
	EndTime   int64
	Offset    int
	Limit     int
}

// Settings is the singleton gateway configuration row.
type Settings struct {
	CheckInterval    int64 `json:"checkInterval"`
	MaxLogsRetention int64 `json:"maxLogsRetention"`
}

// DefaultSettings returns the spec-mandated defaults: hourly checks,
// a week of log retention.
func DefaultSettings() Settings {
	return Settings{
		CheckInterval:    3_600_000,
		MaxLogsRetention: 604_800_000,
	}
}
