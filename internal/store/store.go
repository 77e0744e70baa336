// Package store defines the persistence contract shared by every backend
// (memory, sqlite3, ...). The Store is the sole owner of persisted state:
// it serializes all mutations and presents snapshot-concurrent reads.
package store

import (
	"context"
	"errors"

	"github.com/DYLCKH/key-hub/internal/model"
)

// ErrNotFound is never returned by lookups for a missing id — per spec a
// missing id is not an error, callers get a nil result. It is reserved for
// genuine storage failures (e.g. a corrupt row that can't be decoded).
var ErrNotFound = errors.New("store: not found")

// KeyRotator is implemented by stores that support re-encrypting secrets
// at rest under a new key (Encrypted does; a bare Memory does not). A nil
// newKey disables encryption going forward.
type KeyRotator interface {
	RotateEncryptionKey(ctx context.Context, newKey []byte) error
}

// Store is the sole owner of persisted gateway state.
type Store interface {
	// Channels
	ListChannels(ctx context.Context) ([]model.Channel, error)
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	CreateChannel(ctx context.Context, ch model.Channel) (*model.Channel, error)
	UpdateChannel(ctx context.Context, id string, patch ChannelPatch) (*model.Channel, error)
	// DeleteChannel cascades: every ApiKey with ChannelID=id is removed
	// in the same atomic unit.
	DeleteChannel(ctx context.Context, id string) error

	// Keys
	ListKeys(ctx context.Context, channelID string) ([]model.ApiKey, error)
	GetKey(ctx context.Context, id string) (*model.ApiKey, error)
	ActiveKeysFor(ctx context.Context, channelID string) ([]model.ApiKey, error)
	CreateKey(ctx context.Context, k model.ApiKey) (*model.ApiKey, error)
	CreateKeys(ctx context.Context, ks []model.ApiKey) ([]model.ApiKey, error)
	UpdateKey(ctx context.Context, id string, patch KeyPatch) (*model.ApiKey, error)
	DeleteKey(ctx context.Context, id string) error

	// Proxies
	ListProxies(ctx context.Context) ([]model.Proxy, error)
	GetProxy(ctx context.Context, id string) (*model.Proxy, error)
	CreateProxy(ctx context.Context, p model.Proxy) (*model.Proxy, error)
	UpdateProxy(ctx context.Context, id string, patch ProxyPatch) (*model.Proxy, error)
	// DeleteProxy clears ProxyID on every referencing Channel in the same
	// atomic unit (weak-reference semantics).
	DeleteProxy(ctx context.Context, id string) error

	// Tokens
	ListTokens(ctx context.Context) ([]model.Token, error)
	GetToken(ctx context.Context, id string) (*model.Token, error)
	TokenByValue(ctx context.Context, value string) (*model.Token, error)
	CreateToken(ctx context.Context, t model.Token) (*model.Token, error)
	UpdateToken(ctx context.Context, id string, patch TokenPatch) (*model.Token, error)
	DeleteToken(ctx context.Context, id string) error

	// Logs
	AppendLog(ctx context.Context, l model.RequestLog) error
	QueryLogs(ctx context.Context, f model.LogFilter) ([]model.RequestLog, int, error)
	LogsSince(ctx context.Context, ts int64) ([]model.RequestLog, error)

	// Settings
	GetSettings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, patch SettingsPatch) (model.Settings, error)

	Close()
}

// Patch types carry optional fields; a nil pointer means "leave unchanged".
// An empty patch is a no-op aside from touching UpdatedAt, matching the
// round-trip/idempotence property in the testable-properties section.

type ChannelPatch struct {
	Name                *string
	Type                *model.ChannelType
	BaseURL             *string
	TestMethod          *model.TestMethod
	TestModel           *string
	ProxyID             *string
	ClearProxyID        bool
	LoadBalanceStrategy *model.LoadBalanceStrategy
	Enabled             *bool
}

type KeyPatch struct {
	Key         *string
	Alias       *string
	Status      *model.KeyStatus
	Priority    *int
	Weight      *int
	Balance     *float64
	LastChecked *int64
	LastUsed    *int64
	ErrorCount  *int
	TotalRequests *int
}

type ProxyPatch struct {
	Name     *string
	Type     *model.ProxyType
	Host     *string
	Port     *int
	Username *string
	Password *string
	Enabled  *bool
}

type TokenPatch struct {
	Name            *string
	AllowedChannels *[]string
	RateLimit       **int
	Enabled         *bool
	LastUsed        *int64
}

type SettingsPatch struct {
	CheckInterval    *int64
	MaxLogsRetention *int64
}
