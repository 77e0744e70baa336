// Package config loads gatewayd's configuration via chu, the same
// layered env/file/Consul/Vault loader the teacher uses, and applies the
// resulting log level through logi.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"

	"github.com/DYLCKH/key-hub/internal/model"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Seed optionally provisions channels, keys, proxies, and tokens at
	// startup, for deployments that prefer declarative config over the
	// management API. Seeding is additive and idempotent by name: an
	// existing channel/proxy/token with the same name is left untouched.
	Seed Seed `cfg:"seed"`

	Scheduler Scheduler `cfg:"scheduler"`

	Store     Store       `cfg:"store"`
	Server    Server      `cfg:"server"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// Scheduler configures the periodic key-health-check cron job.
type Scheduler struct {
	// Schedule is a standard 5-field cron expression. Defaults to hourly.
	Schedule string `cfg:"schedule" default:"0 * * * *"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"3456"`
	Host string `cfg:"host"`

	// ForwardAuth, if set, forwards admin-surface auth decisions to an
	// external authentication service ahead of the gateway's own
	// AdminToken check.
	ForwardAuth *mforwardauth.ForwardAuth `cfg:"forward_auth"`

	// AdminToken, if set, protects the /api/* management endpoints with
	// bearer token authentication. If empty, every management request is
	// rejected with 403 — it is never left open unauthenticated.
	AdminToken string `cfg:"admin_token" log:"-"`

	// Alan, if set, enables distributed clustering via UDP peer discovery,
	// used here to broadcast encryption key rotation across gatewayd
	// instances sharing one store.
	Alan *alan.Config `cfg:"alan"`
}

type Store struct {
	SQLite *StoreSQLite `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption at rest for
	// ApiKey.Key and Proxy.Password. The key can be any non-empty string;
	// it is hashed to 32 bytes internally via crypto.DeriveKey. When
	// empty, secrets are stored in cleartext.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// Seed declares initial rows to provision when the store is empty of them.
type Seed struct {
	Channels []SeedChannel `cfg:"channels"`
	Proxies  []SeedProxy   `cfg:"proxies"`
	Tokens   []SeedToken   `cfg:"tokens"`
}

type SeedChannel struct {
	Name                string                    `cfg:"name" json:"name"`
	Type                model.ChannelType         `cfg:"type" json:"type"`
	BaseURL             string                    `cfg:"base_url" json:"base_url"`
	TestMethod          model.TestMethod          `cfg:"test_method" json:"test_method"`
	TestModel           string                    `cfg:"test_model" json:"test_model"`
	ProxyName           string                    `cfg:"proxy_name" json:"proxy_name"`
	LoadBalanceStrategy model.LoadBalanceStrategy `cfg:"load_balance_strategy" json:"load_balance_strategy"`
	Enabled             bool                      `cfg:"enabled" default:"true" json:"enabled"`

	// Keys are the credential values to provision under this channel.
	Keys []string `cfg:"keys" log:"-"`
}

type SeedProxy struct {
	Name     string          `cfg:"name" json:"name"`
	Type     model.ProxyType `cfg:"type" json:"type"`
	Host     string          `cfg:"host" json:"host"`
	Port     int             `cfg:"port" json:"port"`
	Username string          `cfg:"username" json:"username"`
	Password string          `cfg:"password" log:"-"`
	Enabled  bool            `cfg:"enabled" default:"true" json:"enabled"`
}

type SeedToken struct {
	Name            string   `cfg:"name" json:"name"`
	Token           string   `cfg:"token" log:"-"`
	AllowedChannels []string `cfg:"allowed_channels" json:"allowed_channels"`
	RateLimit       *int     `cfg:"rate_limit" json:"rate_limit"`
	Enabled         bool     `cfg:"enabled" default:"true" json:"enabled"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("KH_")))); err != nil {
		return nil, err
	}

	// A plain PORT variable, when set, overrides the configured server port.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
