package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/DYLCKH/key-hub/internal/authgate"
	"github.com/DYLCKH/key-hub/internal/cluster"
	"github.com/DYLCKH/key-hub/internal/config"
	"github.com/DYLCKH/key-hub/internal/crypto"
	"github.com/DYLCKH/key-hub/internal/keychecker"
	"github.com/DYLCKH/key-hub/internal/loadbalancer"
	"github.com/DYLCKH/key-hub/internal/managementapi"
	"github.com/DYLCKH/key-hub/internal/proxydialer"
	"github.com/DYLCKH/key-hub/internal/router"
	"github.com/DYLCKH/key-hub/internal/scheduler"
	"github.com/DYLCKH/key-hub/internal/server"
	"github.com/DYLCKH/key-hub/internal/store"
	"github.com/DYLCKH/key-hub/internal/store/memory"
	"github.com/DYLCKH/key-hub/internal/store/sqlite3"
)

var (
	name    = "gatewayd"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var baseStore store.Store
	if cfg.Store.SQLite != nil {
		sq, err := sqlite3.New(ctx, cfg.Store.SQLite)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		baseStore = sq
	} else {
		baseStore = memory.New()
	}

	var secret []byte
	if cfg.Store.EncryptionKey != "" {
		secret, err = crypto.DeriveKey(cfg.Store.EncryptionKey)
		if err != nil {
			return fmt.Errorf("derive encryption key: %w", err)
		}
	}
	st := store.NewEncrypted(baseStore, secret)
	defer st.Close()

	if err := config.ApplySeed(ctx, st, cfg.Seed); err != nil {
		return fmt.Errorf("apply seed config: %w", err)
	}

	cl, err := cluster.New(cfg.Server.Alan)
	if err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}
	if cl != nil {
		go func() {
			if err := cl.Start(ctx, func(newKey []byte) {
				if err := st.RotateEncryptionKey(ctx, newKey); err != nil {
					slog.Error("peer-triggered key rotation failed", "error", err)
				}
			}); err != nil {
				slog.Error("cluster stopped", "error", err)
			}
		}()
		defer cl.Stop()
	}

	proxies := proxydialer.NewCache()
	lb := loadbalancer.New()
	checker := keychecker.New(proxies)
	sched := scheduler.New(checker, st)

	if err := sched.Start(ctx, cfg.Scheduler.Schedule); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	gate := authgate.New(st)
	rt := router.New(st, lb, proxies)
	mgmt := managementapi.New(st, checker, sched, proxies, lb, cl)

	srv, err := server.New(cfg.Server, gate, rt, mgmt)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	return srv.Start(ctx)
}
