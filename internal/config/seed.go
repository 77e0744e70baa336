package config

import (
	"context"
	"fmt"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
)

// ApplySeed provisions the Seed block into st. It is additive and
// idempotent by name: a channel, proxy, or token whose name already
// exists in the store is left untouched rather than duplicated.
func ApplySeed(ctx context.Context, st store.Store, seed Seed) error {
	proxyIDByName, err := applySeedProxies(ctx, st, seed.Proxies)
	if err != nil {
		return fmt.Errorf("seed proxies: %w", err)
	}

	if err := applySeedChannels(ctx, st, seed.Channels, proxyIDByName); err != nil {
		return fmt.Errorf("seed channels: %w", err)
	}

	if err := applySeedTokens(ctx, st, seed.Tokens); err != nil {
		return fmt.Errorf("seed tokens: %w", err)
	}

	return nil
}

func applySeedProxies(ctx context.Context, st store.Store, proxies []SeedProxy) (map[string]string, error) {
	existing, err := st.ListProxies(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(existing))
	for _, p := range existing {
		byName[p.Name] = p.ID
	}

	for _, sp := range proxies {
		if _, ok := byName[sp.Name]; ok {
			continue
		}

		created, err := st.CreateProxy(ctx, model.Proxy{
			Name:     sp.Name,
			Type:     sp.Type,
			Host:     sp.Host,
			Port:     sp.Port,
			Username: sp.Username,
			Password: sp.Password,
			Enabled:  sp.Enabled,
		})
		if err != nil {
			return nil, err
		}
		byName[created.Name] = created.ID
	}

	return byName, nil
}

func applySeedChannels(ctx context.Context, st store.Store, channels []SeedChannel, proxyIDByName map[string]string) error {
	existing, err := st.ListChannels(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]bool, len(existing))
	for _, c := range existing {
		byName[c.Name] = true
	}

	for _, sc := range channels {
		if byName[sc.Name] {
			continue
		}

		var proxyID string
		if sc.ProxyName != "" {
			proxyID = proxyIDByName[sc.ProxyName]
		}

		created, err := st.CreateChannel(ctx, model.Channel{
			Name:                sc.Name,
			Type:                sc.Type,
			BaseURL:             sc.BaseURL,
			TestMethod:          sc.TestMethod,
			TestModel:           sc.TestModel,
			ProxyID:             proxyID,
			LoadBalanceStrategy: sc.LoadBalanceStrategy,
			Enabled:             sc.Enabled,
		})
		if err != nil {
			return err
		}

		if len(sc.Keys) > 0 {
			keys := make([]model.ApiKey, 0, len(sc.Keys))
			for _, k := range sc.Keys {
				if k == "" {
					continue
				}
				keys = append(keys, model.ApiKey{
					ChannelID: created.ID,
					Key:       k,
					Status:    model.StatusUnknown,
					Priority:  50,
					Weight:    50,
				})
			}
			if _, err := st.CreateKeys(ctx, keys); err != nil {
				return err
			}
		}
	}

	return nil
}

func applySeedTokens(ctx context.Context, st store.Store, tokens []SeedToken) error {
	existing, err := st.ListTokens(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]bool, len(existing))
	for _, t := range existing {
		byName[t.Name] = true
	}

	for _, st_ := range tokens {
		if byName[st_.Name] || st_.Token == "" {
			continue
		}

		if _, err := st.CreateToken(ctx, model.Token{
			Name:            st_.Name,
			Token:           st_.Token,
			AllowedChannels: st_.AllowedChannels,
			RateLimit:       st_.RateLimit,
			Enabled:         st_.Enabled,
		}); err != nil {
			return err
		}
	}

	return nil
}
