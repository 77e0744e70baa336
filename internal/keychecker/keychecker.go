// Package keychecker executes health probes against provider channels and
// classifies API keys as active, invalid, or quota_exceeded. KeyChecker is
// the sole writer of ApiKey.Status.
package keychecker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/provideradapter"
	"github.com/DYLCKH/key-hub/internal/proxydialer"
	"github.com/DYLCKH/key-hub/internal/store"
)

const (
	probeTimeout  = 30 * time.Second
	batchSize     = 5
	batchPause    = 1 * time.Second
	schedulerPace = 500 * time.Millisecond
)

// Result is the outcome of a single probe.
type Result struct {
	Status  model.KeyStatus
	Balance *float64
	Error   string
}

// KeyChecker executes health probes. Proxy transports are cached across
// checks to amortise connection pooling.
type KeyChecker struct {
	proxies *proxydialer.Cache
}

func New(proxies *proxydialer.Cache) *KeyChecker {
	return &KeyChecker{proxies: proxies}
}

// Check executes exactly one HTTP probe using the channel's adapter,
// testMethod, and proxy (if any). Reports exactly one of
// {active, invalid, quota_exceeded}; never disabled or unknown.
func (kc *KeyChecker) Check(ctx context.Context, ch model.Channel, key model.ApiKey, proxy *model.Proxy) Result {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	adapter, err := provideradapter.For(ch.Type)
	if err != nil {
		return Result{Status: model.StatusInvalid, Error: err.Error()}
	}

	transport, err := kc.proxies.Transport(proxy)
	if err != nil {
		return Result{Status: model.StatusInvalid, Error: err.Error()}
	}
	client := &http.Client{Transport: transport}

	req, err := kc.buildProbeRequest(ctx, adapter, ch, key)
	if err != nil {
		return Result{Status: model.StatusInvalid, Error: err.Error()}
	}

	resp, err := client.Do(req)
	if err != nil {
		class := provideradapter.ClassifyTransportError(err)
		return Result{Status: class.Status, Error: class.Error}
	}
	defer resp.Body.Close()

	class := provideradapter.ClassifyResponse(resp.StatusCode, resp.Body)
	result := Result{Status: class.Status, Error: class.Error}

	if ch.TestMethod == model.TestMethodBalance && class.Status == model.StatusActive {
		if bal, ok := extractBalance(resp); ok {
			result.Balance = &bal
		}
	}

	return result
}

func (kc *KeyChecker) buildProbeRequest(ctx context.Context, adapter provideradapter.Adapter, ch model.Channel, key model.ApiKey) (*http.Request, error) {
	switch ch.TestMethod {
	case model.TestMethodModels:
		u := adapter.ModelsEndpoint(ch.BaseURL, key.Key)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		adapter.SetAuthHeaders(req, key.Key)
		return req, nil

	case model.TestMethodBalance:
		u, ok := adapter.BalanceEndpoint(ch.BaseURL)
		if !ok {
			return nil, fmt.Errorf("channel type %q does not support balance probes", ch.Type)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		adapter.SetAuthHeaders(req, key.Key)
		return req, nil

	default: // chat
		probeModel := ch.TestModel
		if probeModel == "" {
			probeModel = adapter.DefaultProbeModel
		}
		body := adapter.ProbeChatBody(probeModel)
		u := adapter.ChatEndpoint(ch.BaseURL, key.Key, probeModel)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		adapter.SetAuthHeaders(req, key.Key)
		return req, nil
	}
}

func extractBalance(resp *http.Response) (float64, bool) {
	var payload struct {
		TotalAvailable float64 `json:"total_available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, false
	}
	return payload.TotalAvailable, true
}

// CheckAll iterates enabled channels and, for each, all non-disabled keys,
// in batches of batchSize concurrent probes with batchPause between
// batches. Used by the management-triggered bulk "check all" endpoint.
func (kc *KeyChecker) CheckAll(ctx context.Context, st store.Store) error {
	channels, err := st.ListChannels(ctx)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}

		keys, err := st.ListKeys(ctx, ch.ID)
		if err != nil {
			return err
		}

		proxy, err := resolveProxy(ctx, st, ch.ProxyID)
		if err != nil {
			return err
		}

		pending := make([]model.ApiKey, 0, len(keys))
		for _, k := range keys {
			if k.Status != model.StatusDisabled {
				pending = append(pending, k)
			}
		}

		for i := 0; i < len(pending); i += batchSize {
			end := i + batchSize
			if end > len(pending) {
				end = len(pending)
			}
			kc.runBatch(ctx, st, ch, proxy, pending[i:end])

			if end < len(pending) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(batchPause):
				}
			}
		}
	}

	return nil
}

// CheckOne looks up the channel for keyID and invokes Check once,
// persisting the result. Used by the Scheduler's single-key check, which
// serves the management API's per-key check endpoint.
func (kc *KeyChecker) CheckOne(ctx context.Context, st store.Store, keyID string) error {
	key, err := st.GetKey(ctx, keyID)
	if err != nil {
		return err
	}
	if key == nil {
		return nil
	}

	ch, err := st.GetChannel(ctx, key.ChannelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return nil
	}

	proxy, err := resolveProxy(ctx, st, ch.ProxyID)
	if err != nil {
		return err
	}

	kc.runOne(ctx, st, *ch, proxy, *key)

	return nil
}

// CheckAllScheduled mirrors CheckAll's selection but runs every probe
// serially with a schedulerPace delay between checks, per the Scheduler
// path's pacing rule (spec.md's open-question resolution: serial+500ms
// for the cron path, batched for the management bulk-trigger path).
func (kc *KeyChecker) CheckAllScheduled(ctx context.Context, st store.Store) error {
	channels, err := st.ListChannels(ctx)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}

		keys, err := st.ListKeys(ctx, ch.ID)
		if err != nil {
			return err
		}

		proxy, err := resolveProxy(ctx, st, ch.ProxyID)
		if err != nil {
			return err
		}

		for _, k := range keys {
			if k.Status == model.StatusDisabled {
				continue
			}

			kc.runOne(ctx, st, ch, proxy, k)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(schedulerPace):
			}
		}
	}

	return nil
}

func (kc *KeyChecker) runBatch(ctx context.Context, st store.Store, ch model.Channel, proxy *model.Proxy, keys []model.ApiKey) {
	done := make(chan struct{}, len(keys))
	for _, k := range keys {
		go func(k model.ApiKey) {
			defer func() { done <- struct{}{} }()
			kc.runOne(ctx, st, ch, proxy, k)
		}(k)
	}
	for range keys {
		<-done
	}
}

func (kc *KeyChecker) runOne(ctx context.Context, st store.Store, ch model.Channel, proxy *model.Proxy, k model.ApiKey) {
	result := kc.Check(ctx, ch, k, proxy)

	now := time.Now().UnixMilli()
	errCount := k.ErrorCount + 1
	if result.Status == model.StatusActive {
		errCount = 0
	}

	patch := store.KeyPatch{
		Status:      &result.Status,
		LastChecked: &now,
		ErrorCount:  &errCount,
	}
	if result.Balance != nil {
		patch.Balance = result.Balance
	}

	if _, err := st.UpdateKey(ctx, k.ID, patch); err != nil {
		// Best-effort: a failed status write does not abort the batch.
		return
	}
}

func resolveProxy(ctx context.Context, st store.Store, proxyID string) (*model.Proxy, error) {
	if proxyID == "" {
		return nil, nil
	}
	return st.GetProxy(ctx, proxyID)
}
