package memory

import (
	"context"
	"testing"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
)

func TestDeleteChannelCascadesKeys(t *testing.T) {
	ctx := context.Background()
	m := New()

	ch, err := m.CreateChannel(ctx, model.Channel{Name: "chan-1", Type: model.ChannelOpenAI})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	k1, err := m.CreateKey(ctx, model.ApiKey{ChannelID: ch.ID, Key: "sk-1"})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	k2, err := m.CreateKey(ctx, model.ApiKey{ChannelID: ch.ID, Key: "sk-2"})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	if err := m.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}

	if got, _ := m.GetKey(ctx, k1.ID); got != nil {
		t.Fatalf("expected key %s to be cascaded away, still present: %+v", k1.ID, got)
	}
	if got, _ := m.GetKey(ctx, k2.ID); got != nil {
		t.Fatalf("expected key %s to be cascaded away, still present: %+v", k2.ID, got)
	}
}

func TestDeleteProxyClearsReferencingChannels(t *testing.T) {
	ctx := context.Background()
	m := New()

	proxy, err := m.CreateProxy(ctx, model.Proxy{Name: "corp-proxy", Host: "proxy.internal", Port: 1080})
	if err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}

	ch, err := m.CreateChannel(ctx, model.Channel{Name: "chan-1", Type: model.ChannelOpenAI, ProxyID: proxy.ID})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	if err := m.DeleteProxy(ctx, proxy.ID); err != nil {
		t.Fatalf("DeleteProxy: %v", err)
	}

	got, err := m.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if got.ProxyID != "" {
		t.Fatalf("expected channel's ProxyID to be cleared, got %q", got.ProxyID)
	}
}

func TestUpdateChannelClearProxyIDTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	m := New()

	proxy, _ := m.CreateProxy(ctx, model.Proxy{Name: "p1", Host: "h", Port: 1})
	ch, _ := m.CreateChannel(ctx, model.Channel{Name: "chan-1", Type: model.ChannelOpenAI, ProxyID: proxy.ID})

	otherProxyID := "irrelevant-since-clear-wins"
	got, err := m.UpdateChannel(ctx, ch.ID, store.ChannelPatch{
		ClearProxyID: true,
		ProxyID:      &otherProxyID,
	})
	if err != nil {
		t.Fatalf("UpdateChannel: %v", err)
	}
	if got.ProxyID != "" {
		t.Fatalf("ClearProxyID should win over a concurrently-set ProxyID patch, got %q", got.ProxyID)
	}
}

func TestActiveKeysForFiltersByStatusAndChannel(t *testing.T) {
	ctx := context.Background()
	m := New()

	ch1, _ := m.CreateChannel(ctx, model.Channel{Name: "c1", Type: model.ChannelOpenAI})
	ch2, _ := m.CreateChannel(ctx, model.Channel{Name: "c2", Type: model.ChannelOpenAI})

	active, _ := m.CreateKey(ctx, model.ApiKey{ChannelID: ch1.ID, Key: "sk-active"})
	inactive, _ := m.CreateKey(ctx, model.ApiKey{ChannelID: ch1.ID, Key: "sk-inactive"})
	otherChannel, _ := m.CreateKey(ctx, model.ApiKey{ChannelID: ch2.ID, Key: "sk-other"})

	status := model.StatusActive
	if _, err := m.UpdateKey(ctx, active.ID, store.KeyPatch{Status: &status}); err != nil {
		t.Fatalf("UpdateKey: %v", err)
	}

	result, err := m.ActiveKeysFor(ctx, ch1.ID)
	if err != nil {
		t.Fatalf("ActiveKeysFor: %v", err)
	}
	if len(result) != 1 || result[0].ID != active.ID {
		t.Fatalf("expected only %q active, got %+v", active.ID, result)
	}
	_ = inactive
	_ = otherChannel
}

func TestTokenByValueLookup(t *testing.T) {
	ctx := context.Background()
	m := New()

	tok, err := m.CreateToken(ctx, model.Token{Name: "t1", Token: "kh-secret-value"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	got, err := m.TokenByValue(ctx, "kh-secret-value")
	if err != nil {
		t.Fatalf("TokenByValue: %v", err)
	}
	if got == nil || got.ID != tok.ID {
		t.Fatalf("expected to find token %s, got %+v", tok.ID, got)
	}

	miss, err := m.TokenByValue(ctx, "kh-does-not-exist")
	if err != nil {
		t.Fatalf("TokenByValue miss: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected nil for unknown token value, got %+v", miss)
	}
}

func TestDeleteTokenRemovesValueIndex(t *testing.T) {
	ctx := context.Background()
	m := New()

	tok, _ := m.CreateToken(ctx, model.Token{Name: "t1", Token: "kh-secret"})

	if err := m.DeleteToken(ctx, tok.ID); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}

	got, err := m.TokenByValue(ctx, "kh-secret")
	if err != nil {
		t.Fatalf("TokenByValue: %v", err)
	}
	if got != nil {
		t.Fatalf("expected token value index to be cleared after delete, got %+v", got)
	}
}

func TestQueryLogsPagination(t *testing.T) {
	ctx := context.Background()
	m := New()

	// Timestamps must be recent: AppendLog sweeps anything older than the
	// retention window.
	base := nowMS()
	for i := 0; i < 5; i++ {
		if err := m.AppendLog(ctx, model.RequestLog{Timestamp: base + int64(i), Status: 200}); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	page, total, err := m.QueryLogs(ctx, model.LogFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Fatalf("page length = %d, want 2", len(page))
	}
	// Results are newest-first; offset 1 skips the single newest entry.
	if page[0].Timestamp != base+3 {
		t.Fatalf("page[0].Timestamp = %d, want %d", page[0].Timestamp, base+3)
	}
}

func TestAppendLogRetentionSweep(t *testing.T) {
	ctx := context.Background()
	m := New()

	if _, err := m.UpdateSettings(ctx, store.SettingsPatch{MaxLogsRetention: ptrInt64(1000)}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	now := nowMS()
	// An old log far outside the retention window should be swept away by
	// the very next AppendLog call.
	m.logs = append(m.logs, model.RequestLog{ID: "old", Timestamp: now - 100000, Status: 200})

	if err := m.AppendLog(ctx, model.RequestLog{Timestamp: now, Status: 200}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	all, err := m.LogsSince(ctx, 0)
	if err != nil {
		t.Fatalf("LogsSince: %v", err)
	}
	for _, l := range all {
		if l.ID == "old" {
			t.Fatalf("expected retention sweep to remove the old log entry")
		}
	}
}

func ptrInt64(v int64) *int64 { return &v }
