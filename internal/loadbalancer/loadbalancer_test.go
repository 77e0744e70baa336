package loadbalancer

import (
	"testing"

	"github.com/DYLCKH/key-hub/internal/model"
)

func keySet(ids ...string) []model.ApiKey {
	keys := make([]model.ApiKey, len(ids))
	for i, id := range ids {
		keys[i] = model.ApiKey{ID: id}
	}
	return keys
}

func TestSelectRoundRobinSequence(t *testing.T) {
	lb := New()
	keys := keySet("a", "b", "c")

	want := []string{"a", "b", "c", "a", "b", "c"}
	for i, w := range want {
		got := lb.Select(keys, model.StrategyRoundRobin, "chan-1")
		if got == nil || got.ID != w {
			t.Fatalf("iteration %d: got %v, want %q", i, got, w)
		}
	}
}

func TestSelectRoundRobinPerChannelCursor(t *testing.T) {
	lb := New()
	keys := keySet("a", "b")

	// Advance channel "x" once.
	if got := lb.Select(keys, model.StrategyRoundRobin, "x"); got.ID != "a" {
		t.Fatalf("channel x first pick = %q, want a", got.ID)
	}

	// Channel "y" must start fresh, unaffected by "x"'s cursor.
	if got := lb.Select(keys, model.StrategyRoundRobin, "y"); got.ID != "a" {
		t.Fatalf("channel y first pick = %q, want a", got.ID)
	}

	if got := lb.Select(keys, model.StrategyRoundRobin, "x"); got.ID != "b" {
		t.Fatalf("channel x second pick = %q, want b", got.ID)
	}
}

func TestSelectEmptyReturnsNil(t *testing.T) {
	lb := New()
	if got := lb.Select(nil, model.StrategyRoundRobin, "chan-1"); got != nil {
		t.Fatalf("expected nil for empty key set, got %v", got)
	}
}

func TestSelectWeightedConvergence(t *testing.T) {
	lb := New()
	keys := []model.ApiKey{
		{ID: "heavy", Weight: 90},
		{ID: "light", Weight: 10},
	}

	counts := map[string]int{}
	const trials = 2000
	for i := 0; i < trials; i++ {
		got := lb.Select(keys, model.StrategyWeighted, "chan-1")
		counts[got.ID]++
	}

	// With a 90/10 split over 2000 draws, "heavy" should dominate by a
	// wide margin; allow generous slack since this is randomized.
	if counts["heavy"] <= counts["light"] {
		t.Fatalf("expected heavy-weighted key to win more often: %v", counts)
	}
	ratio := float64(counts["heavy"]) / float64(trials)
	if ratio < 0.7 {
		t.Fatalf("heavy key share = %.2f, want >= 0.70 given a 90/10 weight split", ratio)
	}
}

func TestSelectWeightedZeroWeightsFallsBackToUniform(t *testing.T) {
	lb := New()
	keys := []model.ApiKey{{ID: "a", Weight: 0}, {ID: "b", Weight: 0}}

	got := lb.Select(keys, model.StrategyWeighted, "chan-1")
	if got == nil {
		t.Fatal("expected a selection even when all weights are zero")
	}
}

func TestSelectPriorityHighestWins(t *testing.T) {
	lb := New()
	keys := []model.ApiKey{
		{ID: "low", Priority: 10},
		{ID: "high", Priority: 90},
		{ID: "mid", Priority: 50},
	}

	got := lb.Select(keys, model.StrategyPriority, "chan-1")
	if got.ID != "high" {
		t.Fatalf("got %q, want high", got.ID)
	}
}

func TestSelectPriorityTieBrokenByErrorCount(t *testing.T) {
	lb := New()
	keys := []model.ApiKey{
		{ID: "flaky", Priority: 50, ErrorCount: 5},
		{ID: "stable", Priority: 50, ErrorCount: 0},
	}

	got := lb.Select(keys, model.StrategyPriority, "chan-1")
	if got.ID != "stable" {
		t.Fatalf("got %q, want stable (lower error count)", got.ID)
	}
}

func TestSelectLeastUsed(t *testing.T) {
	lb := New()
	keys := []model.ApiKey{
		{ID: "busy", TotalRequests: 100},
		{ID: "idle", TotalRequests: 3},
		{ID: "medium", TotalRequests: 50},
	}

	got := lb.Select(keys, model.StrategyLeastUsed, "chan-1")
	if got.ID != "idle" {
		t.Fatalf("got %q, want idle", got.ID)
	}
}
