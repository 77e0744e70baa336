// Package loadbalancer picks one ApiKey from a pre-filtered active set
// according to a Channel's strategy. Round-robin state is process-local
// and keyed by channel id, grounded on the roundRobinCounters shape in
// NodeNestor-CodeGate's internal/routing/router.go.
package loadbalancer

import (
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/DYLCKH/key-hub/internal/model"
)

// LoadBalancer owns the process-local round-robin cursors. It is safe for
// concurrent use.
type LoadBalancer struct {
	mu      sync.Mutex
	cursors map[string]int // channelId -> cursor
}

func New() *LoadBalancer {
	return &LoadBalancer{cursors: make(map[string]int)}
}

// Select picks one key from keys (assumed pre-filtered to status=active)
// per strategy. Returns nil if keys is empty.
func (lb *LoadBalancer) Select(keys []model.ApiKey, strategy model.LoadBalanceStrategy, channelID string) *model.ApiKey {
	if len(keys) == 0 {
		return nil
	}

	switch strategy {
	case model.StrategyWeighted:
		return lb.selectWeighted(keys)
	case model.StrategyPriority:
		return selectPriority(keys)
	case model.StrategyLeastUsed:
		return selectLeastUsed(keys)
	default: // round-robin
		return lb.selectRoundRobin(keys, channelID)
	}
}

func (lb *LoadBalancer) selectRoundRobin(keys []model.ApiKey, channelID string) *model.ApiKey {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	n := len(keys)
	cursor := lb.cursors[channelID] % n
	selected := keys[cursor]
	lb.cursors[channelID] = (cursor + 1) % n

	return &selected
}

// selectWeighted draws a key with probability proportional to weight; if
// the weights sum to zero, falls back to a uniform draw.
func (lb *LoadBalancer) selectWeighted(keys []model.ApiKey) *model.ApiKey {
	total := 0
	for _, k := range keys {
		total += k.Weight
	}

	if total <= 0 {
		selected := keys[rand.IntN(len(keys))]
		return &selected
	}

	r := rand.IntN(total)
	cum := 0
	for i := range keys {
		cum += keys[i].Weight
		if r < cum {
			return &keys[i]
		}
	}

	// Unreachable in practice (rounding), but keep a safe fallback.
	selected := keys[len(keys)-1]
	return &selected
}

// selectPriority picks the highest-priority key, ties broken by lowest
// errorCount, then stable original order.
func selectPriority(keys []model.ApiKey) *model.ApiKey {
	ordered := make([]model.ApiKey, len(keys))
	copy(ordered, keys)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ErrorCount < ordered[j].ErrorCount
	})

	return &ordered[0]
}

// selectLeastUsed picks the key with the lowest totalRequests, ties broken
// by original order.
func selectLeastUsed(keys []model.ApiKey) *model.ApiKey {
	ordered := make([]model.ApiKey, len(keys))
	copy(ordered, keys)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalRequests < ordered[j].TotalRequests
	})

	return &ordered[0]
}
