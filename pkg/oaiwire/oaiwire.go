// Package oaiwire holds the minimal OpenAI-compatible wire-format structs
// the gateway needs to read off a relayed request body: just enough to
// resolve routing (model, stream) without decoding or reshaping the full
// provider-specific payload. Everything else is relayed byte-for-byte.
// Trimmed down from the teacher's internal/service/llm/openai request
// types, which decode the full completion shape for message translation —
// a concern this gateway deliberately does not have.
package oaiwire

import "strings"

// RelayEnvelope carries only the fields the Router needs to make a
// routing decision; the full JSON body is still forwarded untouched.
type RelayEnvelope struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ModelListResponse is the body of GET /v1/models.
type ModelListResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// modelPrefixRoute is one row of the fixed model-to-type table.
type modelPrefixRoute struct {
	prefix string
	types  []string
}

// modelTable is the closed, hard-coded model-to-provider-type map from
// the spec. Longest-prefix match; no registration mechanism by design
// (see the Open Questions in SPEC_FULL.md).
var modelTable = []modelPrefixRoute{
	{"gpt-4o-mini", []string{"openai", "openai-compatible"}},
	{"gpt-4o", []string{"openai", "openai-compatible"}},
	{"gpt-4-turbo", []string{"openai", "openai-compatible"}},
	{"gpt-4", []string{"openai", "openai-compatible"}},
	{"gpt-3.5-turbo", []string{"openai", "openai-compatible"}},
	{"o1-mini", []string{"openai", "openai-compatible"}},
	{"o1-preview", []string{"openai", "openai-compatible"}},
	{"o1", []string{"openai", "openai-compatible"}},
	{"claude-3-opus", []string{"anthropic"}},
	{"claude-3-sonnet", []string{"anthropic"}},
	{"claude-3-haiku", []string{"anthropic"}},
	{"claude-3.5-sonnet", []string{"anthropic"}},
	{"claude-3-5-sonnet", []string{"anthropic"}},
	{"gemini-1.5-pro", []string{"gemini"}},
	{"gemini-1.5-flash", []string{"gemini"}},
	{"gemini-pro", []string{"gemini"}},
}

var defaultTypes = []string{"openai", "openai-compatible"}

// ResolveModelTypes performs the longest-prefix match described in the
// spec: the most specific matching prefix wins; no match falls back to
// {openai, openai-compatible}.
func ResolveModelTypes(model string) []string {
	bestLen := -1
	var best []string

	for _, route := range modelTable {
		if strings.HasPrefix(model, route.prefix) && len(route.prefix) > bestLen {
			bestLen = len(route.prefix)
			best = route.types
		}
	}

	if best == nil {
		return defaultTypes
	}

	return best
}

// AllModels returns every model name in the fixed table, in declaration
// order, used by GET /v1/models enumeration.
func AllModels() []string {
	names := make([]string, len(modelTable))
	for i, r := range modelTable {
		names[i] = r.prefix
	}
	return names
}

// TypesFor returns the declared provider types for a specific table entry
// (by exact model name), used by GET /v1/models eligibility filtering.
func TypesFor(model string) []string {
	for _, r := range modelTable {
		if r.prefix == model {
			return r.types
		}
	}
	return defaultTypes
}
