package testutil

import (
	"context"
	"strings"
	"sync"
)

// ScriptedGenerator provides deterministic generation-backend responses
// for tests. It matches prompts against registered substrings and returns
// the first matching response; unmatched prompts get the fallback.
//
// Safe for concurrent use.
type ScriptedGenerator struct {
	mu       sync.Mutex
	rules    []scriptRule
	fallback string
	err      error
	prompts  []string
}

type scriptRule struct {
	pattern  string // case-insensitive substring of the prompt
	response string
}

// NewScriptedGenerator creates a generator with the given fallback text.
func NewScriptedGenerator(fallback string) *ScriptedGenerator {
	return &ScriptedGenerator{fallback: fallback}
}

// Respond registers a pattern-response pair. Patterns are checked in
// registration order; first match wins.
func (g *ScriptedGenerator) Respond(pattern, response string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, scriptRule{pattern: strings.ToLower(pattern), response: response})
}

// Fail makes every subsequent Generate call return err. Pass nil to
// restore normal behavior.
func (g *ScriptedGenerator) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Prompts returns a copy of every prompt passed to Generate, in order.
func (g *ScriptedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]string, len(g.prompts))
	copy(cp, g.prompts)
	return cp
}

// Generate implements the retriever's generation-backend contract.
func (g *ScriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}

	lower := strings.ToLower(prompt)
	for _, r := range g.rules {
		if strings.Contains(lower, r.pattern) {
			return r.response, nil
		}
	}
	return g.fallback, nil
}
