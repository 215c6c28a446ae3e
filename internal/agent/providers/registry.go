package providers

import (
	"fmt"
	"os"

	"github.com/hearthd/hearthd/internal/agent"
	"github.com/hearthd/hearthd/internal/config"
)

// DefaultFallbackOrder is consulted when an agent names a provider that is
// not configured.
var DefaultFallbackOrder = []string{"openai", "anthropic"}

// Registry holds the configured provider adapters and applies the fallback
// policy when an agent references an unavailable one.
type Registry struct {
	order     []string
	providers map[string]agent.Provider
	fallback  []string
}

// NewRegistry returns an empty registry with the given fallback order, or
// the default order when none is supplied.
func NewRegistry(fallback ...string) *Registry {
	if len(fallback) == 0 {
		fallback = DefaultFallbackOrder
	}
	return &Registry{
		providers: make(map[string]agent.Provider),
		fallback:  fallback,
	}
}

// NewRegistryFromEnv builds a registry from the provider API keys present in
// the environment. Missing keys simply leave that provider out.
func NewRegistryFromEnv() (*Registry, error) {
	r := NewRegistry()
	if key := os.Getenv(config.EnvAnthropicKey); key != "" {
		p, err := NewAnthropicProvider(AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	if key := os.Getenv(config.EnvOpenAIKey); key != "" {
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	return r, nil
}

// Register adds a provider under its own name.
func (r *Registry) Register(p agent.Provider) {
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (agent.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Resolve maps an agent's provider/model reference onto a configured
// provider. When the named provider is unavailable the fallback order
// applies, then the first registered provider; the fallback drops the
// requested model so the substitute uses its own default.
func (r *Registry) Resolve(name, model string) (agent.Provider, string, error) {
	if p, ok := r.providers[name]; ok {
		return p, model, nil
	}
	for _, candidate := range r.fallback {
		if p, ok := r.providers[candidate]; ok {
			return p, "", nil
		}
	}
	if len(r.order) > 0 {
		return r.providers[r.order[0]], "", nil
	}
	return nil, "", fmt.Errorf("no provider available (wanted %q)", name)
}
