package provider

import (
	"context"
	"sort"
	"sync"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// Provider is an external text generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Registry maps provider names to implementations. Lookups never fall back
// to a different provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
