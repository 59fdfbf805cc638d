// Package publish normalises the platform publish protocols behind one
// adapter contract and routes content to the right adapter.
package publish

import (
	"context"
	"sync"

	"postwise.io/internal/social"
)

// Request is the normalised publish input handed to an adapter.
type Request struct {
	AccessToken string
	AccountID   string
	Message     string
	ImageURL    string
}

// Result carries the platform's id for the created post.
type Result struct {
	ID string
}

// Adapter publishes to one platform.
type Adapter interface {
	Platform() social.Platform
	Publish(ctx context.Context, req Request) (Result, error)
}

// ImageRequirer is implemented by adapters that cannot publish text only.
type ImageRequirer interface {
	RequiresImage() bool
}

// Registry maps platforms to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[social.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[social.Platform]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its platform.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Registry) Lookup(p social.Platform) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Platforms lists registered platforms.
func (r *Registry) Platforms() []social.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]social.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
