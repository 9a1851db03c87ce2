package flashloan

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is the ordered set of providers an aggregator draws from.
// Mutations are restricted to the operator roles; reads can be restricted too.
type Registry struct {
	mu        sync.RWMutex
	owner     common.Address
	factory   common.Address
	gatedRead bool
	providers []Provider
	index     map[common.Address]int
	version   uint64
}

// NewRegistry returns an empty registry administered by owner.
func NewRegistry(owner common.Address) *Registry {
	return &Registry{
		owner: owner,
		index: make(map[common.Address]int),
	}
}

// SetFactory grants the operator role to a second identity.
func (r *Registry) SetFactory(ctx context.Context, factory common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := RequireCaller(ctx, r.owner); err != nil {
		return err
	}
	r.factory = factory
	return nil
}

// GateIntrospection restricts ProviderLength and Providers to operators.
func (r *Registry) GateIntrospection(gated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gatedRead = gated
}

// AddProviders appends providers not yet registered. A zero address anywhere
// in the list rejects the whole call.
func (r *Registry) AddProviders(ctx context.Context, providers ...Provider) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := RequireCaller(ctx, r.owner, r.factory); err != nil {
		return 0, err
	}
	for _, p := range providers {
		if p == nil || !ValidAddress(p.Address()) {
			return 0, fmt.Errorf("%w: provider", ErrInvalidAddress)
		}
	}

	added := 0
	for _, p := range providers {
		if _, ok := r.index[p.Address()]; ok {
			continue
		}
		r.index[p.Address()] = len(r.providers)
		r.providers = append(r.providers, p)
		added++
	}
	if added > 0 {
		r.version++
	}
	return added, nil
}

// RemoveProviders drops the listed providers, ignoring unknown ones. The
// relative order of the remaining providers is preserved.
func (r *Registry) RemoveProviders(ctx context.Context, addrs ...common.Address) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := RequireCaller(ctx, r.owner, r.factory); err != nil {
		return 0, err
	}

	drop := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		if _, ok := r.index[a]; ok {
			drop[a] = true
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	kept := r.providers[:0]
	for _, p := range r.providers {
		if !drop[p.Address()] {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(r.providers); i++ {
		r.providers[i] = nil
	}
	r.providers = kept
	r.index = make(map[common.Address]int, len(kept))
	for i, p := range kept {
		r.index[p.Address()] = i
	}
	r.version++
	return len(drop), nil
}

// ProviderLength returns the number of registered providers.
func (r *Registry) ProviderLength(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkRead(ctx); err != nil {
		return 0, err
	}
	return len(r.providers), nil
}

// Providers returns the registered providers in registration order.
func (r *Registry) Providers(ctx context.Context) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkRead(ctx); err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// snapshot copies the provider list. Callers must hold at least a read lock.
func (r *Registry) snapshot() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// all returns the providers without the introspection gate; the engine uses
// it for ranking.
func (r *Registry) all() ([]Provider, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(), r.version
}

// Version changes whenever the provider set changes.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Registry) checkRead(ctx context.Context) error {
	if !r.gatedRead {
		return nil
	}
	return RequireCaller(ctx, r.owner, r.factory)
}
