// Package registry tracks which bridge protocol adapters exist, which
// destination chains each one reaches, and whether the route is enabled.
package registry

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	"github.com/chainsafe/bridge-router/pkg/bridge"
)

// Descriptor describes one registered protocol.
type Descriptor struct {
	Protocol bridge.Protocol
	Module   bridge.Module
	Enabled  bool
	Chains   map[string]bool
}

// Registry is the protocol registry. Descriptors are mutated only through
// administrative calls.
type Registry struct {
	mu        sync.RWMutex
	protocols map[bridge.Protocol]*Descriptor
}

// New creates an empty registry
func New() *Registry {
	return &Registry{protocols: make(map[bridge.Protocol]*Descriptor)}
}

// Register adds a protocol with its supported destination chains. Registering
// an already known protocol replaces its descriptor.
func (r *Registry) Register(m bridge.Module, chains []string) {
	set := make(map[string]bool, len(chains))
	for _, c := range chains {
		set[c] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocols[m.Protocol()] = &Descriptor{
		Protocol: m.Protocol(),
		Module:   m,
		Enabled:  true,
		Chains:   set,
	}
}

// SetEnabled enables or disables a protocol
func (r *Registry) SetEnabled(p bridge.Protocol, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.protocols[p]
	if !ok {
		return apperrors.ResourceNotFoundError(nil, fmt.Sprintf("unknown protocol %s", p))
	}
	desc.Enabled = enabled
	return nil
}

// Route returns the module for a protocol if it is enabled and supports the
// destination chain.
func (r *Registry) Route(p bridge.Protocol, destinationChain string) (bridge.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.protocols[p]
	if !ok {
		return nil, apperrors.NotSupportedError(nil, fmt.Sprintf("unknown protocol %s", p))
	}
	if !desc.Enabled {
		return nil, apperrors.NotSupportedError(nil, fmt.Sprintf("protocol %s is disabled", p))
	}
	if !desc.Chains[destinationChain] {
		return nil, apperrors.NotSupportedError(nil,
			fmt.Sprintf("protocol %s does not support chain %s", p, destinationChain))
	}
	return desc.Module, nil
}

// EnabledForChain returns every enabled protocol that reaches the chain,
// in stable protocol-name order.
func (r *Registry) EnabledForChain(destinationChain string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for _, desc := range r.protocols {
		if desc.Enabled && desc.Chains[destinationChain] {
			out = append(out, desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}

// List returns a snapshot of all descriptors in stable order
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.protocols))
	for _, desc := range r.protocols {
		chains := make(map[string]bool, len(desc.Chains))
		for c := range desc.Chains {
			chains[c] = true
		}
		out = append(out, Descriptor{
			Protocol: desc.Protocol,
			Module:   desc.Module,
			Enabled:  desc.Enabled,
			Chains:   chains,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}
