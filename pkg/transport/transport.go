// Package transport defines the contract between bridge modules and the
// external messaging networks that carry cross-chain payloads. The networks'
// own consensus and validation are out of scope; the only requirement is that
// inbound deliveries are attributable to a verifiable origin identity.
package transport

import (
	"context"
	"sync"

	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
)

// InboundMessage is a delivery from a remote chain.
type InboundMessage struct {
	OriginChain string
	// Sender is the transport-attested identity of the remote caller.
	Sender  string
	Payload []byte
}

// Handler consumes an inbound delivery on the local chain.
type Handler func(ctx context.Context, msg InboundMessage) error

// Transport sends a payload to a destination chain.
type Transport interface {
	Send(ctx context.Context, destinationChain string, payload []byte) error
}

// Loopback is an in-process Transport that delivers every payload to a
// registered local handler. It stands in for a real messaging network in
// single-node deployments and tests.
type Loopback struct {
	localChain string
	identity   string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLoopback creates a loopback transport that presents itself to receivers
// as identity on localChain.
func NewLoopback(localChain, identity string) *Loopback {
	return &Loopback{
		localChain: localChain,
		identity:   identity,
		handlers:   make(map[string]Handler),
	}
}

// RegisterHandler binds the receiving handler for a destination chain
func (t *Loopback) RegisterHandler(chain string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[chain] = h
}

// Send delivers the payload synchronously to the handler registered for the
// destination chain. A missing handler is a delivery failure, the same way a
// real network would refuse an unknown destination.
func (t *Loopback) Send(ctx context.Context, destinationChain string, payload []byte) error {
	t.mu.RLock()
	h, ok := t.handlers[destinationChain]
	t.mu.RUnlock()
	if !ok {
		return apperrors.DependencyError(nil, "no route to chain "+destinationChain)
	}
	return h(ctx, InboundMessage{
		OriginChain: t.localChain,
		Sender:      t.identity,
		Payload:     payload,
	})
}
