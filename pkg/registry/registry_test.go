package registry

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	"github.com/chainsafe/bridge-router/pkg/bridge"
	"github.com/chainsafe/bridge-router/pkg/transport"
)

// fakeModule implements bridge.Module with overridable behavior
type fakeModule struct {
	protocol bridge.Protocol
	mode     bridge.AccountingMode
}

func (m *fakeModule) Protocol() bridge.Protocol   { return m.protocol }
func (m *fakeModule) Mode() bridge.AccountingMode { return m.mode }
func (m *fakeModule) InitiateTransfer(context.Context, bridge.TransferParams) (string, error) {
	return "", nil
}
func (m *fakeModule) FinalizeTransfer(context.Context, transport.InboundMessage) error { return nil }
func (m *fakeModule) EstimateTransportFee(string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (m *fakeModule) Reimburse(context.Context, string, decimal.Decimal) error { return nil }

func TestRegistry_Route(t *testing.T) {
	r := New()
	r.Register(&fakeModule{protocol: bridge.ProtocolLayerZero}, []string{"ethereum", "polygon"})

	if _, err := r.Route(bridge.ProtocolLayerZero, "ethereum"); err != nil {
		t.Fatalf("Route() failed: %v", err)
	}

	_, err := r.Route(bridge.ProtocolWormhole, "ethereum")
	if err == nil {
		t.Fatal("expected error for unknown protocol, got nil")
	}
	if !apperrors.Is(err, apperrors.CategoryNotSupported) {
		t.Fatalf("expected CategoryNotSupported, got %v", err)
	}

	_, err = r.Route(bridge.ProtocolLayerZero, "solana")
	if err == nil {
		t.Fatal("expected error for unsupported chain, got nil")
	}
	if !apperrors.Is(err, apperrors.CategoryNotSupported) {
		t.Fatalf("expected CategoryNotSupported, got %v", err)
	}
}

func TestRegistry_DisabledProtocolNotRoutable(t *testing.T) {
	r := New()
	r.Register(&fakeModule{protocol: bridge.ProtocolLayerZero}, []string{"ethereum"})

	if err := r.SetEnabled(bridge.ProtocolLayerZero, false); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	if _, err := r.Route(bridge.ProtocolLayerZero, "ethereum"); err == nil {
		t.Fatal("expected error routing via disabled protocol, got nil")
	}

	if err := r.SetEnabled(bridge.ProtocolLayerZero, true); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	if _, err := r.Route(bridge.ProtocolLayerZero, "ethereum"); err != nil {
		t.Fatalf("Route() after re-enable failed: %v", err)
	}
}

func TestRegistry_SetEnabledUnknownProtocol(t *testing.T) {
	r := New()
	err := r.SetEnabled(bridge.ProtocolAxelar, true)
	if err == nil {
		t.Fatal("expected error for unknown protocol, got nil")
	}
	if !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Fatalf("expected CategoryResourceNotFound, got %v", err)
	}
}

func TestRegistry_EnabledForChain(t *testing.T) {
	r := New()
	r.Register(&fakeModule{protocol: bridge.ProtocolWormhole}, []string{"ethereum"})
	r.Register(&fakeModule{protocol: bridge.ProtocolLayerZero}, []string{"ethereum", "polygon"})
	r.Register(&fakeModule{protocol: bridge.ProtocolAxelar}, []string{"polygon"})

	got := r.EnabledForChain("ethereum")
	if len(got) != 2 {
		t.Fatalf("EnabledForChain() returned %d descriptors, want 2", len(got))
	}
	// Stable protocol-name order.
	if got[0].Protocol != bridge.ProtocolLayerZero || got[1].Protocol != bridge.ProtocolWormhole {
		t.Fatalf("EnabledForChain() order = %s, %s", got[0].Protocol, got[1].Protocol)
	}

	if err := r.SetEnabled(bridge.ProtocolLayerZero, false); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	got = r.EnabledForChain("ethereum")
	if len(got) != 1 || got[0].Protocol != bridge.ProtocolWormhole {
		t.Fatalf("EnabledForChain() after disable = %v", got)
	}
}

func TestRegistry_ListSnapshotIsolated(t *testing.T) {
	r := New()
	r.Register(&fakeModule{protocol: bridge.ProtocolLayerZero}, []string{"ethereum"})

	snap := r.List()
	if len(snap) != 1 {
		t.Fatalf("List() returned %d descriptors, want 1", len(snap))
	}
	snap[0].Chains["solana"] = true

	if _, err := r.Route(bridge.ProtocolLayerZero, "solana"); err == nil {
		t.Fatal("mutating the snapshot must not affect the registry")
	}
}
