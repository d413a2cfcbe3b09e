package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	"github.com/chainsafe/bridge-router/pkg/ledger"
	"github.com/chainsafe/bridge-router/pkg/transport"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// mockTransport implements transport.Transport with an overridable Send
type mockTransport struct {
	SendFunc func(ctx context.Context, destinationChain string, payload []byte) error
	sent     [][]byte
}

func (t *mockTransport) Send(ctx context.Context, destinationChain string, payload []byte) error {
	t.sent = append(t.sent, payload)
	if t.SendFunc != nil {
		return t.SendFunc(ctx, destinationChain, payload)
	}
	return nil
}

func newTestDeps(l ledger.Ledger, tr transport.Transport) Deps {
	return Deps{
		LocalChain: "canton",
		Ledger:     l,
		Transport:  tr,
		Logger:     zap.NewNop(),
	}
}

func counterparts() map[string]string {
	return map[string]string{"ethereum": "0xbridge"}
}

func TestTransferID_Deterministic(t *testing.T) {
	a := TransferID("alice", "ethereum", 0)
	b := TransferID("alice", "ethereum", 0)
	if a != b {
		t.Fatalf("TransferID() not deterministic: %s != %s", a, b)
	}
	if a == TransferID("alice", "ethereum", 1) {
		t.Fatal("TransferID() must differ per nonce")
	}
	if a == TransferID("alice", "polygon", 0) {
		t.Fatal("TransferID() must differ per destination chain")
	}
	if a == TransferID("bob", "ethereum", 0) {
		t.Fatal("TransferID() must differ per sender")
	}
}

func TestInitiateTransfer_BurnAndMint(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()
	tr := &mockTransport{}

	mod, err := NewLayerZero(LayerZeroConfig{Counterparts: counterparts()}, newTestDeps(l, tr))
	if err != nil {
		t.Fatalf("NewLayerZero() failed: %v", err)
	}

	if err := l.Mint(ctx, "alice", d("2000")); err != nil {
		t.Fatalf("Mint() failed: %v", err)
	}

	id, err := mod.InitiateTransfer(ctx, TransferParams{
		Sender:           "alice",
		DestinationChain: "ethereum",
		Recipient:        []byte("bob"),
		Amount:           d("1000"),
		Fee:              d("3"),
	})
	if err != nil {
		t.Fatalf("InitiateTransfer() failed: %v", err)
	}
	if id == "" {
		t.Fatal("InitiateTransfer() returned empty id")
	}

	// Amount and fee are debited together; burn-and-mint destroys them.
	if got := l.BalanceOf("alice"); !got.Equal(d("997")) {
		t.Fatalf("BalanceOf() = %s, want 997", got)
	}
	if got := l.TotalSupply(); !got.Equal(d("997")) {
		t.Fatalf("TotalSupply() = %s, want 997", got)
	}
	if got := l.LockedSupply(); !got.IsZero() {
		t.Fatalf("LockedSupply() = %s, want 0", got)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("transport received %d payloads, want 1", len(tr.sent))
	}

	// Only the amount crosses; the fee stays local.
	var env envelope
	if err := json.Unmarshal(tr.sent[0], &env); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if env.Amount != "1000" {
		t.Fatalf("envelope amount = %s, want 1000", env.Amount)
	}
}

func TestInitiateTransfer_LockAndMint(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()
	tr := &mockTransport{}

	mod, err := NewWormhole(WormholeConfig{Counterparts: counterparts()}, newTestDeps(l, tr))
	if err != nil {
		t.Fatalf("NewWormhole() failed: %v", err)
	}

	if err := l.Mint(ctx, "alice", d("2000")); err != nil {
		t.Fatalf("Mint() failed: %v", err)
	}

	_, err = mod.InitiateTransfer(ctx, TransferParams{
		Sender:           "alice",
		DestinationChain: "ethereum",
		Recipient:        []byte("bob"),
		Amount:           d("500"),
		Fee:              d("1"),
	})
	if err != nil {
		t.Fatalf("InitiateTransfer() failed: %v", err)
	}

	// Lock-and-mint escrows instead of destroying.
	if got := l.LockedSupply(); !got.Equal(d("501")) {
		t.Fatalf("LockedSupply() = %s, want 501", got)
	}
	if got := l.BalanceOf("alice"); !got.Equal(d("1499")) {
		t.Fatalf("BalanceOf() = %s, want 1499", got)
	}
}

func TestInitiateTransfer_UnknownCounterpart(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()

	mod, err := NewAxelar(AxelarConfig{Counterparts: counterparts()}, newTestDeps(l, &mockTransport{}))
	if err != nil {
		t.Fatalf("NewAxelar() failed: %v", err)
	}
	if err := l.Mint(ctx, "alice", d("100")); err != nil {
		t.Fatalf("Mint() failed: %v", err)
	}

	id, err := mod.InitiateTransfer(ctx, TransferParams{
		Sender:           "alice",
		DestinationChain: "solana",
		Recipient:        []byte("bob"),
		Amount:           d("10"),
	})
	if err == nil {
		t.Fatal("expected error for unknown counterpart, got nil")
	}
	if id != "" {
		t.Fatalf("id = %s, want empty when nothing executed", id)
	}
	if got := l.BalanceOf("alice"); !got.Equal(d("100")) {
		t.Fatalf("BalanceOf() = %s, want 100 (no accounting must run)", got)
	}
}

func TestInitiateTransfer_TransportFailure(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()
	tr := &mockTransport{
		SendFunc: func(context.Context, string, []byte) error {
			return apperrors.DependencyError(nil, "network down")
		},
	}

	mod, err := NewLayerZero(LayerZeroConfig{Counterparts: counterparts()}, newTestDeps(l, tr))
	if err != nil {
		t.Fatalf("NewLayerZero() failed: %v", err)
	}
	if err := l.Mint(ctx, "alice", d("100")); err != nil {
		t.Fatalf("Mint() failed: %v", err)
	}

	id, err := mod.InitiateTransfer(ctx, TransferParams{
		Sender:           "alice",
		DestinationChain: "ethereum",
		Recipient:        []byte("bob"),
		Amount:           d("10"),
	})
	if err == nil {
		t.Fatal("expected transport error, got nil")
	}
	if !apperrors.Is(err, apperrors.CategoryDependencyFailure) {
		t.Fatalf("expected CategoryDependencyFailure, got %v", err)
	}
	// Local accounting ran, so the id must come back for the refund path.
	if id == "" {
		t.Fatal("expected non-empty id after executed accounting")
	}
	if got := l.BalanceOf("alice"); !got.Equal(d("90")) {
		t.Fatalf("BalanceOf() = %s, want 90 (debit stands)", got)
	}
}

func finalizePayload(t *testing.T, proof, recipient, amount string) []byte {
	t.Helper()
	payload, err := json.Marshal(envelope{
		Proof:     proof,
		Sender:    "alice",
		Recipient: hex.EncodeToString([]byte(recipient)),
		Amount:    amount,
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}
	return payload
}

func TestFinalizeTransfer_MintsOnce(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()

	mod, err := NewLayerZero(LayerZeroConfig{Counterparts: counterparts()}, newTestDeps(l, &mockTransport{}))
	if err != nil {
		t.Fatalf("NewLayerZero() failed: %v", err)
	}

	msg := transport.InboundMessage{
		OriginChain: "ethereum",
		Sender:      "0xbridge",
		Payload:     finalizePayload(t, "proof-1", "bob", "250"),
	}
	if err := mod.FinalizeTransfer(ctx, msg); err != nil {
		t.Fatalf("FinalizeTransfer() failed: %v", err)
	}
	if got := l.BalanceOf("bob"); !got.Equal(d("250")) {
		t.Fatalf("BalanceOf() = %s, want 250", got)
	}

	// Redelivery of the same proof is accepted but does nothing.
	if err := mod.FinalizeTransfer(ctx, msg); err != nil {
		t.Fatalf("FinalizeTransfer() replay failed: %v", err)
	}
	if got := l.BalanceOf("bob"); !got.Equal(d("250")) {
		t.Fatalf("BalanceOf() after replay = %s, want 250", got)
	}
}

func TestFinalizeTransfer_UntrustedOrigin(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()

	mod, err := NewLayerZero(LayerZeroConfig{Counterparts: counterparts()}, newTestDeps(l, &mockTransport{}))
	if err != nil {
		t.Fatalf("NewLayerZero() failed: %v", err)
	}

	tests := []struct {
		name string
		msg  transport.InboundMessage
	}{
		{
			name: "wrong sender",
			msg: transport.InboundMessage{
				OriginChain: "ethereum",
				Sender:      "0xmallory",
				Payload:     finalizePayload(t, "proof-2", "bob", "250"),
			},
		},
		{
			name: "unknown chain",
			msg: transport.InboundMessage{
				OriginChain: "solana",
				Sender:      "0xbridge",
				Payload:     finalizePayload(t, "proof-3", "bob", "250"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mod.FinalizeTransfer(ctx, tt.msg)
			if err == nil {
				t.Fatal("expected error for untrusted origin, got nil")
			}
			if !apperrors.Is(err, apperrors.CategoryUnauthorized) {
				t.Fatalf("expected CategoryUnauthorized, got %v", err)
			}
		})
	}
	if got := l.BalanceOf("bob"); !got.IsZero() {
		t.Fatalf("BalanceOf() = %s, want 0 (nothing minted)", got)
	}
}

func TestFinalizeTransfer_LockAndMintReleasesEscrow(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()

	mod, err := NewWormhole(WormholeConfig{Counterparts: counterparts()}, newTestDeps(l, &mockTransport{}))
	if err != nil {
		t.Fatalf("NewWormhole() failed: %v", err)
	}

	// Escrow from a previous outbound transfer covers the return.
	if err := l.Mint(ctx, "alice", d("300")); err != nil {
		t.Fatalf("Mint() failed: %v", err)
	}
	if err := l.Lock(ctx, "alice", d("300")); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	msg := transport.InboundMessage{
		OriginChain: "ethereum",
		Sender:      "0xbridge",
		Payload:     finalizePayload(t, "proof-4", "bob", "200"),
	}
	if err := mod.FinalizeTransfer(ctx, msg); err != nil {
		t.Fatalf("FinalizeTransfer() failed: %v", err)
	}

	if got := l.LockedSupply(); !got.Equal(d("100")) {
		t.Fatalf("LockedSupply() = %s, want 100 (released, not minted)", got)
	}
	if got := l.BalanceOf("bob"); !got.Equal(d("200")) {
		t.Fatalf("BalanceOf() = %s, want 200", got)
	}
	if got := l.TotalSupply(); !got.Equal(d("300")) {
		t.Fatalf("TotalSupply() = %s, want 300 (no new supply)", got)
	}
}

func TestFinalizeTransfer_MalformedPayload(t *testing.T) {
	ctx := context.Background()
	mod, err := NewLayerZero(LayerZeroConfig{Counterparts: counterparts()}, newTestDeps(ledger.NewInMemory(), &mockTransport{}))
	if err != nil {
		t.Fatalf("NewLayerZero() failed: %v", err)
	}

	msg := transport.InboundMessage{
		OriginChain: "ethereum",
		Sender:      "0xbridge",
		Payload:     []byte("{not json"),
	}
	if err := mod.FinalizeTransfer(ctx, msg); !apperrors.Is(err, apperrors.CategoryDataError) {
		t.Fatalf("expected CategoryDataError, got %v", err)
	}
}

func TestReimburse(t *testing.T) {
	ctx := context.Background()

	t.Run("burn and mint restores by minting", func(t *testing.T) {
		l := ledger.NewInMemory()
		mod, err := NewLayerZero(LayerZeroConfig{Counterparts: counterparts()}, newTestDeps(l, &mockTransport{}))
		if err != nil {
			t.Fatalf("NewLayerZero() failed: %v", err)
		}
		if err := mod.Reimburse(ctx, "alice", d("50")); err != nil {
			t.Fatalf("Reimburse() failed: %v", err)
		}
		if got := l.BalanceOf("alice"); !got.Equal(d("50")) {
			t.Fatalf("BalanceOf() = %s, want 50", got)
		}
	})

	t.Run("lock and mint restores from escrow", func(t *testing.T) {
		l := ledger.NewInMemory()
		mod, err := NewWormhole(WormholeConfig{Counterparts: counterparts()}, newTestDeps(l, &mockTransport{}))
		if err != nil {
			t.Fatalf("NewWormhole() failed: %v", err)
		}
		if err := l.Mint(ctx, "alice", d("50")); err != nil {
			t.Fatalf("Mint() failed: %v", err)
		}
		if err := l.Lock(ctx, "alice", d("50")); err != nil {
			t.Fatalf("Lock() failed: %v", err)
		}
		if err := mod.Reimburse(ctx, "alice", d("50")); err != nil {
			t.Fatalf("Reimburse() failed: %v", err)
		}
		if got := l.BalanceOf("alice"); !got.Equal(d("50")) {
			t.Fatalf("BalanceOf() = %s, want 50", got)
		}
		if got := l.LockedSupply(); !got.IsZero() {
			t.Fatalf("LockedSupply() = %s, want 0", got)
		}
	})
}

func TestEstimateTransportFee(t *testing.T) {
	deps := newTestDeps(ledger.NewInMemory(), &mockTransport{})

	lz, err := NewLayerZero(LayerZeroConfig{Counterparts: counterparts()}, deps)
	if err != nil {
		t.Fatalf("NewLayerZero() failed: %v", err)
	}
	// 0.25 base + 1000 * 0.0001
	fee, err := lz.EstimateTransportFee("ethereum", d("1000"))
	if err != nil {
		t.Fatalf("EstimateTransportFee() failed: %v", err)
	}
	if !fee.Equal(d("0.35")) {
		t.Fatalf("EstimateTransportFee() = %s, want 0.35", fee)
	}

	if _, err := lz.EstimateTransportFee("solana", d("1000")); err == nil {
		t.Fatal("expected error for unsupported chain")
	}
}
