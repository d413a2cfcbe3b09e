package db

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainsafe/bridge-router/pkg/bridge"
	"github.com/chainsafe/bridge-router/pkg/db/dao"
	"github.com/chainsafe/bridge-router/pkg/pgutil"
	mghelper "github.com/chainsafe/bridge-router/pkg/pgutil/migrations"
	"github.com/chainsafe/bridge-router/pkg/router"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	requireDockerAccess(t)

	ctx := context.Background()
	bundb, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	if err := mghelper.CreateSchema(ctx, bundb, &dao.TransferDao{}, &dao.SupplySnapshotDao{}); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return NewStoreFromDB(bundb.DB)
}

func requireDockerAccess(t *testing.T) {
	t.Helper()

	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}

	for _, sock := range candidates {
		if sock == "" {
			continue
		}
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed store tests")
}

func assertDecimalEqual(t *testing.T, got, want string) {
	t.Helper()

	gotDec, err := decimal.NewFromString(got)
	if err != nil {
		t.Fatalf("failed to parse got decimal %q: %v", got, err)
	}
	wantDec, err := decimal.NewFromString(want)
	if err != nil {
		t.Fatalf("failed to parse want decimal %q: %v", want, err)
	}
	if !gotDec.Equal(wantDec) {
		t.Fatalf("decimal mismatch: got %s want %s", gotDec.String(), wantDec.String())
	}
}

func newTestRecord(id, account string) *router.TransferRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &router.TransferRecord{
		ID:               id,
		Account:          account,
		DestinationChain: "ethereum",
		Recipient:        []byte("bob"),
		Amount:           decimal.NewFromInt(1000),
		Protocol:         bridge.ProtocolLayerZero,
		Fee:              decimal.NewFromInt(3),
		Status:           router.StatusInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestStore_SaveAndGetTransfer(t *testing.T) {
	s := setupStore(t)

	if err := s.SaveTransfer(newTestRecord("tx-1", "alice")); err != nil {
		t.Fatalf("SaveTransfer() failed: %v", err)
	}

	got, err := s.GetTransfer("tx-1")
	if err != nil {
		t.Fatalf("GetTransfer() failed: %v", err)
	}
	if got.Account != "alice" || got.DestinationChain != "ethereum" {
		t.Fatalf("transfer = %+v", got)
	}
	// Recipient is stored hex encoded.
	if got.Recipient != "626f62" {
		t.Fatalf("recipient = %q, want 626f62", got.Recipient)
	}
	assertDecimalEqual(t, got.Amount, "1000")
	assertDecimalEqual(t, got.Fee, "3")
	if got.Status != "initiated" {
		t.Fatalf("status = %q, want initiated", got.Status)
	}
}

func TestStore_UpdateTransferStatus(t *testing.T) {
	s := setupStore(t)

	if err := s.SaveTransfer(newTestRecord("tx-1", "alice")); err != nil {
		t.Fatalf("SaveTransfer() failed: %v", err)
	}
	if err := s.UpdateTransferStatus("tx-1", "delivered"); err != nil {
		t.Fatalf("UpdateTransferStatus() failed: %v", err)
	}

	got, err := s.GetTransfer("tx-1")
	if err != nil {
		t.Fatalf("GetTransfer() failed: %v", err)
	}
	if got.Status != "delivered" {
		t.Fatalf("status = %q, want delivered", got.Status)
	}
}

func TestStore_ListTransfersByAccount(t *testing.T) {
	s := setupStore(t)

	first := newTestRecord("tx-1", "alice")
	second := newTestRecord("tx-2", "alice")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	second.UpdatedAt = second.CreatedAt
	other := newTestRecord("tx-3", "bob")

	for _, rec := range []*router.TransferRecord{second, first, other} {
		if err := s.SaveTransfer(rec); err != nil {
			t.Fatalf("SaveTransfer(%s) failed: %v", rec.ID, err)
		}
	}

	got, err := s.ListTransfersByAccount("alice")
	if err != nil {
		t.Fatalf("ListTransfersByAccount() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transfers, want 2", len(got))
	}
	// Oldest first.
	if got[0].ID != "tx-1" || got[1].ID != "tx-2" {
		t.Fatalf("order = %s, %s", got[0].ID, got[1].ID)
	}
}

func TestStore_SnapshotUpsert(t *testing.T) {
	s := setupStore(t)

	if err := s.SaveSnapshot("ethereum", "1000", "200", 1); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	got, err := s.GetSnapshot("ethereum")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	assertDecimalEqual(t, got.Total, "1000")
	assertDecimalEqual(t, got.Locked, "200")
	if got.Nonce != 1 {
		t.Fatalf("nonce = %d, want 1", got.Nonce)
	}

	// Same chain upserts in place.
	if err := s.SaveSnapshot("ethereum", "1100", "250", 2); err != nil {
		t.Fatalf("SaveSnapshot() upsert failed: %v", err)
	}
	got, err = s.GetSnapshot("ethereum")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	assertDecimalEqual(t, got.Total, "1100")
	if got.Nonce != 2 {
		t.Fatalf("nonce = %d, want 2", got.Nonce)
	}

	// Unknown chain is not an error.
	missing, err := s.GetSnapshot("polygon")
	if err != nil {
		t.Fatalf("GetSnapshot() for unknown chain failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil snapshot, got %+v", missing)
	}
}
