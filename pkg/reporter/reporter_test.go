package reporter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-router/pkg/config"
	"github.com/chainsafe/bridge-router/pkg/keys"
	"github.com/chainsafe/bridge-router/pkg/oracle"
)

// funcSource implements SupplySource with overridable behavior
type funcSource struct {
	TotalFunc  func(ctx context.Context) (decimal.Decimal, error)
	LockedFunc func(ctx context.Context) (decimal.Decimal, error)
}

func (s *funcSource) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	if s.TotalFunc != nil {
		return s.TotalFunc(ctx)
	}
	return decimal.NewFromInt(1000), nil
}

func (s *funcSource) LockedSupply(ctx context.Context) (decimal.Decimal, error) {
	if s.LockedFunc != nil {
		return s.LockedFunc(ctx)
	}
	return decimal.NewFromInt(200), nil
}

func testReporterConfig(t *testing.T, routerURL string) *config.ReporterConfig {
	t.Helper()
	kp, err := keys.GenerateReporterKeyPair()
	if err != nil {
		t.Fatalf("GenerateReporterKeyPair() failed: %v", err)
	}
	return &config.ReporterConfig{
		RouterURL:      routerURL,
		ChainID:        "canton",
		Interval:       time.Hour,
		SubmitTimeout:  5 * time.Second,
		MaxElapsedTime: 100 * time.Millisecond,
		PrivateKey:     hex.EncodeToString(kp.PrivateKey),
	}
}

func TestReportOnce_SubmitsSignedObservation(t *testing.T) {
	var got submission
	var committed uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if r.URL.Path != "/api/v1/supply/canton" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if committed == 0 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]uint64{"nonce": committed})
			return
		}
		if r.URL.Path != "/api/v1/oracle/supply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode submission: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testReporterConfig(t, srv.URL)
	rep, err := New(cfg, &funcSource{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := rep.reportOnce(context.Background()); err != nil {
		t.Fatalf("reportOnce() failed: %v", err)
	}

	if got.ChainID != "canton" || got.Total != "1000" || got.Locked != "200" {
		t.Fatalf("submission = %+v", got)
	}
	if got.Nonce != 1 {
		t.Fatalf("nonce = %d, want 1", got.Nonce)
	}

	// The signature must recover to the configured reporter identity.
	sig, err := hex.DecodeString(got.Signature)
	if err != nil {
		t.Fatalf("invalid signature hex: %v", err)
	}
	obs := oracle.Observation{
		ChainID: got.ChainID,
		Total:   decimal.NewFromInt(1000),
		Locked:  decimal.NewFromInt(200),
		Nonce:   got.Nonce,
	}
	addr, err := oracle.RecoverReporter(obs, sig)
	if err != nil {
		t.Fatalf("RecoverReporter() failed: %v", err)
	}
	raw, err := hex.DecodeString(cfg.PrivateKey)
	if err != nil {
		t.Fatalf("invalid config key hex: %v", err)
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		t.Fatalf("ToECDSA() failed: %v", err)
	}
	if addr != crypto.PubkeyToAddress(priv.PublicKey) {
		t.Fatalf("signature recovers to %s, want reporter identity", addr.Hex())
	}

	// Once the oracle commits nonce 1 the next proposal anchors above it.
	committed = 1
	if err := rep.reportOnce(context.Background()); err != nil {
		t.Fatalf("reportOnce() #2 failed: %v", err)
	}
	if got.Nonce != 2 {
		t.Fatalf("nonce = %d, want 2", got.Nonce)
	}
}

func TestReportOnce_RejectedSubmitReusesNonce(t *testing.T) {
	fail := true
	var nonces []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var sub submission
		_ = json.NewDecoder(r.Body).Decode(&sub)
		nonces = append(nonces, sub.Nonce)
		if fail {
			// Permanent from the retry loop's point of view.
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rep, err := New(testReporterConfig(t, srv.URL), &funcSource{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := rep.reportOnce(context.Background()); err == nil {
		t.Fatal("expected submit error, got nil")
	}

	// Nothing committed, so the next attempt proposes the same nonce.
	fail = false
	if err := rep.reportOnce(context.Background()); err != nil {
		t.Fatalf("reportOnce() after recovery failed: %v", err)
	}
	if len(nonces) != 2 || nonces[0] != 1 || nonces[1] != 1 {
		t.Fatalf("nonces = %v, want [1 1]", nonces)
	}
}

func TestReportOnce_SkipsResubmitWhileAwaitingQuorum(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		posts++
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rep, err := New(testReporterConfig(t, srv.URL), &funcSource{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// With unchanged figures and no commit the same proposal is not
	// re-signed on the next tick.
	for i := 0; i < 2; i++ {
		if err := rep.reportOnce(context.Background()); err != nil {
			t.Fatalf("reportOnce() #%d failed: %v", i, err)
		}
	}
	if posts != 1 {
		t.Fatalf("posts = %d, want 1", posts)
	}
}

func TestReportOnce_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testReporterConfig(t, srv.URL)
	cfg.MaxElapsedTime = 5 * time.Second
	rep, err := New(cfg, &funcSource{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := rep.reportOnce(context.Background()); err != nil {
		t.Fatalf("reportOnce() failed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestNew_KeyLoading(t *testing.T) {
	logger := zap.NewNop()

	t.Run("derived key", func(t *testing.T) {
		cfg := &config.ReporterConfig{
			ChainID:    "canton",
			Interval:   time.Hour,
			ReporterID: "reporter-1",
			KeySeed:    "0123456789abcdef0123456789abcdef",
		}
		if _, err := New(cfg, &funcSource{}, logger); err != nil {
			t.Fatalf("New() with derived key failed: %v", err)
		}
	})

	t.Run("missing key material", func(t *testing.T) {
		cfg := &config.ReporterConfig{ChainID: "canton", Interval: time.Hour}
		if _, err := New(cfg, &funcSource{}, logger); err == nil {
			t.Fatal("expected error without key material")
		}
	})

	t.Run("invalid private key hex", func(t *testing.T) {
		cfg := &config.ReporterConfig{ChainID: "canton", Interval: time.Hour, PrivateKey: "zz"}
		if _, err := New(cfg, &funcSource{}, logger); err == nil {
			t.Fatal("expected error for invalid hex")
		}
	})
}

// newOracleServer exposes a live oracle through the two endpoints the
// reporter talks to, mirroring the router API's behavior.
func newOracleServer(t *testing.T, o *oracle.Oracle) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			snap, err := o.ChainSupply(strings.TrimPrefix(r.URL.Path, "/api/v1/supply/"))
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
			return
		}

		var sub submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		total, err := decimal.NewFromString(sub.Total)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		locked, err := decimal.NewFromString(sub.Locked)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sig, err := hex.DecodeString(sub.Signature)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		obs := oracle.Observation{ChainID: sub.ChainID, Total: total, Locked: locked, Nonce: sub.Nonce}
		if err := o.UpdateSupply(obs, sig); err != nil {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
}

// A supply change between one reporter's submission and the rest of the
// round must not wedge the quorum: the stale proposal expires, every
// reporter re-anchors at the committed nonce and the snapshot commits.
func TestReporters_RecoverFromMidRoundSupplyChange(t *testing.T) {
	o := oracle.New(oracle.Config{
		SignatureThreshold: 3,
		PendingTTL:         50 * time.Millisecond,
	}, nil, zap.NewNop())
	srv := newOracleServer(t, o)
	defer srv.Close()

	var mu sync.Mutex
	total := decimal.NewFromInt(100)
	src := &funcSource{
		TotalFunc: func(context.Context) (decimal.Decimal, error) {
			mu.Lock()
			defer mu.Unlock()
			return total, nil
		},
		LockedFunc: func(context.Context) (decimal.Decimal, error) {
			return decimal.Zero, nil
		},
	}

	reps := make([]*Reporter, 3)
	for i := range reps {
		rep, err := New(testReporterConfig(t, srv.URL), src, zap.NewNop())
		if err != nil {
			t.Fatalf("New() #%d failed: %v", i, err)
		}
		addr, err := rep.key.Address()
		if err != nil {
			t.Fatalf("Address() #%d failed: %v", i, err)
		}
		o.AddReporter(addr)
		reps[i] = rep
	}

	ctx := context.Background()

	// The first reporter observes before the supply moves.
	if err := reps[0].reportOnce(ctx); err != nil {
		t.Fatalf("reportOnce() before supply change failed: %v", err)
	}
	mu.Lock()
	total = decimal.NewFromInt(110)
	mu.Unlock()

	// The fresh figures conflict with the standing proposal at first.
	if err := reps[1].reportOnce(ctx); err == nil {
		t.Fatal("expected conflict against the stale proposal, got nil")
	}

	// Once the stale proposal expires it is superseded, every reporter
	// signs the fresh figures at the same nonce and the round commits.
	time.Sleep(60 * time.Millisecond)
	for _, i := range []int{1, 2, 0} {
		if err := reps[i].reportOnce(ctx); err != nil {
			t.Fatalf("reportOnce() by reporter %d failed: %v", i, err)
		}
	}
	snap, err := o.ChainSupply("canton")
	if err != nil {
		t.Fatalf("ChainSupply() failed: %v", err)
	}
	if snap.Nonce != 1 || !snap.Total.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("snapshot = %+v, want nonce 1 total 110", snap)
	}

	// Steady state: the next round anchors above the commit and completes.
	for i, rep := range reps {
		if err := rep.reportOnce(ctx); err != nil {
			t.Fatalf("steady-state reportOnce() by reporter %d failed: %v", i, err)
		}
	}
	snap, err = o.ChainSupply("canton")
	if err != nil {
		t.Fatalf("ChainSupply() failed: %v", err)
	}
	if snap.Nonce != 2 {
		t.Fatalf("nonce = %d, want 2", snap.Nonce)
	}
}
