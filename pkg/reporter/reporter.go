// Package reporter implements the supply reporter daemon. On each tick it
// reads the local supply source, signs the observation with the reporter key
// and submits it to the router's oracle endpoint. Observations are proposed
// at the oracle's committed nonce plus one, so independent reporters converge
// on the same nonce regardless of their own submission history.
package reporter

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-router/pkg/config"
	"github.com/chainsafe/bridge-router/pkg/keys"
	"github.com/chainsafe/bridge-router/pkg/oracle"
)

// SupplySource reads the chain-local supply figures an observation reports.
type SupplySource interface {
	TotalSupply(ctx context.Context) (decimal.Decimal, error)
	LockedSupply(ctx context.Context) (decimal.Decimal, error)
}

// submission is the wire form of a signed observation.
type submission struct {
	ChainID   string `json:"chain_id"`
	Total     string `json:"total"`
	Locked    string `json:"locked"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// Reporter periodically submits signed supply observations to the router.
type Reporter struct {
	cfg    *config.ReporterConfig
	key    *keys.ReporterKeyPair
	source SupplySource
	client *http.Client
	logger *zap.Logger

	// last successfully submitted observation; an identical proposal is not
	// re-signed while it waits for quorum
	last *oracle.Observation
}

// New creates a reporter daemon. The key comes from the config: an explicit
// private key when set, otherwise derived from reporter_id and key_seed.
func New(cfg *config.ReporterConfig, source SupplySource, logger *zap.Logger) (*Reporter, error) {
	kp, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}

	addr, err := kp.Address()
	if err != nil {
		return nil, err
	}
	logger.Info("Reporter identity loaded",
		zap.String("address", addr.Hex()),
		zap.String("chain", cfg.ChainID))

	return &Reporter{
		cfg:    cfg,
		key:    kp,
		source: source,
		client: &http.Client{Timeout: cfg.SubmitTimeout},
		logger: logger,
	}, nil
}

func loadKey(cfg *config.ReporterConfig) (*keys.ReporterKeyPair, error) {
	if cfg.PrivateKey != "" {
		raw, err := hex.DecodeString(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private_key hex: %w", err)
		}
		return keys.FromPrivateKey(raw)
	}
	if cfg.ReporterID == "" || cfg.KeySeed == "" {
		return nil, fmt.Errorf("either private_key or reporter_id and key_seed must be set")
	}
	return keys.DeriveReporterKeyPair(cfg.ReporterID, []byte(cfg.KeySeed))
}

// Run submits one observation per interval until ctx is canceled. The first
// observation is submitted immediately.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	if err := r.reportOnce(ctx); err != nil {
		r.logger.Error("Supply report failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reporter stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.reportOnce(ctx); err != nil {
				r.logger.Error("Supply report failed", zap.Error(err))
			}
		}
	}
}

// reportOnce reads, signs and submits a single observation. The proposal
// nonce is re-anchored at the oracle's committed nonce on every tick: a
// submission that conflicted with another reporter's pending proposal is
// retried at the same nonce with fresh figures instead of walking ahead.
func (r *Reporter) reportOnce(ctx context.Context) error {
	total, err := r.source.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("read total supply: %w", err)
	}
	locked, err := r.source.LockedSupply(ctx)
	if err != nil {
		return fmt.Errorf("read locked supply: %w", err)
	}
	committed, err := r.committedNonce(ctx)
	if err != nil {
		return fmt.Errorf("read committed nonce: %w", err)
	}

	obs := oracle.Observation{
		ChainID: r.cfg.ChainID,
		Total:   total,
		Locked:  locked,
		Nonce:   committed + 1,
	}
	if r.last != nil && r.last.Nonce == obs.Nonce &&
		r.last.Total.Equal(obs.Total) && r.last.Locked.Equal(obs.Locked) {
		r.logger.Debug("Observation already submitted, awaiting quorum",
			zap.String("chain", obs.ChainID), zap.Uint64("nonce", obs.Nonce))
		return nil
	}

	priv, err := r.key.ECDSA()
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	sig, err := oracle.SignObservation(obs, priv)
	if err != nil {
		return fmt.Errorf("sign observation: %w", err)
	}

	if err := r.submit(ctx, obs, sig); err != nil {
		return err
	}

	r.last = &obs
	r.logger.Info("Supply observation submitted",
		zap.String("chain", obs.ChainID),
		zap.Uint64("nonce", obs.Nonce),
		zap.String("total", obs.Total.String()),
		zap.String("locked", obs.Locked.String()))
	return nil
}

// committedNonce reads the committed snapshot nonce for the reporter's chain
// from the router's public supply endpoint. A chain without a committed
// snapshot reads as nonce 0.
func (r *Reporter) committedNonce(ctx context.Context) (uint64, error) {
	url := r.cfg.RouterURL + "/api/v1/supply/" + r.cfg.ChainID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("supply endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var snap struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode supply snapshot: %w", err)
	}
	return snap.Nonce, nil
}

// submit posts the signed observation, retrying transient failures with
// exponential backoff. 4xx responses are permanent: retrying an identical
// payload cannot succeed.
func (r *Reporter) submit(ctx context.Context, obs oracle.Observation, sig []byte) error {
	body, err := json.Marshal(&submission{
		ChainID:   obs.ChainID,
		Total:     obs.Total.String(),
		Locked:    obs.Locked.String(),
		Nonce:     obs.Nonce,
		Signature: hex.EncodeToString(sig),
	})
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	url := r.cfg.RouterURL + "/api/v1/oracle/supply"

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.cfg.MaxElapsedTime

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = fmt.Errorf("oracle endpoint returned %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}
