package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-router/pkg/config"
	"github.com/chainsafe/bridge-router/pkg/reporter"
)

func main() {
	configPath := flag.String("config", "reporter.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadReporter(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := &ledgerSource{
		url:    cfg.RouterURL + "/api/v1/ledger/supply",
		client: &http.Client{Timeout: cfg.SubmitTimeout},
	}

	rep, err := reporter.New(cfg, source, logger)
	if err != nil {
		logger.Fatal("Failed to create reporter", zap.Error(err))
	}

	if err := rep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Reporter failed", zap.Error(err))
	}
}

// ledgerSource reads supply figures from the router's ledger endpoint.
type ledgerSource struct {
	url    string
	client *http.Client
}

type supplyResponse struct {
	Total  string `json:"total"`
	Locked string `json:"locked"`
}

func (s *ledgerSource) read(ctx context.Context) (*supplyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supply endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out supplyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ledgerSource) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	resp, err := s.read(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(resp.Total)
}

func (s *ledgerSource) LockedSupply(ctx context.Context) (decimal.Decimal, error) {
	resp, err := s.read(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(resp.Locked)
}
