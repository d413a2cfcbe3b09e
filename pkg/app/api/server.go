// Package api implements the bridge router server process: it wires the
// ledger, the protocol adapters, the security and fee managers, the supply
// oracle and the HTTP surface together and runs them until shutdown.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apphttp "github.com/chainsafe/bridge-router/pkg/app/http"
	"github.com/chainsafe/bridge-router/pkg/auth"
	"github.com/chainsafe/bridge-router/pkg/bridge"
	"github.com/chainsafe/bridge-router/pkg/config"
	"github.com/chainsafe/bridge-router/pkg/db"
	"github.com/chainsafe/bridge-router/pkg/fees"
	"github.com/chainsafe/bridge-router/pkg/ledger"
	"github.com/chainsafe/bridge-router/pkg/oracle"
	"github.com/chainsafe/bridge-router/pkg/registry"
	routerpkg "github.com/chainsafe/bridge-router/pkg/router"
	"github.com/chainsafe/bridge-router/pkg/security"
	"github.com/chainsafe/bridge-router/pkg/transport"
)

const defaultRequestTimeout = 60

// Server holds cfg to init the router server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes new router server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("router server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting bridge router",
		zap.String("local_chain", cfg.Bridge.LocalChain),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	store, err := s.openDB(logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	assets := ledger.NewInMemory()

	sec, err := s.buildSecurityManager(logger)
	if err != nil {
		return err
	}

	fm := fees.NewManager(cfg.Fees.MaxFeeBps)
	for chain, mul := range cfg.Fees.ChainMultipliers {
		if err := fm.SetChainMultiplier(chain, decimal.NewFromFloat(mul)); err != nil {
			return fmt.Errorf("chain multiplier for %s: %w", chain, err)
		}
	}

	reg := registry.New()
	if err := s.registerProtocols(reg, fm, assets, logger); err != nil {
		return err
	}

	router := routerpkg.New(cfg.Bridge.LocalChain, reg, sec, fm, store, logger)

	orc, err := s.buildOracle(store, logger)
	if err != nil {
		return err
	}
	orc.RegisterPausable("router", router)

	jwt := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	handlers := NewHTTP(router, reg, fm, sec, orc, assets, logger)

	return apphttp.ServeAndWait(ctx, s.setupRouter(handlers, jwt), logger, &cfg.Server)
}

func (s *Server) openDB(logger *zap.Logger) (*db.Store, error) {
	store, err := db.NewStore(s.cfg.Database.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	logger.Info("Connected to database",
		zap.String("host", s.cfg.Database.Host),
		zap.String("database", s.cfg.Database.Database),
	)
	return store, nil
}

func (s *Server) buildSecurityManager(logger *zap.Logger) (*security.Manager, error) {
	secCfg := s.cfg.Security
	perTx, err := decimal.NewFromString(secCfg.PerTxCeiling)
	if err != nil {
		return nil, fmt.Errorf("security.per_tx_ceiling: %w", err)
	}
	chainDaily, err := decimal.NewFromString(secCfg.ChainDailyCeiling)
	if err != nil {
		return nil, fmt.Errorf("security.chain_daily_ceiling: %w", err)
	}
	globalDaily, err := decimal.NewFromString(secCfg.GlobalDailyCeiling)
	if err != nil {
		return nil, fmt.Errorf("security.global_daily_ceiling: %w", err)
	}
	return security.NewManager(security.Config{
		PerTxCeiling:       perTx,
		ChainDailyCeiling:  chainDaily,
		GlobalDailyCeiling: globalDaily,
		WindowPeriod:       secCfg.WindowPeriod,
		FlagThreshold:      secCfg.FlagThreshold,
		FlagWindow:         secCfg.FlagWindow,
		AutoBlacklist:      secCfg.AutoBlacklist,
	}, logger), nil
}

// registerProtocols builds one adapter per configured protocol. Each adapter
// gets its own loopback transport whose handlers reflect outbound payloads
// back as trusted deliveries, so a single-node deployment completes the full
// initiate-finalize round trip in process.
func (s *Server) registerProtocols(reg *registry.Registry, fm *fees.Manager, assets ledger.Ledger, logger *zap.Logger) error {
	cfg := s.cfg.Bridge
	for _, p := range cfg.Protocols {
		lb := transport.NewLoopback(cfg.LocalChain, "bridge-router")
		deps := bridge.Deps{
			LocalChain: cfg.LocalChain,
			Ledger:     assets,
			Transport:  lb,
			Logger:     logger,
		}

		var mod bridge.Module
		var err error
		switch bridge.Protocol(p.Name) {
		case bridge.ProtocolLayerZero:
			mod, err = bridge.NewLayerZero(bridge.LayerZeroConfig{Counterparts: p.Counterparts}, deps)
		case bridge.ProtocolWormhole:
			mod, err = bridge.NewWormhole(bridge.WormholeConfig{Counterparts: p.Counterparts}, deps)
		case bridge.ProtocolAxelar:
			mod, err = bridge.NewAxelar(bridge.AxelarConfig{Counterparts: p.Counterparts}, deps)
		default:
			return fmt.Errorf("unknown bridge protocol %q", p.Name)
		}
		if err != nil {
			return fmt.Errorf("build %s adapter: %w", p.Name, err)
		}

		for _, chain := range p.Chains {
			remoteChain := chain
			remoteIdentity := p.Counterparts[chain]
			lb.RegisterHandler(remoteChain, func(ctx context.Context, msg transport.InboundMessage) error {
				return mod.FinalizeTransfer(ctx, transport.InboundMessage{
					OriginChain: remoteChain,
					Sender:      remoteIdentity,
					Payload:     msg.Payload,
				})
			})
		}

		reg.Register(mod, p.Chains)
		if err := fm.SetProtocolFeeBps(mod.Protocol(), p.FeeBps); err != nil {
			return fmt.Errorf("fee for %s: %w", p.Name, err)
		}
		logger.Info("Bridge protocol registered",
			zap.String("protocol", p.Name),
			zap.String("mode", string(mod.Mode())),
			zap.Strings("chains", p.Chains))
	}
	return nil
}

func (s *Server) buildOracle(store oracle.Store, logger *zap.Logger) (*oracle.Oracle, error) {
	cfg := s.cfg.Oracle
	orc := oracle.New(oracle.Config{
		SignatureThreshold:    cfg.SignatureThreshold,
		DeviationToleranceBps: cfg.DeviationToleranceBps,
		AutoPause:             cfg.AutoPause,
		PendingTTL:            cfg.PendingTTL,
	}, store, logger)

	for _, addr := range cfg.Reporters {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid reporter address %q", addr)
		}
		orc.AddReporter(common.HexToAddress(addr))
	}
	if cfg.ExpectedSupply != "" {
		expected, err := decimal.NewFromString(cfg.ExpectedSupply)
		if err != nil {
			return nil, fmt.Errorf("oracle.expected_supply: %w", err)
		}
		if err := orc.SetExpectedSupply(expected); err != nil {
			return nil, err
		}
	}
	return orc, nil
}

func (s *Server) setupRouter(handlers *HTTP, jwt *auth.JWTValidator) chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Second * defaultRequestTimeout))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		handlers.RegisterPublicRoutes(r)
		r.Route("/admin", func(r chi.Router) {
			handlers.RegisterAdminRoutes(r, jwt)
		})
	})

	return r
}
