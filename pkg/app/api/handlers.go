package api

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	apphttp "github.com/chainsafe/bridge-router/pkg/app/http"
	"github.com/chainsafe/bridge-router/pkg/auth"
	"github.com/chainsafe/bridge-router/pkg/bridge"
	"github.com/chainsafe/bridge-router/pkg/fees"
	"github.com/chainsafe/bridge-router/pkg/ledger"
	"github.com/chainsafe/bridge-router/pkg/oracle"
	"github.com/chainsafe/bridge-router/pkg/registry"
	routerpkg "github.com/chainsafe/bridge-router/pkg/router"
	"github.com/chainsafe/bridge-router/pkg/security"
)

// HTTP wraps the service components to provide HTTP endpoints
type HTTP struct {
	router   *routerpkg.Router
	registry *registry.Registry
	fees     *fees.Manager
	security *security.Manager
	oracle   *oracle.Oracle
	ledger   ledger.Ledger
	logger   *zap.Logger
	validate *validator.Validate
}

// NewHTTP creates the HTTP handler set
func NewHTTP(r *routerpkg.Router, reg *registry.Registry, fm *fees.Manager, sec *security.Manager, o *oracle.Oracle, l ledger.Ledger, logger *zap.Logger) *HTTP {
	return &HTTP{
		router:   r,
		registry: reg,
		fees:     fm,
		security: sec,
		oracle:   o,
		ledger:   l,
		logger:   logger,
		validate: validator.New(),
	}
}

// RegisterPublicRoutes registers the unauthenticated endpoints
func (h *HTTP) RegisterPublicRoutes(r chi.Router) {
	r.Post("/bridge", apphttp.HandleError(h.bridgeTransfer))
	r.Post("/bridge/auto", apphttp.HandleError(h.bridgeAuto))
	r.Get("/fees/estimate", apphttp.HandleError(h.estimateFee))
	r.Get("/protocols", apphttp.HandleError(h.listProtocols))
	r.Get("/transfers/{id}", apphttp.HandleError(h.getTransfer))
	r.Get("/accounts/{account}/transfers", apphttp.HandleError(h.listAccountTransfers))
	r.Get("/supply", apphttp.HandleError(h.globalSupply))
	r.Get("/supply/{chain}", apphttp.HandleError(h.chainSupply))
	r.Get("/ledger/supply", apphttp.HandleError(h.ledgerSupply))
	r.Post("/oracle/supply", apphttp.HandleError(h.submitSupply))
}

// RegisterAdminRoutes registers the JWT-protected administrative endpoints
func (h *HTTP) RegisterAdminRoutes(r chi.Router, jwt *auth.JWTValidator) {
	r.Group(func(r chi.Router) {
		r.Use(jwt.Middleware)

		r.Post("/protocols/{protocol}/enable", apphttp.HandleError(h.setProtocolEnabled(true)))
		r.Post("/protocols/{protocol}/disable", apphttp.HandleError(h.setProtocolEnabled(false)))
		r.Put("/protocols/{protocol}/fee", apphttp.HandleError(h.setProtocolFee))
		r.Put("/chains/{chain}/multiplier", apphttp.HandleError(h.setChainMultiplier))

		r.Put("/limits", apphttp.HandleError(h.setLimits))

		r.Post("/accounts/{account}/blacklist", apphttp.HandleError(h.blacklist))
		r.Post("/accounts/{account}/unblacklist", apphttp.HandleError(h.unblacklist))
		r.Get("/accounts/{account}/status", apphttp.HandleError(h.accountStatus))

		r.Post("/transfers/{id}/refund", apphttp.HandleError(h.refundTransfer))

		r.Put("/oracle/expected-supply", apphttp.HandleError(h.setExpectedSupply))
		r.Post("/oracle/reporters", apphttp.HandleError(h.addReporter))
		r.Delete("/oracle/reporters/{address}", apphttp.HandleError(h.removeReporter))

		r.Post("/pause", apphttp.HandleError(h.pause))
		r.Post("/unpause", apphttp.HandleError(h.unpause))
		r.Post("/resume", apphttp.HandleError(h.resume))

		r.Get("/fees/{protocol}/{chain}", apphttp.HandleError(h.collectedFees))
		r.Post("/fees/withdraw", apphttp.HandleError(h.withdrawFees))

		r.Post("/ledger/mint", apphttp.HandleError(h.mint))
	})
}

type bridgeRequest struct {
	Account          string `json:"account" validate:"required"`
	Protocol         string `json:"protocol"`
	DestinationChain string `json:"destination_chain" validate:"required"`
	// Recipient is the hex-encoded destination account identifier.
	Recipient string `json:"recipient" validate:"required,hexadecimal"`
	Amount    string `json:"amount" validate:"required"`
	PaidFee   string `json:"paid_fee" validate:"required"`
}

type bridgeResponse struct {
	TransferID string `json:"transfer_id"`
}

func (h *HTTP) bridgeTransfer(w http.ResponseWriter, r *http.Request) error {
	req, recipient, amount, paidFee, err := h.parseBridgeRequest(r)
	if err != nil {
		return err
	}
	if req.Protocol == "" {
		return apperrors.BadRequestError(nil, "protocol is required")
	}

	id, err := h.router.Bridge(r.Context(), req.Account, bridge.Protocol(req.Protocol),
		req.DestinationChain, recipient, amount, paidFee)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, &bridgeResponse{TransferID: id})
	return nil
}

func (h *HTTP) bridgeAuto(w http.ResponseWriter, r *http.Request) error {
	req, recipient, amount, paidFee, err := h.parseBridgeRequest(r)
	if err != nil {
		return err
	}

	id, err := h.router.BridgeAuto(r.Context(), req.Account, req.DestinationChain,
		recipient, amount, paidFee)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, &bridgeResponse{TransferID: id})
	return nil
}

func (h *HTTP) parseBridgeRequest(r *http.Request) (*bridgeRequest, []byte, decimal.Decimal, decimal.Decimal, error) {
	var req bridgeRequest
	if err := h.decode(r, &req); err != nil {
		return nil, nil, decimal.Zero, decimal.Zero, err
	}
	recipient, err := hex.DecodeString(req.Recipient)
	if err != nil {
		return nil, nil, decimal.Zero, decimal.Zero, apperrors.BadRequestError(err, "invalid recipient hex")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, nil, decimal.Zero, decimal.Zero, apperrors.BadRequestError(err, "invalid amount")
	}
	paidFee, err := decimal.NewFromString(req.PaidFee)
	if err != nil {
		return nil, nil, decimal.Zero, decimal.Zero, apperrors.BadRequestError(err, "invalid paid_fee")
	}
	return &req, recipient, amount, paidFee, nil
}

func (h *HTTP) estimateFee(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	protocol := q.Get("protocol")
	destChain := q.Get("destination_chain")
	if protocol == "" || destChain == "" {
		return apperrors.BadRequestError(nil, "protocol and destination_chain are required")
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		return apperrors.BadRequestError(err, "invalid amount")
	}

	quote, err := h.router.EstimateFee(bridge.Protocol(protocol), destChain, amount)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, quote)
	return nil
}

type protocolInfo struct {
	Protocol string   `json:"protocol"`
	Mode     string   `json:"mode"`
	Enabled  bool     `json:"enabled"`
	Chains   []string `json:"chains"`
}

func (h *HTTP) listProtocols(w http.ResponseWriter, _ *http.Request) error {
	descs := h.registry.List()
	out := make([]protocolInfo, 0, len(descs))
	for _, d := range descs {
		chains := make([]string, 0, len(d.Chains))
		for c := range d.Chains {
			chains = append(chains, c)
		}
		out = append(out, protocolInfo{
			Protocol: string(d.Protocol),
			Mode:     string(d.Module.Mode()),
			Enabled:  d.Enabled,
			Chains:   chains,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
	return nil
}

func (h *HTTP) getTransfer(w http.ResponseWriter, r *http.Request) error {
	rec, err := h.router.Transfer(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, rec)
	return nil
}

func (h *HTTP) listAccountTransfers(w http.ResponseWriter, r *http.Request) error {
	account := chi.URLParam(r, "account")
	if account == "" {
		return apperrors.BadRequestError(nil, "account is required")
	}
	h.writeJSON(w, http.StatusOK, h.router.UserTransfers(account))
	return nil
}

func (h *HTTP) globalSupply(w http.ResponseWriter, _ *http.Request) error {
	h.writeJSON(w, http.StatusOK, h.oracle.GlobalSupply())
	return nil
}

func (h *HTTP) chainSupply(w http.ResponseWriter, r *http.Request) error {
	snap, err := h.oracle.ChainSupply(chi.URLParam(r, "chain"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, snap)
	return nil
}

type ledgerSupplyResponse struct {
	Total  string `json:"total"`
	Locked string `json:"locked"`
}

// ledgerSupply exposes the local ledger figures; the supply reporter daemon
// reads this endpoint to build its observations.
func (h *HTTP) ledgerSupply(w http.ResponseWriter, _ *http.Request) error {
	h.writeJSON(w, http.StatusOK, &ledgerSupplyResponse{
		Total:  h.ledger.TotalSupply().String(),
		Locked: h.ledger.LockedSupply().String(),
	})
	return nil
}

type supplySubmission struct {
	ChainID   string `json:"chain_id" validate:"required"`
	Total     string `json:"total" validate:"required"`
	Locked    string `json:"locked" validate:"required"`
	Nonce     uint64 `json:"nonce" validate:"required"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

func (h *HTTP) submitSupply(w http.ResponseWriter, r *http.Request) error {
	var req supplySubmission
	if err := h.decode(r, &req); err != nil {
		return err
	}
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid total")
	}
	locked, err := decimal.NewFromString(req.Locked)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid locked")
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid signature hex")
	}

	obs := oracle.Observation{
		ChainID: req.ChainID,
		Total:   total,
		Locked:  locked,
		Nonce:   req.Nonce,
	}
	if err := h.oracle.UpdateSupply(obs, sig); err != nil {
		return err
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	return nil
}

func (h *HTTP) setProtocolEnabled(enabled bool) apphttp.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		p := bridge.Protocol(chi.URLParam(r, "protocol"))
		if err := h.registry.SetEnabled(p, enabled); err != nil {
			return err
		}
		h.logger.Info("Protocol availability changed",
			zap.String("protocol", string(p)), zap.Bool("enabled", enabled))
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

type setFeeRequest struct {
	Bps int64 `json:"bps" validate:"gte=0"`
}

func (h *HTTP) setProtocolFee(w http.ResponseWriter, r *http.Request) error {
	var req setFeeRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	p := bridge.Protocol(chi.URLParam(r, "protocol"))
	if err := h.fees.SetProtocolFeeBps(p, req.Bps); err != nil {
		return err
	}
	h.logger.Info("Protocol fee changed",
		zap.String("protocol", string(p)), zap.Int64("bps", req.Bps))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type setMultiplierRequest struct {
	Multiplier string `json:"multiplier" validate:"required"`
}

func (h *HTTP) setChainMultiplier(w http.ResponseWriter, r *http.Request) error {
	var req setMultiplierRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	mul, err := decimal.NewFromString(req.Multiplier)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid multiplier")
	}
	chain := chi.URLParam(r, "chain")
	if err := h.fees.SetChainMultiplier(chain, mul); err != nil {
		return err
	}
	h.logger.Info("Chain multiplier changed",
		zap.String("chain", chain), zap.String("multiplier", mul.String()))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type setLimitsRequest struct {
	PerTx       string `json:"per_tx" validate:"required"`
	ChainDaily  string `json:"chain_daily" validate:"required"`
	GlobalDaily string `json:"global_daily" validate:"required"`
}

func (h *HTTP) setLimits(w http.ResponseWriter, r *http.Request) error {
	var req setLimitsRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	perTx, err := decimal.NewFromString(req.PerTx)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid per_tx")
	}
	chainDaily, err := decimal.NewFromString(req.ChainDaily)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid chain_daily")
	}
	globalDaily, err := decimal.NewFromString(req.GlobalDaily)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid global_daily")
	}
	if err := h.security.SetCeilings(perTx, chainDaily, globalDaily); err != nil {
		return err
	}
	h.logger.Info("Transfer ceilings changed",
		zap.String("per_tx", perTx.String()),
		zap.String("chain_daily", chainDaily.String()),
		zap.String("global_daily", globalDaily.String()))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) blacklist(w http.ResponseWriter, r *http.Request) error {
	account := chi.URLParam(r, "account")
	h.security.Blacklist(account)
	h.logger.Warn("Account blacklisted", zap.String("account", account))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) unblacklist(w http.ResponseWriter, r *http.Request) error {
	account := chi.URLParam(r, "account")
	h.security.Unblacklist(account)
	h.logger.Info("Account unblacklisted", zap.String("account", account))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type accountStatusResponse struct {
	Account           string `json:"account"`
	Status            string `json:"status"`
	RemainingCapacity string `json:"remaining_capacity,omitempty"`
}

func (h *HTTP) accountStatus(w http.ResponseWriter, r *http.Request) error {
	account := chi.URLParam(r, "account")
	h.writeJSON(w, http.StatusOK, &accountStatusResponse{
		Account: account,
		Status:  string(h.security.Status(account)),
	})
	return nil
}

func (h *HTTP) refundTransfer(w http.ResponseWriter, r *http.Request) error {
	if err := h.router.Refund(r.Context(), chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type expectedSupplyRequest struct {
	Expected string `json:"expected" validate:"required"`
}

func (h *HTTP) setExpectedSupply(w http.ResponseWriter, r *http.Request) error {
	var req expectedSupplyRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	expected, err := decimal.NewFromString(req.Expected)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid expected supply")
	}
	if err := h.oracle.SetExpectedSupply(expected); err != nil {
		return err
	}
	h.logger.Info("Expected supply changed", zap.String("expected", expected.String()))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type reporterRequest struct {
	Address string `json:"address" validate:"required"`
}

func (h *HTTP) addReporter(w http.ResponseWriter, r *http.Request) error {
	var req reporterRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	if !common.IsHexAddress(req.Address) {
		return apperrors.BadRequestError(nil, "invalid reporter address")
	}
	h.oracle.AddReporter(common.HexToAddress(req.Address))
	h.logger.Info("Reporter authorized", zap.String("address", req.Address))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) removeReporter(w http.ResponseWriter, r *http.Request) error {
	addr := chi.URLParam(r, "address")
	if !common.IsHexAddress(addr) {
		return apperrors.BadRequestError(nil, "invalid reporter address")
	}
	h.oracle.RemoveReporter(common.HexToAddress(addr))
	h.logger.Info("Reporter revoked", zap.String("address", addr))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) pause(w http.ResponseWriter, _ *http.Request) error {
	h.router.Pause()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) unpause(w http.ResponseWriter, _ *http.Request) error {
	h.router.Unpause()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) resume(w http.ResponseWriter, _ *http.Request) error {
	h.oracle.Resume()
	h.router.Unpause()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type collectedFeesResponse struct {
	Protocol string `json:"protocol"`
	Chain    string `json:"chain"`
	Amount   string `json:"amount"`
}

func (h *HTTP) collectedFees(w http.ResponseWriter, r *http.Request) error {
	p := bridge.Protocol(chi.URLParam(r, "protocol"))
	chain := chi.URLParam(r, "chain")
	h.writeJSON(w, http.StatusOK, &collectedFeesResponse{
		Protocol: string(p),
		Chain:    chain,
		Amount:   h.fees.Collected(p, chain).String(),
	})
	return nil
}

type withdrawRequest struct {
	Protocol string `json:"protocol" validate:"required"`
	Chain    string `json:"chain" validate:"required"`
}

type withdrawResponse struct {
	WithdrawalID string `json:"withdrawal_id"`
	Protocol     string `json:"protocol"`
	Chain        string `json:"chain"`
	Amount       string `json:"amount"`
}

func (h *HTTP) withdrawFees(w http.ResponseWriter, r *http.Request) error {
	var req withdrawRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	balance, err := h.fees.Withdraw(bridge.Protocol(req.Protocol), req.Chain)
	if err != nil {
		return err
	}
	withdrawalID := uuid.NewString()
	subject, _ := auth.SubjectFromContext(r.Context())
	h.logger.Info("Fees withdrawn",
		zap.String("withdrawal_id", withdrawalID),
		zap.String("protocol", req.Protocol),
		zap.String("chain", req.Chain),
		zap.String("amount", balance.String()),
		zap.String("admin", subject))
	h.writeJSON(w, http.StatusOK, &withdrawResponse{
		WithdrawalID: withdrawalID,
		Protocol:     req.Protocol,
		Chain:        req.Chain,
		Amount:       balance.String(),
	})
	return nil
}

type mintRequest struct {
	Account string `json:"account" validate:"required"`
	Amount  string `json:"amount" validate:"required"`
}

// mint credits the in-memory ledger. Operator tooling for single-node
// deployments where no external token contract backs the ledger.
func (h *HTTP) mint(w http.ResponseWriter, r *http.Request) error {
	var req mintRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid amount")
	}
	if err := h.ledger.Mint(r.Context(), req.Account, amount); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// decode reads, unmarshals and validates a JSON request body
func (h *HTTP) decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(dst); err != nil {
		return apperrors.BadRequestError(err, "request validation failed")
	}
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
