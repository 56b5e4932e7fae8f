package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Faucet creates currency and assets in development deployments.
type Faucet interface {
	Airdrop(ctx context.Context, to common.Address, amount uint64) (domain.Wallet, error)
	MintAsset(ctx context.Context, owner common.Address) (domain.TokenAccount, error)
}

// FaucetHandler serves the development faucet endpoints.
type FaucetHandler struct {
	faucet Faucet
	logger *slog.Logger
}

// NewFaucetHandler creates a FaucetHandler.
func NewFaucetHandler(faucet Faucet, logger *slog.Logger) *FaucetHandler {
	return &FaucetHandler{faucet: faucet, logger: logger}
}

type airdropRequest struct {
	To     *common.Address `json:"to,omitempty"`
	Amount uint64          `json:"amount"`
}

// Airdrop credits native currency to the caller, or to the given identity.
// POST /api/dev/airdrop
func (h *FaucetHandler) Airdrop(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req airdropRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Amount == 0 {
		writeBadRequest(w, "amount must be positive")
		return
	}
	to := caller
	if req.To != nil {
		to = *req.To
	}

	wallet, err := h.faucet.Airdrop(r.Context(), to, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// Mint creates a unique asset held by the caller.
// POST /api/dev/mint
func (h *FaucetHandler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	acct, err := h.faucet.MintAsset(r.Context(), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}
