package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// AccountReader defines the balance queries the handler needs.
type AccountReader interface {
	GetWallet(ctx context.Context, addr common.Address) (domain.Wallet, error)
	GetTokenAccount(ctx context.Context, addr common.Address) (domain.TokenAccount, error)
	ListTokenAccounts(ctx context.Context, authority common.Address) ([]domain.TokenAccount, error)
}

// AccountHandler serves wallet and token account endpoints.
type AccountHandler struct {
	accounts AccountReader
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// GetWallet returns the native balance of an identity.
// GET /api/wallets/{address}
func (h *AccountHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	wallet, err := h.accounts.GetWallet(r.Context(), addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GetTokenAccount returns one token account.
// GET /api/accounts/{address}
func (h *AccountHandler) GetTokenAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	acct, err := h.accounts.GetTokenAccount(r.Context(), addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ListTokenAccounts returns the token accounts an identity controls.
// GET /api/owners/{address}/accounts
func (h *AccountHandler) ListTokenAccounts(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	accounts, err := h.accounts.ListTokenAccounts(r.Context(), addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if accounts == nil {
		accounts = []domain.TokenAccount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}
