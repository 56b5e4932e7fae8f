package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// MarketEngine is the settlement surface the market handler drives.
type MarketEngine interface {
	CreateMarket(ctx context.Context, caller common.Address, feeRate uint64) (domain.Market, error)
	WithdrawFees(ctx context.Context, caller common.Address, req settlement.WithdrawFeesRequest) (settlement.Withdrawal, error)
}

// MarketReader defines the market queries the handler needs. It is declared
// locally so the handler package does not depend on the service package.
type MarketReader interface {
	GetMarket(ctx context.Context, addr common.Address) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListListings(ctx context.Context, market common.Address, onlyActive bool, opts domain.ListOpts) ([]domain.Listing, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	engine  MarketEngine
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(engine MarketEngine, markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine:  engine,
		markets: markets,
		logger:  logger,
	}
}

type createMarketRequest struct {
	FeeRate uint64 `json:"fee_rate"`
}

type withdrawRequest struct {
	Amount      uint64          `json:"amount"`
	Destination *common.Address `json:"destination,omitempty"`
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// CreateMarket creates a market owned by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	market, err := h.engine.CreateMarket(r.Context(), caller, req.FeeRate)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets pages through markets.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns one market.
// GET /api/markets/{market}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "market")
	if !ok {
		return
	}
	market, err := h.markets.GetMarket(r.Context(), addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListListings pages through the listings of a market.
// GET /api/markets/{market}/listings?active=true&limit=50&offset=0
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "market")
	if !ok {
		return
	}
	opts := parseListOpts(r)
	listings, err := h.markets.ListListings(r.Context(), addr, onlyActive(r), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listListingsResponse{Listings: listings, Limit: opts.Limit, Offset: opts.Offset})
}

// WithdrawFees moves collected fees to the caller's native account or the
// given destination.
// POST /api/markets/{market}/withdraw
func (h *MarketHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	addr, ok := addressParam(w, r, "market")
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	out, err := h.engine.WithdrawFees(r.Context(), caller, settlement.WithdrawFeesRequest{
		Market:      addr,
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
