package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// ListingEngine is the settlement surface the listing handler drives.
type ListingEngine interface {
	CreateListing(ctx context.Context, caller common.Address, req settlement.CreateListingRequest) (domain.Listing, error)
	Buy(ctx context.Context, caller common.Address, req settlement.BuyRequest) (settlement.Receipt, error)
	Ask(ctx context.Context, caller common.Address, req settlement.AskRequest) (domain.Listing, error)
	CloseListing(ctx context.Context, caller common.Address, req settlement.CloseListingRequest) (domain.Listing, error)
	Quote(ctx context.Context, key domain.ListingKey) (domain.Quote, error)
}

// ListingReader defines the listing queries the handler needs.
type ListingReader interface {
	GetListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error)
	ListBySeller(ctx context.Context, seller common.Address, onlyActive bool, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves listing endpoints.
type ListingHandler struct {
	engine   ListingEngine
	listings ListingReader
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(engine ListingEngine, listings ListingReader, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		engine:   engine,
		listings: listings,
		logger:   logger,
	}
}

type buyRequest struct {
	Bid         *uint64         `json:"bid,omitempty"`
	Destination *common.Address `json:"destination,omitempty"`
}

type askRequest struct {
	Amount uint64 `json:"amount"`
}

type closeRequest struct {
	Destination *common.Address `json:"destination,omitempty"`
}

// CreateListing escrows one of the caller's assets and offers it for sale.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req settlement.CreateListingRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Market == (common.Address{}) || req.AssetID == (common.Address{}) {
		writeBadRequest(w, "market and asset_id are required")
		return
	}

	listing, err := h.engine.CreateListing(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// GetListing returns one listing.
// GET /api/listings/{market}/{asset}/{seller}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	key, ok := listingKey(w, r)
	if !ok {
		return
	}
	listing, err := h.listings.GetListing(r.Context(), key)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// Quote returns the ask, fee and total a buyer would pay now.
// GET /api/listings/{market}/{asset}/{seller}/quote
func (h *ListingHandler) Quote(w http.ResponseWriter, r *http.Request) {
	key, ok := listingKey(w, r)
	if !ok {
		return
	}
	q, err := h.engine.Quote(r.Context(), key)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Buy purchases a listing for the caller.
// POST /api/listings/{market}/{asset}/{seller}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	key, ok := listingKey(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	receipt, err := h.engine.Buy(r.Context(), caller, settlement.BuyRequest{
		Market:      key.Market,
		AssetID:     key.AssetID,
		Seller:      key.Seller,
		Bid:         req.Bid,
		Destination: req.Destination,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Ask re-prices a listing. Only the seller may call it.
// PUT /api/listings/{market}/{asset}/{seller}/ask
func (h *ListingHandler) Ask(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	key, ok := listingKey(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	listing, err := h.engine.Ask(r.Context(), caller, settlement.AskRequest{
		Market:  key.Market,
		AssetID: key.AssetID,
		Seller:  key.Seller,
		Amount:  req.Amount,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// CloseListing withdraws an unsold listing and returns the asset.
// DELETE /api/listings/{market}/{asset}/{seller}
func (h *ListingHandler) CloseListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	key, ok := listingKey(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	listing, err := h.engine.CloseListing(r.Context(), caller, settlement.CloseListingRequest{
		Market:      key.Market,
		AssetID:     key.AssetID,
		Seller:      &key.Seller,
		Destination: req.Destination,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// ListBySeller pages through a seller's listings.
// GET /api/sellers/{seller}/listings?active=true
func (h *ListingHandler) ListBySeller(w http.ResponseWriter, r *http.Request) {
	seller, ok := addressParam(w, r, "seller")
	if !ok {
		return
	}
	opts := parseListOpts(r)
	listings, err := h.listings.ListBySeller(r.Context(), seller, onlyActive(r), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listListingsResponse{Listings: listings, Limit: opts.Limit, Offset: opts.Offset})
}
