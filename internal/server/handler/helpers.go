package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/server/middleware"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeBadRequest rejects malformed input.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "InvalidInput"})
}

// writeError maps a service error to its HTTP status. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLockedListing),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAssetNotHeld),
		errors.Is(err, domain.ErrBidTooLow),
		errors.Is(err, domain.ErrZeroAsk),
		errors.Is(err, domain.ErrMintMismatch),
		errors.Is(err, domain.ErrFeeOverflow),
		errors.Is(err, domain.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, middleware.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// requireCaller returns the authenticated caller or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "request is not signed", Code: "Unauthenticated"})
		return common.Address{}, false
	}
	return caller, true
}

// addressParam parses a hex address path parameter.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := r.PathValue(name)
	if !common.IsHexAddress(raw) {
		writeBadRequest(w, fmt.Sprintf("%s must be a hex address", name))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// listingKey parses the {market}/{asset}/{seller} path parameters.
func listingKey(w http.ResponseWriter, r *http.Request) (domain.ListingKey, bool) {
	market, ok := addressParam(w, r, "market")
	if !ok {
		return domain.ListingKey{}, false
	}
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return domain.ListingKey{}, false
	}
	seller, ok := addressParam(w, r, "seller")
	if !ok {
		return domain.ListingKey{}, false
	}
	return domain.ListingKey{Market: market, AssetID: asset, Seller: seller}, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// onlyActive reads the ?active=true filter.
func onlyActive(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	return v
}
