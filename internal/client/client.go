// Package client is a Go client for the escrowd HTTP API. Mutating calls are
// signed with the caller's key.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// Client talks to one escrowd instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	now        func() time.Time
}

// New creates a Client for baseURL, e.g. "http://localhost:8080". signer may
// be nil for read-only use.
func New(baseURL string, signer *crypto.Signer) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		now:    time.Now,
	}
}

// WithHTTPClient replaces the default HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// APIError is a non-2xx response. It unwraps to the matching domain error
// when the server reported a known code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Unwrap allows errors.Is(err, domain.ErrLockedListing) and friends.
func (e *APIError) Unwrap() error {
	if err, ok := codeErrors[e.Code]; ok {
		return err
	}
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusServiceUnavailable:
		return domain.ErrUnavailable
	}
	return nil
}

var codeErrors = map[string]error{
	"LockedListing":     domain.ErrLockedListing,
	"BidTooLow":         domain.ErrBidTooLow,
	"ZeroAsk":           domain.ErrZeroAsk,
	"InvalidAskAuth":    domain.ErrInvalidAskAuth,
	"InvalidCloseAuth":  domain.ErrInvalidCloseAuth,
	"InvalidFeeAuth":    domain.ErrInvalidFeeAuth,
	"FeeOverflow":       domain.ErrFeeOverflow,
	"InsufficientFunds": domain.ErrInsufficientFunds,
	"AssetNotHeld":      domain.ErrAssetNotHeld,
	"MintMismatch":      domain.ErrMintMismatch,
	"BalanceOverflow":   domain.ErrBalanceOverflow,
	"InvalidAuthority":  domain.ErrInvalidAuthority,
	"Unauthorized":      domain.ErrUnauthorized,
	"NotFound":          domain.ErrNotFound,
	"AlreadyExists":     domain.ErrAlreadyExists,
	"Conflict":          domain.ErrConflict,
	"RateLimited":       domain.ErrRateLimited,
	"InvalidInput":      domain.ErrInvalidInput,
	"Unavailable":       domain.ErrUnavailable,
}

// CreateMarket creates a market owned by the signer.
func (c *Client) CreateMarket(ctx context.Context, feeRate uint64) (domain.Market, error) {
	var m domain.Market
	err := c.do(ctx, http.MethodPost, "/api/markets", map[string]any{"fee_rate": feeRate}, &m)
	if err != nil {
		return domain.Market{}, fmt.Errorf("client: create market: %w", err)
	}
	return m, nil
}

// GetMarket fetches one market.
func (c *Client) GetMarket(ctx context.Context, market common.Address) (domain.Market, error) {
	var m domain.Market
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+market.Hex(), nil, &m); err != nil {
		return domain.Market{}, fmt.Errorf("client: get market: %w", err)
	}
	return m, nil
}

// ListListings pages through a market's listings.
func (c *Client) ListListings(ctx context.Context, market common.Address, onlyActive bool, opts domain.ListOpts) ([]domain.Listing, error) {
	q := url.Values{}
	if onlyActive {
		q.Set("active", "true")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/markets/" + market.Hex() + "/listings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Listings []domain.Listing `json:"listings"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("client: list listings: %w", err)
	}
	return resp.Listings, nil
}

// CreateListing escrows an asset of the signer and offers it at ask.
func (c *Client) CreateListing(ctx context.Context, req settlement.CreateListingRequest) (domain.Listing, error) {
	var l domain.Listing
	if err := c.do(ctx, http.MethodPost, "/api/listings", req, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("client: create listing: %w", err)
	}
	return l, nil
}

// GetListing fetches one listing.
func (c *Client) GetListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	var l domain.Listing
	if err := c.do(ctx, http.MethodGet, listingPath(key), nil, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("client: get listing: %w", err)
	}
	return l, nil
}

// Quote prices a listing.
func (c *Client) Quote(ctx context.Context, key domain.ListingKey) (domain.Quote, error) {
	var q domain.Quote
	if err := c.do(ctx, http.MethodGet, listingPath(key)+"/quote", nil, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("client: quote: %w", err)
	}
	return q, nil
}

// Buy purchases a listing. A non-nil bid caps the accepted ask.
func (c *Client) Buy(ctx context.Context, key domain.ListingKey, bid *uint64) (settlement.Receipt, error) {
	body := map[string]any{}
	if bid != nil {
		body["bid"] = *bid
	}
	var r settlement.Receipt
	if err := c.do(ctx, http.MethodPost, listingPath(key)+"/buy", body, &r); err != nil {
		return settlement.Receipt{}, fmt.Errorf("client: buy: %w", err)
	}
	return r, nil
}

// Ask re-prices a listing of the signer.
func (c *Client) Ask(ctx context.Context, key domain.ListingKey, amount uint64) (domain.Listing, error) {
	var l domain.Listing
	if err := c.do(ctx, http.MethodPut, listingPath(key)+"/ask", map[string]any{"amount": amount}, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("client: ask: %w", err)
	}
	return l, nil
}

// CloseListing withdraws an unsold listing of the signer.
func (c *Client) CloseListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	var l domain.Listing
	if err := c.do(ctx, http.MethodDelete, listingPath(key), nil, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("client: close listing: %w", err)
	}
	return l, nil
}

// WithdrawFees moves collected fees of a market owned by the signer.
func (c *Client) WithdrawFees(ctx context.Context, market common.Address, amount uint64, dest *common.Address) (settlement.Withdrawal, error) {
	body := map[string]any{"amount": amount}
	if dest != nil {
		body["destination"] = dest
	}
	var w settlement.Withdrawal
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/withdraw", body, &w); err != nil {
		return settlement.Withdrawal{}, fmt.Errorf("client: withdraw fees: %w", err)
	}
	return w, nil
}

// GetWallet fetches the native balance of addr.
func (c *Client) GetWallet(ctx context.Context, addr common.Address) (domain.Wallet, error) {
	var w domain.Wallet
	if err := c.do(ctx, http.MethodGet, "/api/wallets/"+addr.Hex(), nil, &w); err != nil {
		return domain.Wallet{}, fmt.Errorf("client: get wallet: %w", err)
	}
	return w, nil
}

// ListTokenAccounts lists the token accounts controlled by addr.
func (c *Client) ListTokenAccounts(ctx context.Context, addr common.Address) ([]domain.TokenAccount, error) {
	var resp struct {
		Accounts []domain.TokenAccount `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/owners/"+addr.Hex()+"/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("client: list token accounts: %w", err)
	}
	return resp.Accounts, nil
}

// Airdrop asks the development faucet for currency. A nil to credits the
// signer.
func (c *Client) Airdrop(ctx context.Context, to *common.Address, amount uint64) (domain.Wallet, error) {
	body := map[string]any{"amount": amount}
	if to != nil {
		body["to"] = to
	}
	var w domain.Wallet
	if err := c.do(ctx, http.MethodPost, "/api/dev/airdrop", body, &w); err != nil {
		return domain.Wallet{}, fmt.Errorf("client: airdrop: %w", err)
	}
	return w, nil
}

// MintAsset asks the development faucet for a new unique asset.
func (c *Client) MintAsset(ctx context.Context) (domain.TokenAccount, error) {
	var a domain.TokenAccount
	if err := c.do(ctx, http.MethodPost, "/api/dev/mint", nil, &a); err != nil {
		return domain.TokenAccount{}, fmt.Errorf("client: mint asset: %w", err)
	}
	return a, nil
}

func listingPath(k domain.ListingKey) string {
	return "/api/listings/" + k.Market.Hex() + "/" + k.AssetID.Hex() + "/" + k.Seller.Hex()
}

// do sends a request and decodes the JSON response into out. Non-GET requests
// are signed over the path without its query string.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method != http.MethodGet {
		if c.signer == nil {
			return fmt.Errorf("%s %s needs a signing key", method, path)
		}
		nonce := uuid.NewString()
		ts := c.now().Unix()
		sig, err := c.signer.SignRequest(nonce, ts, method, req.URL.Path, raw)
		if err != nil {
			return err
		}
		req.Header.Set(crypto.HeaderAddress, c.signer.Address().Hex())
		req.Header.Set(crypto.HeaderNonce, nonce)
		req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(crypto.HeaderSignature, sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(respBody, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Code = payload.Error, payload.Code
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
