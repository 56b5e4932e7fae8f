package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/service"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
)

// countingLimiter allows the first n calls per key.
type countingLimiter struct {
	mu     sync.Mutex
	n      int
	counts map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (domain.RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	if l.counts[key] > l.n {
		return domain.RateDecision{RetryAfter: 1500 * time.Millisecond}, nil
	}
	return domain.RateDecision{Allowed: true, Remaining: l.n - l.counts[key]}, nil
}

type testAPI struct {
	t   *testing.T
	url string
}

func newTestAPI(t *testing.T, limiter domain.RateLimiter) *testAPI {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := memory.New()
	engine := settlement.NewEngine(store, settlement.Config{FeeScalar: settlement.DefaultFeeScalar}, logger)

	handlers := Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Markets:  handler.NewMarketHandler(engine, service.NewMarketService(store, nil, logger), logger),
		Listings: handler.NewListingHandler(engine, service.NewListingService(store, nil, logger), logger),
		Accounts: handler.NewAccountHandler(service.NewAccountService(store), logger),
		Events:   handler.NewEventHandler(service.NewEventService(nil), logger),
		Faucet:   handler.NewFaucetHandler(engine, logger),
	}
	srv := NewServer(Config{
		SignatureMaxAge: time.Minute,
		RateLimit:       100,
		RateLimitWindow: time.Minute,
	}, handlers, nil, limiter, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testAPI{t: t, url: ts.URL}
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := crypto.NewSigner(key)
	require.NoError(t, err)
	return s
}

// do sends a request, signing it when s is non-nil, and decodes a JSON
// response into out when out is non-nil.
func (a *testAPI) do(s *crypto.Signer, method, path string, body any, out any) int {
	a.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	var header http.Header
	if s != nil {
		header = a.sign(s, method, path, raw)
	}
	return a.send(method, path, raw, header, out)
}

// sign returns the authentication headers for one request.
func (a *testAPI) sign(s *crypto.Signer, method, path string, raw []byte) http.Header {
	a.t.Helper()
	nonce := uuid.NewString()
	ts := time.Now().Unix()
	sig, err := s.SignRequest(nonce, ts, method, path, raw)
	require.NoError(a.t, err)
	h := http.Header{}
	h.Set(crypto.HeaderAddress, s.Address().Hex())
	h.Set(crypto.HeaderNonce, nonce)
	h.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(crypto.HeaderSignature, sig)
	return h
}

func (a *testAPI) send(method, path string, raw []byte, header http.Header, out any) int {
	a.t.Helper()
	req, err := http.NewRequest(method, a.url+path, bytes.NewReader(raw))
	require.NoError(a.t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	if out != nil && len(data) > 0 {
		require.NoError(a.t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

func listingPath(l domain.Listing) string {
	return "/api/listings/" + l.Market.Hex() + "/" + l.AssetID.Hex() + "/" + l.Seller.Hex()
}

func TestMarketplaceLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)
	operator, seller, buyer := newSigner(t), newSigner(t), newSigner(t)

	var market domain.Market
	require.Equal(t, http.StatusCreated, api.do(operator, "POST", "/api/markets", map[string]any{"fee_rate": 50}, &market))
	assert.Equal(t, operator.Address(), market.Authority)

	var minted domain.TokenAccount
	require.Equal(t, http.StatusCreated, api.do(seller, "POST", "/api/dev/mint", nil, &minted))
	require.Equal(t, uint64(1), minted.Amount)

	var listing domain.Listing
	require.Equal(t, http.StatusCreated, api.do(seller, "POST", "/api/listings", map[string]any{
		"market":   market.Address,
		"asset_id": minted.Mint,
		"ask":      1000,
	}, &listing))
	assert.Equal(t, seller.Address(), listing.Seller)

	var q domain.Quote
	require.Equal(t, http.StatusOK, api.do(nil, "GET", listingPath(listing)+"/quote", nil, &q))
	assert.Equal(t, uint64(50), q.Fee)
	assert.Equal(t, uint64(1050), q.Total)

	// Only the seller may re-price.
	var errBody map[string]string
	require.Equal(t, http.StatusForbidden, api.do(buyer, "PUT", listingPath(listing)+"/ask", map[string]any{"amount": 1}, &errBody))
	assert.Equal(t, "InvalidAskAuth", errBody["code"])

	require.Equal(t, http.StatusOK, api.do(buyer, "POST", "/api/dev/airdrop", map[string]any{"amount": 5000}, nil))

	bid := uint64(900)
	require.Equal(t, http.StatusUnprocessableEntity, api.do(buyer, "POST", listingPath(listing)+"/buy", map[string]any{"bid": bid}, &errBody))
	assert.Equal(t, "BidTooLow", errBody["code"])

	var receipt settlement.Receipt
	require.Equal(t, http.StatusOK, api.do(buyer, "POST", listingPath(listing)+"/buy", nil, &receipt))
	assert.Equal(t, uint64(1050), receipt.Total)
	assert.True(t, receipt.Listing.Locked)

	require.Equal(t, http.StatusConflict, api.do(buyer, "POST", listingPath(listing)+"/buy", nil, &errBody))
	assert.Equal(t, "LockedListing", errBody["code"])

	var wallet domain.Wallet
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/wallets/"+buyer.Address().Hex(), nil, &wallet))
	assert.Equal(t, uint64(5000-1050), wallet.Lamports)

	var withdrawal settlement.Withdrawal
	require.Equal(t, http.StatusOK, api.do(operator, "POST", "/api/markets/"+market.Address.Hex()+"/withdraw", map[string]any{"amount": 50}, &withdrawal))
	assert.Equal(t, uint64(0), withdrawal.Remaining)

	var owned struct {
		Accounts []domain.TokenAccount `json:"accounts"`
	}
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/owners/"+buyer.Address().Hex()+"/accounts", nil, &owned))
	require.NotEmpty(t, owned.Accounts)
}

func TestCloseListingReturnsAsset(t *testing.T) {
	api := newTestAPI(t, nil)
	operator, seller, other := newSigner(t), newSigner(t), newSigner(t)

	var market domain.Market
	require.Equal(t, http.StatusCreated, api.do(operator, "POST", "/api/markets", map[string]any{"fee_rate": 0}, &market))
	var minted domain.TokenAccount
	require.Equal(t, http.StatusCreated, api.do(seller, "POST", "/api/dev/mint", nil, &minted))
	var listing domain.Listing
	require.Equal(t, http.StatusCreated, api.do(seller, "POST", "/api/listings", map[string]any{
		"market": market.Address, "asset_id": minted.Mint, "ask": 10,
	}, &listing))

	var errBody map[string]string
	require.Equal(t, http.StatusForbidden, api.do(other, "DELETE", listingPath(listing), nil, &errBody))
	assert.Equal(t, "InvalidCloseAuth", errBody["code"])

	require.Equal(t, http.StatusOK, api.do(seller, "DELETE", listingPath(listing), nil, nil))
	require.Equal(t, http.StatusNotFound, api.do(nil, "GET", listingPath(listing), nil, nil))

	var acct domain.TokenAccount
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/accounts/"+minted.Address.Hex(), nil, &acct))
	assert.Equal(t, uint64(1), acct.Amount)
}

func TestUnsignedMutationRejected(t *testing.T) {
	api := newTestAPI(t, nil)
	var errBody map[string]string
	require.Equal(t, http.StatusUnauthorized, api.do(nil, "POST", "/api/markets", map[string]any{"fee_rate": 1}, &errBody))
	assert.Equal(t, "Unauthenticated", errBody["code"])
}

func TestSignedRequestAcceptedOnce(t *testing.T) {
	api := newTestAPI(t, nil)
	operator, seller, buyer := newSigner(t), newSigner(t), newSigner(t)

	var market domain.Market
	require.Equal(t, http.StatusCreated, api.do(operator, "POST", "/api/markets", map[string]any{"fee_rate": 50}, &market))
	var minted domain.TokenAccount
	require.Equal(t, http.StatusCreated, api.do(seller, "POST", "/api/dev/mint", nil, &minted))
	var listing domain.Listing
	require.Equal(t, http.StatusCreated, api.do(seller, "POST", "/api/listings", map[string]any{
		"market": market.Address, "asset_id": minted.Mint, "ask": 1000,
	}, &listing))
	require.Equal(t, http.StatusOK, api.do(buyer, "POST", "/api/dev/airdrop", map[string]any{"amount": 5000}, nil))
	require.Equal(t, http.StatusOK, api.do(buyer, "POST", listingPath(listing)+"/buy", nil, nil))

	path := "/api/markets/" + market.Address.Hex() + "/withdraw"
	raw := []byte(`{"amount":20}`)
	header := api.sign(operator, "POST", path, raw)

	var withdrawal settlement.Withdrawal
	require.Equal(t, http.StatusOK, api.send("POST", path, raw, header, &withdrawal))
	assert.Equal(t, uint64(30), withdrawal.Remaining)

	var errBody map[string]string
	require.Equal(t, http.StatusUnauthorized, api.send("POST", path, raw, header, &errBody))
	assert.Equal(t, "replayed signature", errBody["error"])
	assert.Equal(t, "Unauthenticated", errBody["code"])

	var vault domain.TokenAccount
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/accounts/"+market.FeeVault.Hex(), nil, &vault))
	assert.Equal(t, uint64(30), vault.Amount)

	// A fresh signature over the same body goes through.
	require.Equal(t, http.StatusOK, api.send("POST", path, raw, api.sign(operator, "POST", path, raw), &withdrawal))
	assert.Equal(t, uint64(10), withdrawal.Remaining)
}

func TestMissingNonceRejected(t *testing.T) {
	api := newTestAPI(t, nil)
	operator := newSigner(t)
	raw := []byte(`{"fee_rate":1}`)
	header := api.sign(operator, "POST", "/api/markets", raw)
	header.Del(crypto.HeaderNonce)

	var errBody map[string]string
	require.Equal(t, http.StatusUnauthorized, api.send("POST", "/api/markets", raw, header, &errBody))
	assert.Equal(t, "missing signature headers", errBody["error"])
}

func TestReadEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	var health map[string]any
	assert.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/health", nil, &health))

	var markets struct {
		Markets []domain.Market `json:"markets"`
	}
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/markets", nil, &markets))
	assert.Empty(t, markets.Markets)

	assert.Equal(t, http.StatusBadRequest, api.do(nil, "GET", "/api/markets/not-an-address", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do(nil, "GET", "/api/markets/"+common.HexToAddress("0x01").Hex(), nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, api.do(nil, "GET", "/api/events", nil, nil))
}

func TestRateLimitApplied(t *testing.T) {
	api := newTestAPI(t, &countingLimiter{n: 2, counts: make(map[string]int)})
	assert.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/markets", nil, nil))
	assert.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/markets", nil, nil))

	resp, err := http.Get(api.url + "/api/markets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))
}
