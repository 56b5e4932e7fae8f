package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/server"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/service"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
)

func startServer(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := memory.New()
	engine := settlement.NewEngine(store, settlement.Config{RejectZeroAsk: true}, logger)
	srv := server.NewServer(server.Config{SignatureMaxAge: time.Minute}, server.Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Markets:  handler.NewMarketHandler(engine, service.NewMarketService(store, nil, logger), logger),
		Listings: handler.NewListingHandler(engine, service.NewListingService(store, nil, logger), logger),
		Accounts: handler.NewAccountHandler(service.NewAccountService(store), logger),
		Events:   handler.NewEventHandler(service.NewEventService(nil), logger),
		Faucet:   handler.NewFaucetHandler(engine, logger),
	}, nil, nil, nil, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	key, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key)
	require.NoError(t, err)
	return New(url+"/", signer)
}

func TestClientTrade(t *testing.T) {
	ctx := context.Background()
	url := startServer(t)
	operator, seller, buyer := newClient(t, url), newClient(t, url), newClient(t, url)

	market, err := operator.CreateMarket(ctx, 100)
	require.NoError(t, err)

	asset, err := seller.MintAsset(ctx)
	require.NoError(t, err)

	_, err = seller.CreateListing(ctx, settlement.CreateListingRequest{Market: market.Address, AssetID: asset.Mint, Ask: 0})
	require.ErrorIs(t, err, domain.ErrZeroAsk)

	listing, err := seller.CreateListing(ctx, settlement.CreateListingRequest{Market: market.Address, AssetID: asset.Mint, Ask: 200})
	require.NoError(t, err)
	key := listing.Key()

	listings, err := buyer.ListListings(ctx, market.Address, true, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listings, 1)

	q, err := buyer.Quote(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(220), q.Total)

	_, err = buyer.Buy(ctx, key, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = buyer.Airdrop(ctx, nil, 1000)
	require.NoError(t, err)

	_, err = buyer.Ask(ctx, key, 1)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	repriced, err := seller.Ask(ctx, key, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), repriced.Ask)

	bid := uint64(200)
	_, err = buyer.Buy(ctx, key, &bid)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	receipt, err := buyer.Buy(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(330), receipt.Total)

	_, err = buyer.Buy(ctx, key, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "LockedListing", apiErr.Code)
	assert.ErrorIs(t, err, domain.ErrLockedListing)

	wallet, err := buyer.GetWallet(ctx, buyer.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(670), wallet.Lamports)

	w, err := operator.WithdrawFees(ctx, market.Address, 30, nil)
	require.NoError(t, err)
	assert.Zero(t, w.Remaining)

	accts, err := buyer.ListTokenAccounts(ctx, buyer.signer.Address())
	require.NoError(t, err)
	assert.NotEmpty(t, accts)
}

func TestClientCloseListing(t *testing.T) {
	ctx := context.Background()
	url := startServer(t)
	operator, seller := newClient(t, url), newClient(t, url)

	market, err := operator.CreateMarket(ctx, 0)
	require.NoError(t, err)
	asset, err := seller.MintAsset(ctx)
	require.NoError(t, err)
	listing, err := seller.CreateListing(ctx, settlement.CreateListingRequest{Market: market.Address, AssetID: asset.Mint, Ask: 5})
	require.NoError(t, err)

	_, err = seller.CloseListing(ctx, listing.Key())
	require.NoError(t, err)

	_, err = seller.GetListing(ctx, listing.Key())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientReadOnlyCannotSign(t *testing.T) {
	c := New("http://127.0.0.1:1", nil)
	_, err := c.CreateMarket(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a signing key")
}
