package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
)

var epoch = time.Unix(1_700_000_000, 0)

type failingGuard struct{}

func (failingGuard) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func signedRequest(t *testing.T, s *crypto.Signer, nonce string, body []byte) *http.Request {
	t.Helper()
	sig, err := s.SignRequest(nonce, epoch.Unix(), http.MethodPost, "/api/markets", body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewReader(body))
	r.Header.Set(crypto.HeaderAddress, s.Address().Hex())
	r.Header.Set(crypto.HeaderNonce, nonce)
	r.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(epoch.Unix(), 10))
	r.Header.Set(crypto.HeaderSignature, sig)
	return r
}

func newAuthHandler(guard *MemoryReplayGuard) (http.Handler, *int) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})
	h := signatureAuth(time.Minute, guard, slog.New(slog.DiscardHandler), func() time.Time { return epoch })(next)
	return h, &calls
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestSignatureAuthRejectsReplay(t *testing.T) {
	key, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key)
	require.NoError(t, err)

	h, calls := newAuthHandler(NewMemoryReplayGuard())
	nonce := uuid.NewString()
	body := []byte(`{"fee_rate":50}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, signer, nonce, body))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, signer, nonce, body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errorBody{Error: "replayed signature", Code: "Unauthenticated"}, decodeError(t, rec))

	// Re-signing the same nonce in upper case is the same claim.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, signer, strings.ToUpper(nonce), body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, signer, uuid.NewString(), body))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, *calls)
}

func TestSignatureAuthMalformedNonce(t *testing.T) {
	key, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key)
	require.NoError(t, err)
	h, calls := newAuthHandler(NewMemoryReplayGuard())

	for _, nonce := range []string{"1", "7d4448409dc011d1b2455ffdce74fad2", "{7d444840-9dc0-11d1-b245-5ffdce74fad2}"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(t, signer, nonce, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, nonce)
		assert.Equal(t, "malformed nonce", decodeError(t, rec).Error)
	}
	assert.Zero(t, *calls)
}

func TestSignatureAuthGuardUnavailable(t *testing.T) {
	key, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key)
	require.NoError(t, err)

	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	h := signatureAuth(time.Minute, failingGuard{}, slog.New(slog.DiscardHandler), func() time.Time { return epoch })(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, signer, uuid.NewString(), nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Unavailable", decodeError(t, rec).Code)
	assert.False(t, called)
}

func TestMemoryReplayGuardExpires(t *testing.T) {
	now := epoch
	g := NewMemoryReplayGuard()
	g.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := g.Claim(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Claim(ctx, "a", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = g.Claim(ctx, "a", time.Minute)
	assert.True(t, ok)

	now = now.Add(3 * time.Minute)
	_, _ = g.Claim(ctx, "b", time.Minute)
	assert.NotContains(t, g.seen, "a")
}

func TestWriteErrorEncodesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusUnauthorized, `bad "header"`, "Unauthenticated")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, errorBody{Error: `bad "header"`, Code: "Unauthenticated"}, decodeError(t, rec))
}
