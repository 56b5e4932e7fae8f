package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// MaxBodyBytes caps the size of a signed request body.
const MaxBodyBytes = 1 << 20

var errReplayed = errors.New("replayed signature")

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller returns the authenticated caller stored by SignatureAuth.
func Caller(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// SignatureAuth authenticates mutating requests (POST, PUT, PATCH, DELETE).
// The caller signs a nonce, the timestamp, method, path and body with its
// secp256k1 key; the recovered address must match X-Escrow-Address and the
// timestamp must be within maxAge of now. Each (caller, nonce) pair is
// accepted once: guard holds it for twice maxAge, which outlives the
// timestamp window. A nil guard uses a MemoryReplayGuard. Reads pass through
// unauthenticated.
func SignatureAuth(maxAge time.Duration, guard domain.ReplayGuard, logger *slog.Logger) func(http.Handler) http.Handler {
	if guard == nil {
		guard = NewMemoryReplayGuard()
	}
	return signatureAuth(maxAge, guard, logger, time.Now)
}

func signatureAuth(maxAge time.Duration, guard domain.ReplayGuard, logger *slog.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			caller, nonce, err := verifyRequest(w, r, maxAge, now())
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error(), "Unauthenticated")
				return
			}

			fresh, err := guard.Claim(r.Context(), caller.Hex()+":"+nonce, 2*maxAge)
			if err != nil {
				logger.ErrorContext(r.Context(), "auth: replay guard unavailable",
					slog.String("caller", caller.Hex()),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusServiceUnavailable, "replay check unavailable", "Unavailable")
				return
			}
			if !fresh {
				logger.WarnContext(r.Context(), "auth: replayed request rejected",
					slog.String("caller", caller.Hex()),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeError(w, http.StatusUnauthorized, errReplayed.Error(), "Unauthenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// verifyRequest checks the signature headers and returns the caller together
// with the nonce in canonical form.
func verifyRequest(w http.ResponseWriter, r *http.Request, maxAge time.Duration, now time.Time) (common.Address, string, error) {
	claimed := r.Header.Get(crypto.HeaderAddress)
	sig := r.Header.Get(crypto.HeaderSignature)
	tsRaw := r.Header.Get(crypto.HeaderTimestamp)
	nonceRaw := r.Header.Get(crypto.HeaderNonce)
	if claimed == "" || sig == "" || tsRaw == "" || nonceRaw == "" {
		return common.Address{}, "", errors.New("missing signature headers")
	}
	if !common.IsHexAddress(claimed) {
		return common.Address{}, "", errors.New("malformed caller address")
	}
	nonce, err := uuid.Parse(nonceRaw)
	if err != nil || len(nonceRaw) != 36 {
		return common.Address{}, "", errors.New("malformed nonce")
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, "", errors.New("malformed timestamp")
	}
	if age := now.Sub(time.Unix(ts, 0)); age > maxAge || age < -maxAge {
		return common.Address{}, "", fmt.Errorf("timestamp outside %s window", maxAge)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return common.Address{}, "", errors.New("unreadable request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	recovered, err := crypto.RecoverRequest(nonceRaw, ts, r.Method, r.URL.Path, body, sig)
	if err != nil {
		return common.Address{}, "", errors.New("invalid signature")
	}
	if recovered != common.HexToAddress(claimed) {
		return common.Address{}, "", errors.New("signature does not match caller")
	}
	return recovered, nonce.String(), nil
}
