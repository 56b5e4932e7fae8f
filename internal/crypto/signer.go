package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers.
const (
	HeaderAddress   = "X-Escrow-Address"
	HeaderTimestamp = "X-Escrow-Timestamp"
	HeaderSignature = "X-Escrow-Signature"
	HeaderNonce     = "X-Escrow-Nonce"
)

const requestPrefix = "\x19Escrow Signed Request:\n"

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the claimed address.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestDigest is the keccak256 hash a caller signs to authenticate an API
// request: keccak256(prefix || nonce || timestamp || method || path || body).
// The nonce is a UUID in its 36 character text form.
func RequestDigest(nonce string, timestamp int64, method, path string, body []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(requestPrefix),
		[]byte(nonce),
		[]byte(strconv.FormatInt(timestamp, 10)),
		[]byte(strings.ToUpper(method)),
		[]byte(path),
		body,
	)
}

// Signer signs API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the identity the signer authenticates as.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns the 0x-prefixed 65-byte signature over the request
// digest, with V in {27, 28}.
func (s *Signer) SignRequest(nonce string, timestamp int64, method, path string, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(RequestDigest(nonce, timestamp, method, path, body), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign request: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RecoverRequest returns the address that produced sigHex over the request.
func RecoverRequest(nonce string, timestamp int64, method, path string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(nonce, timestamp, method, path, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// GenerateKey creates a new secp256k1 key and returns it hex-encoded along
// with its address.
func GenerateKey() (string, common.Address, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", common.Address{}, fmt.Errorf("crypto: generate key: %w", err)
	}
	return common.Bytes2Hex(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}
