// Package crypto signs and verifies escrow API requests and stores caller
// keys encrypted at rest.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion   = 2
	kdfIterations    = 480_000
	minKDFIterations = 100_000
	saltLen          = 16
)

// ErrKeyMismatch is returned when a key file decrypts to a key that does not
// belong to the address it is labelled with.
var ErrKeyMismatch = errors.New("crypto: key file address does not match key")

// keyFile is the on-disk format. The address is stored in the clear so it can
// be shown without the password, and is bound to the ciphertext as
// additional authenticated data.
type keyFile struct {
	Version int    `json:"version"`
	Address string `json:"address"`
	KDF     struct {
		Name       string `json:"name"`
		Iterations int    `json:"iterations"`
		Salt       string `json:"salt"`
	} `json:"kdf"`
	Cipher struct {
		Name       string `json:"name"`
		Nonce      string `json:"nonce"`
		Ciphertext string `json:"ciphertext"`
	} `json:"cipher"`
}

// KeyConfig tells LoadKey where the caller's private key lives.
type KeyConfig struct {
	// RawPrivateKey is hex, with or without a 0x prefix.
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex-encoded secp256k1 key under password
// (PBKDF2-HMAC-SHA256, AES-256-GCM) and returns the key file contents.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	aead, err := sealer(password, salt, kdfIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	var kf keyFile
	kf.Version = keyFileVersion
	kf.Address = addr.Hex()
	kf.KDF.Name = "pbkdf2-sha256"
	kf.KDF.Iterations = kdfIterations
	kf.KDF.Salt = base64.StdEncoding.EncodeToString(salt)
	kf.Cipher.Name = "aes-256-gcm"
	kf.Cipher.Nonce = base64.StdEncoding.EncodeToString(nonce)
	kf.Cipher.Ciphertext = base64.StdEncoding.EncodeToString(
		aead.Seal(nil, nonce, ethcrypto.FromECDSA(pk), addr.Bytes()),
	)
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file and returns the private key as hex without a
// 0x prefix. The key must derive the address the file is labelled with.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	kf, addr, err := parseKeyFile(data)
	if err != nil {
		return "", err
	}
	if kf.KDF.Iterations < minKDFIterations {
		return "", fmt.Errorf("crypto: key file uses %d kdf iterations, want at least %d", kf.KDF.Iterations, minKDFIterations)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", kf.KDF.Salt, &salt},
		{"nonce", kf.Cipher.Nonce, &nonce},
		{"ciphertext", kf.Cipher.Ciphertext, &ciphertext},
	} {
		if *f.out, err = base64.StdEncoding.DecodeString(f.in); err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
	}

	aead, err := sealer(password, salt, kf.KDF.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), aead.NonceSize())
	}
	raw, err := aead.Open(nil, nonce, ciphertext, addr.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto: wrong password or corrupted key file: %w", err)
	}

	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypted key is invalid: %w", err)
	}
	if !bytes.Equal(ethcrypto.PubkeyToAddress(pk.PublicKey).Bytes(), addr.Bytes()) {
		return "", ErrKeyMismatch
	}
	return hex.EncodeToString(raw), nil
}

// KeyFileAddress returns the address a key file is labelled with. No
// password is needed.
func KeyFileAddress(data []byte) (common.Address, error) {
	_, addr, err := parseKeyFile(data)
	return addr, err
}

func parseKeyFile(data []byte) (keyFile, common.Address, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, common.Address{}, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return kf, common.Address{}, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if !common.IsHexAddress(kf.Address) {
		return kf, common.Address{}, fmt.Errorf("crypto: key file address %q is invalid", kf.Address)
	}
	return kf, common.HexToAddress(kf.Address), nil
}

func sealer(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

// WriteEncryptedKey encrypts privateKeyHex into a new key file at path with
// 0600 permissions. An existing file is left alone.
func WriteEncryptedKey(path, privateKeyHex, password string) error {
	data, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	return nil
}

// LoadKey resolves a private key from cfg. A raw key takes precedence over
// an encrypted key file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not valid hex: %w", err)
		}
		return k, nil
	}
	if cfg.EncryptedKeyPath == "" {
		return "", errors.New("crypto: no private key configured")
	}
	data, err := os.ReadFile(cfg.EncryptedKeyPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read key file: %w", err)
	}
	return DecryptKey(data, cfg.KeyPassword)
}
