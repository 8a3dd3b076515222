// Package crypto holds the resolution authority's key material: an
// encrypted key file format, EIP-191 signing of resolution messages and
// signer recovery.
package crypto

import (
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

	"golang.org/x/crypto/pbkdf2"
)

const (
	// defaultIterations is the OWASP-recommended minimum for HMAC-SHA256.
	defaultIterations = 600_000
	// legacyIterations applies to version 1 files, which did not record
	// their work factor.
	legacyIterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 2
)

// ErrNoKey is returned by LoadKey when neither key source is configured.
var ErrNoKey = errors.New("crypto: no authority key configured")

// keyFile is the on-disk format. Binary fields are base64 standard encoded.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the authority key comes from. RawPrivateKey wins
// over EncryptedKeyPath.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex-encoded secp256k1 key under password with
// PBKDF2-HMAC-SHA256 and AES-256-GCM and returns the JSON key file.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	return encryptKey(privateKeyHex, password, defaultIterations)
}

func encryptKey(privateKeyHex, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	signer, err := NewAuthoritySigner(keyHex)
	if err != nil {
		return nil, err
	}
	keyBytes, _ := hex.DecodeString(keyHex)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    currentVersion,
		Address:    signer.Address(),
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the key as
// hex without 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	iterations := kf.Iterations
	switch kf.Version {
	case 1:
		iterations = legacyIterations
	case currentVersion:
		if iterations <= 0 {
			return "", errors.New("crypto: key file has no iteration count")
		}
	default:
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	keyHex := hex.EncodeToString(plaintext)

	if kf.Address != "" {
		s, err := NewAuthoritySigner(keyHex)
		if err != nil {
			return "", err
		}
		if !strings.EqualFold(s.Address(), kf.Address) {
			return "", fmt.Errorf("crypto: key file address %s does not match decrypted key", kf.Address)
		}
	}
	return keyHex, nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// WriteKeyFile encrypts the key and writes it to path with 0600
// permissions. An existing file is never overwritten.
func WriteKeyFile(path, privateKeyHex, password string) (address string, err error) {
	data, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("crypto: create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("crypto: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("crypto: close key file: %w", err)
	}
	var kf keyFile
	_ = json.Unmarshal(data, &kf)
	return kf.Address, nil
}

// LoadKey resolves the authority key as hex without 0x prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	if raw := strings.TrimSpace(cfg.RawPrivateKey); raw != "" {
		k := strings.TrimPrefix(raw, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not valid hex: %w", err)
		}
		return k, nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", ErrNoKey
}

// LoadSigner resolves the key and wraps it in an AuthoritySigner.
func LoadSigner(cfg KeyConfig) (*AuthoritySigner, error) {
	k, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewAuthoritySigner(k)
}
