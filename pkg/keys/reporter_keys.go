// Package keys provides reporter key generation and encryption for the
// supply oracle. Reporter identities are secp256k1 keys; the oracle
// authorizes reporters by the address recovered from their signatures.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// ReporterKeyPair is a reporter's secp256k1 signing keypair.
type ReporterKeyPair struct {
	PublicKey  []byte // 33-byte compressed secp256k1 public key
	PrivateKey []byte // 32-byte secp256k1 private key
}

// GenerateReporterKeyPair generates a fresh secp256k1 keypair.
func GenerateReporterKeyPair() (*ReporterKeyPair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 keypair: %w", err)
	}
	return &ReporterKeyPair{
		PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		PrivateKey: crypto.FromECDSA(privateKey),
	}, nil
}

// DeriveReporterKeyPair deterministically derives a reporter keypair from a
// reporter id and an operator seed, so the same identity can be regenerated
// on redeploy. Uses HKDF with SHA-256.
func DeriveReporterKeyPair(reporterID string, seed []byte) (*ReporterKeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}
	info := []byte("supply-reporter-" + reporterID)
	hkdfReader := hkdf.New(sha256.New, seed, nil, info)

	privateKeyBytes := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, privateKeyBytes); err != nil {
		return nil, fmt.Errorf("failed to derive key seed: %w", err)
	}
	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create private key: %w", err)
	}
	return &ReporterKeyPair{
		PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		PrivateKey: crypto.FromECDSA(privateKey),
	}, nil
}

// FromPrivateKey reconstructs a keypair from raw private key bytes.
func FromPrivateKey(privateKeyBytes []byte) (*ReporterKeyPair, error) {
	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &ReporterKeyPair{
		PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		PrivateKey: crypto.FromECDSA(privateKey),
	}, nil
}

// ECDSA returns the keypair as an ecdsa.PrivateKey for signing.
func (kp *ReporterKeyPair) ECDSA() (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(kp.PrivateKey)
}

// Address returns the reporter identity the oracle authorizes.
func (kp *ReporterKeyPair) Address() (common.Address, error) {
	pub, err := crypto.DecompressPubkey(kp.PublicKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PublicKeyHex returns the public key as a hex string for display
func (kp *ReporterKeyPair) PublicKeyHex() string {
	return fmt.Sprintf("%x", kp.PublicKey)
}

// EncryptPrivateKey encrypts a reporter private key using AES-256-GCM.
// Returns base64 of nonce || ciphertext || tag.
func EncryptPrivateKey(privateKey []byte, masterKey []byte) (string, error) {
	if len(masterKey) != 32 {
		return "", fmt.Errorf("master key must be 32 bytes (AES-256)")
	}
	if len(privateKey) != 32 {
		return "", fmt.Errorf("private key must be 32 bytes (secp256k1)")
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, privateKey, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPrivateKey decrypts an encrypted reporter private key.
func DecryptPrivateKey(encrypted string, masterKey []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (AES-256)")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	if len(plaintext) != 32 {
		return nil, fmt.Errorf("decrypted key has wrong size: got %d, want 32", len(plaintext))
	}
	return plaintext, nil
}
