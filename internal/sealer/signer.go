package sealer

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Signer signs merkle roots.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() []byte
}

// Ed25519Signer signs with an in-memory ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps priv.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// GenerateSigner creates a signer with a fresh key that is never persisted.
func GenerateSigner() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewEd25519Signer(priv), nil
}

// Sign returns the ed25519 signature of msg.
func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

// PublicKey returns the verifying key.
func (s *Ed25519Signer) PublicKey() []byte {
	return s.priv.Public().(ed25519.PublicKey)
}

// LoadOrGenerateSigner loads a hex-encoded ed25519 seed from path, or
// generates one and writes it there with 0600 permissions.
func LoadOrGenerateSigner(path string) (*Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, derr := hex.DecodeString(strings.TrimSpace(string(data)))
		if derr != nil {
			return nil, fmt.Errorf("invalid key file %s: %w", path, derr)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid key file %s: expected %d byte seed, got %d", path, ed25519.SeedSize, len(seed))
		}
		return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	s, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(s.priv.Seed())+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return s, nil
}

// VerifySignature checks a hex signature of msg against a hex public key.
func VerifySignature(publicKeyHex, signatureHex string, msg []byte) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
