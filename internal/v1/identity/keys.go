// Package identity implements the key-pair identity model: Schnorr (BIP-340)
// signatures over secp256k1, with 32-byte x-only public keys that travel as
// 64-char hex strings on the wire and in the store.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrMalformedKey reports a public key that is not 64 hex chars or does
	// not decode to a curve point.
	ErrMalformedKey = errors.New("malformed public key")

	// ErrInvalidSignature reports a signature that does not verify against
	// the embedded public key.
	ErrInvalidSignature = errors.New("invalid signature")
)

// PublicKeyHexLen is the length of a hex-encoded x-only public key.
const PublicKeyHexLen = 64

// KeyPair is a long-lived client identity.
type KeyPair struct {
	priv *secp256k1.PrivateKey
}

// GenerateKeyPair creates a fresh identity.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// KeyPairFromHex restores an identity from a 64-char hex private key.
func KeyPairFromHex(privHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 hex-encoded bytes: %w", ErrMalformedKey)
	}
	return &KeyPair{priv: secp256k1.PrivKeyFromBytes(raw)}, nil
}

// PublicKeyHex returns the x-only public key as lowercase hex.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(schnorr.SerializePubKey(kp.priv.PubKey()))
}

// PrivateKeyHex returns the private key as lowercase hex, for export.
func (kp *KeyPair) PrivateKeyHex() string {
	return hex.EncodeToString(kp.priv.Serialize())
}

// parsePublicKey decodes a wire-format public key, enforcing the x-only form.
func parsePublicKey(pubHex string) (*secp256k1.PublicKey, error) {
	if len(pubHex) != PublicKeyHexLen {
		return nil, fmt.Errorf("public key must be %d hex chars, got %d: %w", PublicKeyHexLen, len(pubHex), ErrMalformedKey)
	}
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", ErrMalformedKey)
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key point: %w", ErrMalformedKey)
	}
	return pub, nil
}

// ValidatePublicKey checks that a wire-format public key is well formed.
func ValidatePublicKey(pubHex string) error {
	_, err := parsePublicKey(pubHex)
	return err
}
