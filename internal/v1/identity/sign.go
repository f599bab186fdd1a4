package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Sign produces a detached hex signature over the sha256 digest of the
// canonical bytes.
func (kp *KeyPair) Sign(canonical []byte) (string, error) {
	digest := sha256.Sum256(canonical)
	sig, err := schnorr.Sign(kp.priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("schnorr sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a detached signature against the canonical bytes and the
// signer's wire-format public key. It returns ErrMalformedKey for a key that
// cannot be parsed and ErrInvalidSignature when verification fails.
func Verify(pubHex, sigHex string, canonical []byte) error {
	pub, err := parsePublicKey(pubHex)
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(sigHex)
	if err != nil || len(raw) != schnorr.SignatureSize {
		return fmt.Errorf("signature must be %d hex-encoded bytes: %w", schnorr.SignatureSize, ErrInvalidSignature)
	}
	sig, err := schnorr.ParseSignature(raw)
	if err != nil {
		return fmt.Errorf("parse signature: %w", ErrInvalidSignature)
	}

	digest := sha256.Sum256(canonical)
	if !sig.Verify(digest[:], pub) {
		return ErrInvalidSignature
	}
	return nil
}
