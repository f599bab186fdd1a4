package identity

import (
	"fmt"
	"net/http"
)

// HTTP request signing transports the signer's key in a header and signs a
// canonicalization of method, path, and body. Client and server must build
// the exact same payload, so both sides share requestPayload.

const (
	// HeaderPublicKey carries the signer's hex public key.
	HeaderPublicKey = "public-key"
	// HeaderSignature carries the detached hex signature.
	HeaderSignature = "signature"
)

// requestPayload is the canonical byte form covered by a request signature:
// uppercase method, URL path without query, then the raw body.
func requestPayload(method, path string, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, '\n')
	payload = append(payload, path...)
	payload = append(payload, '\n')
	payload = append(payload, body...)
	return payload
}

// SignRequest attaches the identity headers to an outbound request. The body
// bytes must be exactly what the request will carry (empty for GET).
func (kp *KeyPair) SignRequest(req *http.Request, body []byte) error {
	sig, err := kp.Sign(requestPayload(req.Method, req.URL.Path, body))
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(HeaderPublicKey, kp.PublicKeyHex())
	req.Header.Set(HeaderSignature, sig)
	return nil
}

// VerifyRequest checks an inbound request's identity headers against the
// already-read body and returns the signer's public key.
func VerifyRequest(req *http.Request, body []byte) (string, error) {
	pubKey := req.Header.Get(HeaderPublicKey)
	if pubKey == "" {
		return "", fmt.Errorf("missing %s header: %w", HeaderPublicKey, ErrMalformedKey)
	}
	sig := req.Header.Get(HeaderSignature)
	if sig == "" {
		return "", fmt.Errorf("missing %s header: %w", HeaderSignature, ErrInvalidSignature)
	}
	if err := Verify(pubKey, sig, requestPayload(req.Method, req.URL.Path, body)); err != nil {
		return "", err
	}
	return pubKey, nil
}
