package wire

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrBadDataURL reports an attachment payload that is not a base64 data URL.
var ErrBadDataURL = errors.New("malformed data url")

// EncodeDataURL renders raw attachment bytes as a data URL for the wire.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a data URL into its MIME type and decoded bytes.
func DecodeDataURL(s string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("missing data: prefix: %w", ErrBadDataURL)
	}
	mimeType, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("missing base64 marker: %w", ErrBadDataURL)
	}
	data, decErr := base64.StdEncoding.DecodeString(payload)
	if decErr != nil {
		return "", nil, fmt.Errorf("decode payload: %w", ErrBadDataURL)
	}
	return mimeType, data, nil
}
