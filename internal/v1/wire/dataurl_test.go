package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURL_RoundTrip(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0xff}

	url := EncodeDataURL("application/octet-stream", raw)
	assert.Equal(t, "data:application/octet-stream;base64,AQID/w==", url)

	mimeType, data, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", mimeType)
	assert.Equal(t, raw, data)
}

func TestDataURL_EmptyPayload(t *testing.T) {
	url := EncodeDataURL("text/plain", nil)

	mimeType, data, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mimeType)
	assert.Empty(t, data)
}

func TestDecodeDataURL_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"missing prefix", "image/png;base64,AQID"},
		{"missing base64 marker", "data:image/png,AQID"},
		{"broken base64", "data:image/png;base64,not-base64!!!"},
		{"empty string", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeDataURL(tc.input)
			assert.ErrorIs(t, err, ErrBadDataURL)
		})
	}
}
