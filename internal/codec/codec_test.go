package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenIDRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		tokenID string
	}{
		{"zero", "0"},
		{"small", "42"},
		{"large", "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := TokenIDBytes(tt.tokenID)
			require.NoError(t, err)
			require.Equal(t, tt.tokenID, TokenIDFromBytes(b))
		})
	}
}

func TestTokenIDBytesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		tokenID string
	}{
		{"empty", ""},
		{"hex", "0x2a"},
		{"negative", "-1"},
		{"overflow", "1" + strings.Repeat("0", 78)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TokenIDBytes(tt.tokenID)
			require.Error(t, err)
		})
	}
}

func TestParseNFTID(t *testing.T) {
	id, err := ParseNFTID("ethereum/0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D/42")
	require.NoError(t, err)
	require.Equal(t, "ethereum", id.Chain)
	require.Equal(t, "42", id.TokenID)
	require.Equal(t, "ethereum/0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d/42", id.String())
}

func TestParseNFTIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"ethereum/0xdead",
		"/0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D/1",
		"ethereum/notanaddress/1",
		"ethereum/0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D/notanumber",
		"ethereum/0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D/1/extra",
	} {
		_, err := ParseNFTID(s)
		require.Error(t, err, "input %q", s)
	}
}
