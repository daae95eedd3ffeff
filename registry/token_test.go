package registry

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The dialed clients are wired into the service through these narrow
// views; keep them in sync.
var (
	_ Registry     = (*Client)(nil)
	_ PaymentToken = (*TokenClient)(nil)
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"10.0", "10000000000000000000"},
		{"0.5", "500000000000000000"},
		{"0.000000000000000001", "1"},
		{".25", "250000000000000000"},
		{"1234.567", "1234567000000000000000"},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}
}

func TestParseUnitsRejects(t *testing.T) {
	for _, in := range []string{"", "-1", "+1", "1.2.3", "abc", "0.0000000000000000001"} {
		_, err := ParseUnits(in)
		assert.Error(t, err, in)
	}
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1000000000000000000", "1"},
		{"10000000000000000000", "10"},
		{"500000000000000000", "0.5"},
		{"1", "0.000000000000000001"},
		{"1234567000000000000000", "1234.567"},
	}
	for _, tt := range tests {
		n, ok := new(big.Int).SetString(tt.in, 10)
		require.True(t, ok)
		assert.Equal(t, tt.want, FormatUnits(n))
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "0.5", "42.125", "10"} {
		n, err := ParseUnits(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatUnits(n))
	}
}
