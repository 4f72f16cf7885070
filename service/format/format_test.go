package format

import (
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokens(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := ParseTokens(s)
	require.NoError(t, err)
	return v
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"0x" + strings.Repeat("a", 40), true},
		{"0xAbCdEf0123456789abcdef0123456789ABCDEF01", true},
		{"0x" + strings.Repeat("a", 39), false},
		{"0x" + strings.Repeat("a", 41), false},
		{strings.Repeat("a", 42), false},
		{"0x" + strings.Repeat("g", 40), false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidAddress(tt.input))
		})
	}
}

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "0x1234...cdef", ShortenAddress("0x1234567890abcdef1234567890abcdef12cdef"))
	assert.Equal(t, "", ShortenAddress(""))
	assert.Equal(t, "0x12", ShortenAddress("0x12"))
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{name: "millions", amount: "1000000", want: "1.00M SDMN"},
		{name: "fractional millions", amount: "2500000", want: "2.50M SDMN"},
		{name: "thousands", amount: "1500", want: "1.50K SDMN"},
		{name: "exact thousand", amount: "1000", want: "1.00K SDMN"},
		{name: "small", amount: "5", want: "5.00 SDMN"},
		{name: "fraction", amount: "0.25", want: "0.25 SDMN"},
		{name: "zero", amount: "0", want: "0.00 SDMN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTokens(tokens(t, tt.amount), "SDMN"))
		})
	}

	assert.Equal(t, "0.00 SDMN", FormatTokens(nil, "SDMN"))
}

func TestFormatTokensRaw(t *testing.T) {
	assert.Equal(t, "5", FormatTokensRaw(tokens(t, "5")))
	assert.Equal(t, "1.234,5", FormatTokensRaw(tokens(t, "1234.5")))
}

func TestFormatIDR(t *testing.T) {
	assert.Equal(t, "Rp\u00a0500", FormatIDR(decimal.NewFromInt(500)))
	assert.Equal(t, "Rp\u00a0500", FormatIDRInt(big.NewInt(500)))
	assert.Equal(t, "Rp\u00a00", FormatIDRInt(nil))

	large := FormatIDR(decimal.NewFromInt(1_500_000))
	assert.True(t, strings.HasPrefix(large, "Rp\u00a0"))
	assert.NotContains(t, large, ",")
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		bp   int64
		want string
	}{
		{1234, "12.34%"},
		{10000, "100.00%"},
		{5, "0.05%"},
		{0, "0.00%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPercent(big.NewInt(tt.bp)))
	}
	assert.Equal(t, "0.00%", FormatPercent(nil))
}

func TestParseUnits(t *testing.T) {
	v, err := ParseTokens("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = ParseUnits("42", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = ParseTokens("")
	assert.Error(t, err)

	_, err = ParseTokens("abc")
	assert.Error(t, err)

	_, err = ParseTokens("-1")
	assert.Error(t, err)

	_, err = ParseUnits("0.001", 2)
	assert.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(tokens(t, "1.5"), TokenDecimals))
	assert.Equal(t, "0", FormatUnits(nil, TokenDecimals))
}

func TestTokenValue(t *testing.T) {
	value := TokenValue(tokens(t, "2.5"), big.NewInt(100_000))
	assert.True(t, value.Equal(decimal.NewFromInt(250_000)), value.String())
	assert.True(t, TokenValue(tokens(t, "1"), nil).IsZero())
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "21 September 2026", FormatDate(1790000000))
	assert.Equal(t, "21 Sep 2026", FormatDateShort(1790000000))
	// 2023-12-31 23:59:59 UTC is already January 1st in Jakarta.
	assert.Equal(t, "1 Januari 2024", FormatDate(1704067199))
	assert.Equal(t, "1 Jan 2025", FormatDateShort(1735689600))
}

func TestLinks(t *testing.T) {
	assert.Equal(t, "https://ipfs.io/ipfs/QmHash", IPFSURL("https://ipfs.io/ipfs/", "QmHash"))
	assert.Equal(t, "https://gw.example/ipfs/QmHash", IPFSURL("https://gw.example/ipfs", "QmHash"))
	assert.Equal(t, "", IPFSURL("https://ipfs.io/ipfs/", ""))
	assert.Equal(t, "https://explorer.example/tx/0xabc", TxURL("https://explorer.example/", "0xabc"))
	assert.Equal(t, "https://explorer.example/address/0xabc", AddressURL("https://explorer.example", "0xabc"))
}
