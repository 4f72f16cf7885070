// Package format renders on-chain quantities for display: token amounts,
// Indonesian rupiah values, basis points, dates and addresses.
package format

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// TokenDecimals is the fixed-point precision of the property token.
const TokenDecimals = 18

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// WIB is the display zone for dates.
	WIB = time.FixedZone("WIB", 7*60*60)

	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)

	monthsLong = [...]string{
		"Januari", "Februari", "Maret", "April", "Mei", "Juni",
		"Juli", "Agustus", "September", "Oktober", "November", "Desember",
	}
	monthsShort = [...]string{
		"Jan", "Feb", "Mar", "Apr", "Mei", "Jun",
		"Jul", "Agu", "Sep", "Okt", "Nov", "Des",
	}
)

func printer() *message.Printer {
	return message.NewPrinter(language.Indonesian)
}

// IsValidAddress reports whether s is a 0x-prefixed 20 byte hex address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ShortenAddress keeps the first 6 and last 4 characters of an address.
func ShortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// ToDecimal converts a raw token amount into whole tokens.
func ToDecimal(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -TokenDecimals)
}

// FormatUnits renders a raw amount in whole units without rounding.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits parses a human amount such as "1.5" into its raw integer form.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	if d.Exponent() < -int32(decimals) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", s, decimals)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// ParseTokens parses a token amount at the token's 18 decimals.
func ParseTokens(s string) (*big.Int, error) {
	return ParseUnits(s, TokenDecimals)
}

// FormatTokens renders a raw amount with a K/M suffix and two decimals,
// for example "1.50K SDMN".
func FormatTokens(amount *big.Int, symbol string) string {
	v := ToDecimal(amount)
	switch {
	case v.GreaterThanOrEqual(million):
		return v.Div(million).StringFixed(2) + "M " + symbol
	case v.GreaterThanOrEqual(thousand):
		return v.Div(thousand).StringFixed(2) + "K " + symbol
	default:
		return v.StringFixed(2) + " " + symbol
	}
}

// FormatTokensRaw renders whole tokens with id-ID grouping and at most two
// fraction digits.
func FormatTokensRaw(amount *big.Int) string {
	return printer().Sprint(number.Decimal(ToDecimal(amount).InexactFloat64(), number.MaxFractionDigits(2)))
}

// FormatIDR renders a rupiah value without fraction digits.
func FormatIDR(value decimal.Decimal) string {
	rounded := value.Round(0).InexactFloat64()
	return "Rp\u00a0" + printer().Sprint(number.Decimal(rounded, number.MaxFractionDigits(0)))
}

// FormatIDRInt is FormatIDR for integer contract values.
func FormatIDRInt(value *big.Int) string {
	if value == nil {
		return FormatIDR(decimal.Zero)
	}
	return FormatIDR(decimal.NewFromBigInt(value, 0))
}

// FormatPercent renders basis points as a percentage: 1234 is "12.34%".
func FormatPercent(basisPoints *big.Int) string {
	if basisPoints == nil {
		return "0.00%"
	}
	return decimal.NewFromBigInt(basisPoints, -2).StringFixed(2) + "%"
}

// TokenValue returns amount (raw) times the per-token rupiah price.
func TokenValue(amount, tokenValueIDR *big.Int) decimal.Decimal {
	if tokenValueIDR == nil {
		return decimal.Zero
	}
	return ToDecimal(amount).Mul(decimal.NewFromBigInt(tokenValueIDR, 0))
}

// FormatDate renders a unix timestamp as "18 Oktober 2026".
func FormatDate(unix int64) string {
	t := time.Unix(unix, 0).In(WIB)
	return fmt.Sprintf("%d %s %d", t.Day(), monthsLong[t.Month()-1], t.Year())
}

// FormatDateShort renders a unix timestamp as "18 Okt 2026".
func FormatDateShort(unix int64) string {
	t := time.Unix(unix, 0).In(WIB)
	return fmt.Sprintf("%d %s %d", t.Day(), monthsShort[t.Month()-1], t.Year())
}

// IPFSURL links a content identifier through the given gateway.
func IPFSURL(gateway, cid string) string {
	if cid == "" {
		return ""
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + cid
}

// TxURL links a transaction hash on the block explorer.
func TxURL(explorer, hash string) string {
	return strings.TrimRight(explorer, "/") + "/tx/" + hash
}

// AddressURL links an account on the block explorer.
func AddressURL(explorer, addr string) string {
	return strings.TrimRight(explorer, "/") + "/address/" + addr
}
