// Package kyc derives display state from investor records held by the KYC
// registry: level labels, expiry math and country names.
package kyc

import (
	"fmt"
	"math"
	"time"
)

// Level mirrors the registry's KYC enum.
type Level uint8

const (
	LevelNone Level = iota
	LevelBasic
	LevelVerified
	LevelAccredited
)

const (
	msPerDay = 86_400_000

	// ExpiringSoonDays is the window in which an active record is flagged.
	ExpiringSoonDays = 30
)

var levelLabels = map[Level]string{
	LevelNone:       "Not Verified",
	LevelBasic:      "Basic (KTP)",
	LevelVerified:   "Verified (KTP + NPWP)",
	LevelAccredited: "Accredited Investor",
}

var levelColors = map[Level]string{
	LevelNone:       "red",
	LevelBasic:      "yellow",
	LevelVerified:   "blue",
	LevelAccredited: "green",
}

var countries = map[uint16]string{
	360: "Indonesia",
	840: "United States",
	826: "United Kingdom",
	702: "Singapore",
}

// DefaultCountryCode is Indonesia.
const DefaultCountryCode uint16 = 360

// Levels lists the enum values in order.
func Levels() []Level {
	return []Level{LevelNone, LevelBasic, LevelVerified, LevelAccredited}
}

// Valid reports whether l is a known registry level.
func (l Level) Valid() bool {
	return l <= LevelAccredited
}

// Label returns the display name, "Unknown" for out-of-range values.
func (l Level) Label() string {
	if label, ok := levelLabels[l]; ok {
		return label
	}
	return "Unknown"
}

// Color returns the badge colour, "gray" for out-of-range values.
func (l Level) Color() string {
	if color, ok := levelColors[l]; ok {
		return color
	}
	return "gray"
}

func (l Level) String() string {
	return l.Label()
}

// ParseLevel converts a numeric form value into a Level.
func ParseLevel(n int) (Level, error) {
	if n < 0 || n > int(LevelAccredited) {
		return 0, fmt.Errorf("invalid KYC level %d", n)
	}
	return Level(n), nil
}

// CountryName resolves an ISO 3166 numeric code, falling back to "Code: N".
func CountryName(code uint16) string {
	if name, ok := countries[code]; ok {
		return name
	}
	return fmt.Sprintf("Code: %d", code)
}

// Countries returns the known country codes for select inputs.
func Countries() map[uint16]string {
	out := make(map[uint16]string, len(countries))
	for k, v := range countries {
		out[k] = v
	}
	return out
}

// IsExpired reports whether now is strictly after the expiry timestamp.
func IsExpired(expiry int64, now time.Time) bool {
	return now.UnixMilli() > expiry*1000
}

// DaysUntilExpiry returns ceil((expiry_ms - now_ms) / 1 day). It is zero or
// negative once the record has expired.
func DaysUntilExpiry(expiry int64, now time.Time) int {
	diff := float64(expiry*1000 - now.UnixMilli())
	return int(math.Ceil(diff / msPerDay))
}

// Investor is the registry's record for one address.
type Investor struct {
	Level       Level  `json:"level"`
	ExpiryDate  int64  `json:"expiry_date"`
	CountryCode uint16 `json:"country_code"`
	IsActive    bool   `json:"is_active"`
}

// Status is the derived view of an investor record at a point in time.
type Status struct {
	Registered    bool   `json:"registered"`
	Verified      bool   `json:"verified"`
	Level         Level  `json:"level"`
	LevelLabel    string `json:"level_label"`
	LevelColor    string `json:"level_color"`
	ExpiryDate    int64  `json:"expiry_date"`
	Expired       bool   `json:"expired"`
	DaysRemaining int    `json:"days_remaining"`
	ExpiringSoon  bool   `json:"expiring_soon"`
	CountryCode   uint16 `json:"country_code"`
	Country       string `json:"country"`
}

// Derive builds the status for a record. inv may be nil when the record
// has not been loaded; verified is the registry's isVerified answer.
func Derive(inv *Investor, verified bool, now time.Time) Status {
	if inv == nil || !inv.IsActive {
		return Status{
			Verified:   verified,
			LevelLabel: LevelNone.Label(),
			LevelColor: LevelNone.Color(),
		}
	}

	expired := IsExpired(inv.ExpiryDate, now)
	days := DaysUntilExpiry(inv.ExpiryDate, now)
	return Status{
		Registered:    true,
		Verified:      verified,
		Level:         inv.Level,
		LevelLabel:    inv.Level.Label(),
		LevelColor:    inv.Level.Color(),
		ExpiryDate:    inv.ExpiryDate,
		Expired:       expired,
		DaysRemaining: days,
		ExpiringSoon:  !expired && days <= ExpiringSoonDays,
		CountryCode:   inv.CountryCode,
		Country:       CountryName(inv.CountryCode),
	}
}

// Badge is the compact verification label shown next to an address.
type Badge struct {
	Label string
	Color string
}

// BadgeFor returns the badge for an isVerified answer and an optional level.
func BadgeFor(verified bool, level *Level) Badge {
	if !verified || (level != nil && *level == LevelNone) {
		return Badge{Label: LevelNone.Label(), Color: LevelNone.Color()}
	}
	if level == nil {
		return Badge{Label: "Verified", Color: "green"}
	}
	return Badge{Label: level.Label(), Color: level.Color()}
}
