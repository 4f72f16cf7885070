// Package admin implements the administrator forms: KYC registry
// management and token compliance controls.
package admin

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/brojonat/idproperty/service/format"
	"github.com/brojonat/idproperty/service/kyc"
	"github.com/ethereum/go-ethereum/common"
)

// Form names an admin form.
type Form string

const (
	FormRegister      Form = "register"
	FormUpdate        Form = "update"
	FormRevoke        Form = "revoke"
	FormFreeze        Form = "freeze"
	FormUnfreeze      Form = "unfreeze"
	FormForceTransfer Form = "force-transfer"
	FormLegalDocument Form = "legal-document"
	FormLimits        Form = "limits"
)

// Forms lists every form in display order.
var Forms = []Form{
	FormRegister, FormUpdate, FormRevoke,
	FormLimits, FormLegalDocument, FormForceTransfer,
	FormFreeze, FormUnfreeze,
}

// ParseForm validates a form name from a URL.
func ParseForm(s string) (Form, bool) {
	for _, f := range Forms {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// ValidationError is reported as an error toast; nothing is submitted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

const msgInvalidWallet = "Please enter a valid wallet address"

func parseWallet(values map[string]string, key, msg string) (common.Address, error) {
	v := strings.TrimSpace(values[key])
	if !format.IsValidAddress(v) {
		return common.Address{}, invalid(msg)
	}
	return common.HexToAddress(v), nil
}

func parseLevel(values map[string]string) (kyc.Level, error) {
	v := strings.TrimSpace(values["level"])
	if v == "" {
		return kyc.LevelBasic, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid("Please select a valid KYC level")
	}
	level, err := kyc.ParseLevel(n)
	if err != nil {
		return 0, invalid("Please select a valid KYC level")
	}
	return level, nil
}

// RegisterInput is the register investor form.
type RegisterInput struct {
	Investor    common.Address
	Level       kyc.Level
	CountryCode uint16
	ValidDays   *big.Int
}

// DefaultRegisterValues are the register form's initial values.
func DefaultRegisterValues() map[string]string {
	return map[string]string{
		"address":      "",
		"level":        strconv.Itoa(int(kyc.LevelBasic)),
		"country_code": strconv.Itoa(int(kyc.DefaultCountryCode)),
		"valid_days":   "365",
	}
}

// ParseRegister validates the register form.
func ParseRegister(values map[string]string) (*RegisterInput, error) {
	addr, err := parseWallet(values, "address", msgInvalidWallet)
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(values)
	if err != nil {
		return nil, err
	}

	country := kyc.DefaultCountryCode
	if v := strings.TrimSpace(values["country_code"]); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, invalid("Please enter a valid country code")
		}
		country = uint16(n)
	}

	days := big.NewInt(365)
	if v := strings.TrimSpace(values["valid_days"]); v != "" {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || n.Sign() <= 0 {
			return nil, invalid("Please enter a valid number of days")
		}
		days = n
	}
	return &RegisterInput{Investor: addr, Level: level, CountryCode: country, ValidDays: days}, nil
}

// UpdateInput is the update level form.
type UpdateInput struct {
	Investor common.Address
	Level    kyc.Level
}

// ParseUpdate validates the update form.
func ParseUpdate(values map[string]string) (*UpdateInput, error) {
	addr, err := parseWallet(values, "address", msgInvalidWallet)
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(values)
	if err != nil {
		return nil, err
	}
	return &UpdateInput{Investor: addr, Level: level}, nil
}

// ParseRevoke validates the revoke action, which shares the update form.
func ParseRevoke(values map[string]string) (common.Address, error) {
	return parseWallet(values, "address", msgInvalidWallet)
}

// FreezeInput is the freeze form.
type FreezeInput struct {
	Account common.Address
	Reason  string
}

// ParseFreeze validates the freeze form.
func ParseFreeze(values map[string]string) (*FreezeInput, error) {
	addr, err := parseWallet(values, "address", msgInvalidWallet)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(values["reason"])
	if reason == "" {
		return nil, invalid("Please enter a reason for freezing")
	}
	return &FreezeInput{Account: addr, Reason: reason}, nil
}

// ParseUnfreeze validates the unfreeze form.
func ParseUnfreeze(values map[string]string) (common.Address, error) {
	return parseWallet(values, "address", msgInvalidWallet)
}

// ForceTransferInput is the force transfer form.
type ForceTransferInput struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	Reason string
}

// ParseForceTransfer validates the force transfer form.
func ParseForceTransfer(values map[string]string) (*ForceTransferInput, error) {
	from, err := parseWallet(values, "from", `Please enter a valid "From" address`)
	if err != nil {
		return nil, err
	}
	to, err := parseWallet(values, "to", `Please enter a valid "To" address`)
	if err != nil {
		return nil, err
	}
	amount, err := format.ParseTokens(values["amount"])
	if err != nil || amount.Sign() <= 0 {
		return nil, invalid("Please enter a valid amount")
	}
	reason := strings.TrimSpace(values["reason"])
	if reason == "" {
		return nil, invalid("Please enter a reason for force transfer")
	}
	return &ForceTransferInput{From: from, To: to, Amount: amount, Reason: reason}, nil
}

// ParseLegalDocument validates the legal document form.
func ParseLegalDocument(values map[string]string) (string, error) {
	cid := strings.TrimSpace(values["ipfs_hash"])
	if cid == "" {
		return "", invalid("Please enter an IPFS hash")
	}
	return cid, nil
}

// LimitsInput is the investment limits form, in raw token units.
type LimitsInput struct {
	Min *big.Int
	Max *big.Int
}

// ParseLimits validates the investment limits form.
func ParseLimits(values map[string]string) (*LimitsInput, error) {
	min, err := format.ParseTokens(values["min"])
	if err != nil {
		return nil, invalid("Please enter a valid minimum")
	}
	max, err := format.ParseTokens(values["max"])
	if err != nil || max.Sign() <= 0 {
		return nil, invalid("Please enter a valid maximum")
	}
	if min.Cmp(max) >= 0 {
		return nil, invalid("Minimum must be less than maximum")
	}
	return &LimitsInput{Min: min, Max: max}, nil
}
