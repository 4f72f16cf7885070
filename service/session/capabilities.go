package session

import (
	"context"
	"strings"

	"github.com/brojonat/idproperty/service/query"
	"github.com/ethereum/go-ethereum/common"
)

// Capabilities is what the connected account may administer.
type Capabilities struct {
	TokenAdmin bool `json:"is_token_admin"`
	KYCAdmin   bool `json:"is_kyc_admin"`
}

// IsAdmin reports whether either capability is held.
func (c Capabilities) IsAdmin() bool {
	return c.TokenAdmin || c.KYCAdmin
}

// AdminReader reads the admin() of both contracts.
type AdminReader interface {
	TokenAdmin(ctx context.Context) query.Result[common.Address]
	RegistryAdmin(ctx context.Context) query.Result[common.Address]
}

// Resolve compares account with both admins. A nil account, or an admin
// read that has not loaded, grants nothing.
func Resolve(ctx context.Context, r AdminReader, account *common.Address) Capabilities {
	if account == nil {
		return Capabilities{}
	}
	var caps Capabilities
	if admin := r.TokenAdmin(ctx); admin.Ok() {
		caps.TokenAdmin = sameAddress(*account, admin.Value)
	}
	if admin := r.RegistryAdmin(ctx); admin.Ok() {
		caps.KYCAdmin = sameAddress(*account, admin.Value)
	}
	return caps
}

func sameAddress(a, b common.Address) bool {
	return strings.EqualFold(a.Hex(), b.Hex())
}

type capabilitiesKey struct{}

// WithCapabilities attaches caps to ctx.
func WithCapabilities(ctx context.Context, caps Capabilities) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, caps)
}

// CapabilitiesFrom returns the capabilities attached to ctx, or none.
func CapabilitiesFrom(ctx context.Context) Capabilities {
	caps, _ := ctx.Value(capabilitiesKey{}).(Capabilities)
	return caps
}
