package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Property is the token contract's property record.
type Property struct {
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	TotalValue    *big.Int `json:"total_value"`
	TotalTokens   *big.Int `json:"total_tokens"`
	LegalDocument string   `json:"legal_document"`
	IsActive      bool     `json:"is_active"`
}

// TransferCheck is the answer of canTransfer(from, to, amount).
type TransferCheck struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Receipt is the subset of a mined transaction receipt the dashboard uses.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Status      uint64      `json:"status"`
	GasUsed     uint64      `json:"gas_used"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// investorTuple matches the registry's getInvestor struct output.
type investorTuple struct {
	Level       uint8
	ExpiryDate  *big.Int
	CountryCode uint16
	IsActive    bool
}
