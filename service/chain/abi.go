package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const propertyTokenABIJSON = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"property","stateMutability":"view","inputs":[],"outputs":[
    {"name":"name","type":"string"},
    {"name":"location","type":"string"},
    {"name":"totalValue","type":"uint256"},
    {"name":"totalTokens","type":"uint256"},
    {"name":"legalDocument","type":"string"},
    {"name":"isActive","type":"bool"}
  ]},
  {"type":"function","name":"getOwnershipPercent","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getTokenValueIDR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"frozen","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"canTransfer","stateMutability":"view","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"},{"name":"","type":"string"}]},
  {"type":"function","name":"minInvestment","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"maxInvestment","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"admin","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"kycRegistry","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"freezeAccount","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"unfreezeAccount","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[]},
  {"type":"function","name":"forceTransfer","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"setLegalDocument","stateMutability":"nonpayable","inputs":[{"name":"ipfsHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"setInvestmentLimits","stateMutability":"nonpayable","inputs":[{"name":"min","type":"uint256"},{"name":"max","type":"uint256"}],"outputs":[]}
]`

const kycRegistryABIJSON = `[
  {"type":"function","name":"admin","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"totalInvestors","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"isVerified","stateMutability":"view","inputs":[{"name":"investor","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getInvestor","stateMutability":"view","inputs":[{"name":"investor","type":"address"}],"outputs":[
    {"name":"","type":"tuple","components":[
      {"name":"level","type":"uint8"},
      {"name":"expiryDate","type":"uint256"},
      {"name":"countryCode","type":"uint16"},
      {"name":"isActive","type":"bool"}
    ]}
  ]},
  {"type":"function","name":"meetsLevel","stateMutability":"view","inputs":[{"name":"investor","type":"address"},{"name":"requiredLevel","type":"uint8"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"registerInvestor","stateMutability":"nonpayable","inputs":[{"name":"investor","type":"address"},{"name":"level","type":"uint8"},{"name":"countryCode","type":"uint16"},{"name":"validDays","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"updateInvestor","stateMutability":"nonpayable","inputs":[{"name":"investor","type":"address"},{"name":"newLevel","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"revokeInvestor","stateMutability":"nonpayable","inputs":[{"name":"investor","type":"address"}],"outputs":[]}
]`

var (
	// PropertyTokenABI is the parsed interface of the property token contract.
	PropertyTokenABI = mustParseABI(propertyTokenABIJSON)
	// KYCRegistryABI is the parsed interface of the KYC registry contract.
	KYCRegistryABI = mustParseABI(kycRegistryABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}
