package entity

import (
	"fmt"
	"strconv"
)

// Chain holds the definition of a network a wallet can be connected to.
// This structure is defined at the domain level to be used across application and infrastructure layers.
type Chain struct {
	ID               uint64   `json:"id" yaml:"id"`
	Token            string   `json:"token" yaml:"token"` // native token symbol, e.g. "GETH"
	Label            string   `json:"label" yaml:"label"`
	Decimals         int32    `json:"decimals" yaml:"decimals"`
	RPCURL           string   `json:"rpcUrl" yaml:"rpcUrl"`
	FallbackRPCURLs  []string `json:"fallbackRpcUrls,omitempty" yaml:"fallbackRpcUrls,omitempty"`
	BlockExplorerURL string   `json:"blockExplorerUrl,omitempty" yaml:"blockExplorerUrl,omitempty"`
}

// HexID returns the chain id in the 0x-prefixed form wallets exchange it in.
func (c Chain) HexID() string {
	return "0x" + strconv.FormatUint(c.ID, 16)
}

func (c Chain) String() string {
	return fmt.Sprintf("%s (%d)", c.Label, c.ID)
}
