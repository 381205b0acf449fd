package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WalletKind identifies which wallet module produced a connection.
type WalletKind string

const (
	WalletKindInjected      WalletKind = "injected"
	WalletKindWalletConnect WalletKind = "walletconnect"
	WalletKindUniPass       WalletKind = "unipass"
)

// Account is a single address exposed by a connected wallet.
type Account struct {
	Address common.Address `json:"address"`
	// Email is only reported by login-based wallets.
	Email string `json:"email,omitempty"`
}

// WalletConnection is the current link to an external wallet.
type WalletConnection struct {
	// ID changes on every connect, it is the connection identity results are checked against.
	ID       uint64     `json:"id"`
	Label    string     `json:"label"`
	Kind     WalletKind `json:"kind"`
	Accounts []Account  `json:"accounts"`
	Chain    Chain      `json:"chain"`
}

// PrimaryAccount returns the first account of the wallet.
func (w *WalletConnection) PrimaryAccount() (Account, bool) {
	if w == nil || len(w.Accounts) == 0 {
		return Account{}, false
	}
	return w.Accounts[0], true
}

// WalletDescriptor is the public description of an offered wallet module.
type WalletDescriptor struct {
	Label     string     `json:"label"`
	Kind      WalletKind `json:"kind"`
	Available bool       `json:"available"`
}

// ConnectOptions selects the wallet and chain of a connect request.
// Zero values let the session manager choose.
type ConnectOptions struct {
	Label   string `json:"label"`
	ChainID uint64 `json:"chainId"`
}

// TxRequest is a native transfer request as handed to a signer.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}
