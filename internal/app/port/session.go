package port

import (
	"context"

	"wallet_playground/internal/domain/entity"
)

// WalletState is what the session manager publishes to its observers.
type WalletState struct {
	Wallet     *entity.WalletConnection
	Provider   Provider
	Connecting bool
	PairingURI string
}

// SessionConfig is the static configuration of the connection context.
type SessionConfig struct {
	Chains      []entity.Chain            `json:"chains"`
	Wallets     []entity.WalletDescriptor `json:"wallets"`
	AppMetadata entity.AppMetadata        `json:"appMetadata"`
}

// StateObserver is notified after every session state change.
type StateObserver func(ctx context.Context, state WalletState)

// SessionManager is the process wide wallet connection context.
type SessionManager interface {
	Connect(ctx context.Context, opts entity.ConnectOptions) (*entity.WalletConnection, error)
	Disconnect(ctx context.Context, label string) error
	SetChain(ctx context.Context, chainID uint64) error
	State() WalletState
	Subscribe(fn StateObserver) (unsubscribe func())
	Config() SessionConfig
}
