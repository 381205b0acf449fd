package entity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies where an operation failed.
type ErrorKind string

const (
	// KindConnection - the user declined or no compatible wallet was found.
	KindConnection ErrorKind = "connection"
	// KindSigning - the signature prompt was rejected or the wallet faulted.
	KindSigning ErrorKind = "signing"
	// KindTransaction - insufficient balance, gas estimation, revert or confirmation timeout.
	KindTransaction ErrorKind = "transaction"
	// KindVerification - the signature does not recover to the claimed address.
	KindVerification ErrorKind = "verification"
)

var (
	ErrNotConnected        = errors.New("wallet is not connected")
	ErrStaleResult         = errors.New("wallet connection changed while the request was in flight")
	ErrNothingToVerify     = errors.New("no sign-in signature to verify")
	ErrConnectInProgress   = errors.New("a wallet connection is already in progress")
	ErrUnknownWallet       = errors.New("unknown wallet")
	ErrNoWalletAvailable   = errors.New("no compatible wallet available")
	ErrUnsupportedChain    = errors.New("unsupported chain")
	ErrNoAccounts          = errors.New("wallet exposed no accounts")
	ErrInsufficientFunds   = errors.New("insufficient funds for transfer")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrUserRejected        = errors.New("request rejected by user")
	ErrSignatureMismatch   = errors.New("signature does not match address of the message")
	ErrSessionClosed       = errors.New("wallet session closed")
)

// OperationError is returned by every page operation that fails.
type OperationError struct {
	Op   Operation
	Kind ErrorKind
	Err  error
}

// NewOperationError wraps err, nil stays nil.
func NewOperationError(op Operation, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Kind: kind, Err: err}
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an operation error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ""
}
