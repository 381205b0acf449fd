package port

import (
	"context"

	"github.com/spruceid/siwe-go"
)

// SiweVerifier checks a signed sign-in message against a provider.
type SiweVerifier interface {
	Verify(ctx context.Context, message string, signature string, provider Provider) (*siwe.Message, error)
}

// NonceRegistry hands out sign-in nonces and remembers them for a while.
type NonceRegistry interface {
	Issue() string
	Known(nonce string) bool
}
