package siweverifier

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/spruceid/siwe-go"

	"wallet_playground/internal/app/port"
)

// NonceRegistry remembers issued sign-in nonces until they expire.
type NonceRegistry struct {
	cache *cache.Cache
}

// NewNonceRegistry creates a registry whose nonces live for ttl.
func NewNonceRegistry(ttl time.Duration) *NonceRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &NonceRegistry{cache: cache.New(ttl, 2*ttl)}
}

var _ port.NonceRegistry = (*NonceRegistry)(nil)

// Issue generates and records a fresh nonce.
func (r *NonceRegistry) Issue() string {
	nonce := siwe.GenerateNonce()
	r.cache.SetDefault(nonce, struct{}{})
	return nonce
}

// Known reports whether nonce was issued here and has not expired. It does not consume it.
func (r *NonceRegistry) Known(nonce string) bool {
	_, ok := r.cache.Get(nonce)
	return ok
}
