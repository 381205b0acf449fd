package siweverifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spruceid/siwe-go"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

var (
	// ErrUnknownNonce is returned when nonce checking is on and the nonce was not issued here.
	ErrUnknownNonce = errors.New("nonce was not issued by this server or has expired")
	// ErrMalformedMessage is returned for text that is not a sign-in message.
	ErrMalformedMessage = errors.New("malformed sign-in message")
	// ErrNotValidNow is returned outside the message's expiration and not-before window.
	ErrNotValidNow = errors.New("sign-in message is expired or not yet valid")
	// ErrRecoveryID is returned for EOA signatures whose V is not 27 or 28.
	ErrRecoveryID = errors.New("signature recovery id must be 27 or 28")
)

// EIP-1271 minimal part for isValidSignature
const erc1271ABI = `[{"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"magicValue","type":"bytes4"}],"stateMutability":"view","type":"function"}]`

// magicValue is bytes4(keccak256("isValidSignature(bytes32,bytes)")).
var magicValue = []byte{0x16, 0x26, 0xba, 0x7e}

var (
	parsedERC1271ABI  abi.ABI
	parsedERC1271Once sync.Once
)

func initParsedERC1271ABI() {
	parsedERC1271Once.Do(func() {
		var err error
		parsedERC1271ABI, err = abi.JSON(strings.NewReader(erc1271ABI))
		if err != nil {
			// This is a critical error during initialization, panic is appropriate
			panic(fmt.Sprintf("failed to parse ERC1271 ABI: %v", err))
		}
	})
}

// Options configures a Verifier.
type Options struct {
	Nonces            port.NonceRegistry
	RequireKnownNonce bool
	// Now is the verifier clock, time.Now when nil.
	Now func() time.Time
}

// Verifier checks sign-in messages: time window, optional nonce, EOA recovery and contract wallets.
type Verifier struct {
	nonces            port.NonceRegistry
	requireKnownNonce bool
	now               func() time.Time
	logger            port.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options, log port.Logger) *Verifier {
	initParsedERC1271ABI()
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		nonces:            opts.Nonces,
		requireKnownNonce: opts.RequireKnownNonce,
		now:               now,
		logger:            log,
	}
}

var _ port.SiweVerifier = (*Verifier)(nil)

// Verify parses message and checks signature against it. It has no side effects.
func (v *Verifier) Verify(ctx context.Context, message, signature string, provider port.Provider) (*siwe.Message, error) {
	msg, err := siwe.ParseMessage(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if _, err := msg.ValidAt(v.now()); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrNotValidNow, err)
	}
	if v.requireKnownNonce && (v.nonces == nil || !v.nonces.Known(msg.GetNonce())) {
		return msg, ErrUnknownNonce
	}

	eoaErr := verifyEOA(msg, signature)
	if eoaErr == nil {
		return msg, nil
	}
	if provider == nil {
		return msg, fmt.Errorf("%w: %w", entity.ErrSignatureMismatch, eoaErr)
	}

	ok, err := v.verifyContractWallet(ctx, msg, signature, provider.Chain())
	if err != nil {
		v.logger.Warn("EIP-1271 check failed", "address", msg.GetAddress().Hex(), "error", err)
		return msg, fmt.Errorf("%w: %w", entity.ErrSignatureMismatch, eoaErr)
	}
	if !ok {
		return msg, fmt.Errorf("%w: %w", entity.ErrSignatureMismatch, eoaErr)
	}
	return msg, nil
}

// verifyEOA accepts only 65 byte signatures with V in {27, 28}, as personal_sign produces them.
func verifyEOA(msg *siwe.Message, signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return err
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature length %d", len(sig))
	}
	if recID := sig[crypto.RecoveryIDOffset]; recID != 27 && recID != 28 {
		return fmt.Errorf("%w: got %d", ErrRecoveryID, recID)
	}
	_, err = msg.VerifyEIP191(signature)
	return err
}

// verifyContractWallet asks the contract at the message address whether it accepts signature.
// Addresses without code are not contract wallets and yield false.
func (v *Verifier) verifyContractWallet(ctx context.Context, msg *siwe.Message, signature string, chain port.ChainClient) (bool, error) {
	addr := msg.GetAddress()
	code, err := chain.CodeAt(ctx, addr)
	if err != nil {
		return false, err
	}
	if len(code) == 0 {
		return false, nil
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return false, err
	}
	var hash [32]byte
	copy(hash[:], accounts.TextHash([]byte(msg.String())))
	data, err := parsedERC1271ABI.Pack("isValidSignature", hash, sig)
	if err != nil {
		return false, fmt.Errorf("pack isValidSignature: %w", err)
	}
	out, err := chain.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data})
	if err != nil {
		return false, err
	}
	return len(out) >= 4 && bytes.Equal(out[:4], magicValue), nil
}
