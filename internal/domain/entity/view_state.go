package entity

import "time"

// ConnectionStatus is the per-session state of the page.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// Operation names a user-triggered page action.
type Operation string

const (
	OpConnect         Operation = "connect"
	OpDisconnect      Operation = "disconnect"
	OpRefresh         Operation = "refresh"
	OpSwitchChain     Operation = "switch_chain"
	OpSignMessage     Operation = "sign_message"
	OpSignTypedData   Operation = "sign_typed_data"
	OpSignIn          Operation = "sign_in_with_ethereum"
	OpVerify          Operation = "verify_signature"
	OpSendTransaction Operation = "send_transaction"
)

// VerificationOutcome is the result of checking the stored SIWE signature.
type VerificationOutcome struct {
	Valid     bool      `json:"valid"`
	Address   string    `json:"address,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ViewState is everything the page renders.
type ViewState struct {
	Status     ConnectionStatus  `json:"status"`
	Wallet     *WalletConnection `json:"wallet,omitempty"`
	Address    string            `json:"address"`
	Balance    string            `json:"balance"`
	ChainID    uint64            `json:"chainId"`
	PairingURI string            `json:"pairingUri,omitempty"`

	Signature      string `json:"signature"`
	TypedSignature string `json:"typedSignature"`
	SiweMessage    string `json:"siweMessage"`
	SiweSignature  string `json:"siweSignature"`
	NativeHash     string `json:"nativeHash"`

	Verification *VerificationOutcome `json:"verification,omitempty"`
	Errors       map[Operation]string `json:"errors,omitempty"`
}

// EmptyViewState returns the state of a page without a wallet.
func EmptyViewState() ViewState {
	return ViewState{
		Status:  StatusDisconnected,
		Balance: "0",
		Errors:  make(map[Operation]string),
	}
}

// Clone returns a copy safe to hand out of the controller lock.
func (s ViewState) Clone() ViewState {
	out := s
	if s.Wallet != nil {
		w := *s.Wallet
		w.Accounts = append([]Account(nil), s.Wallet.Accounts...)
		out.Wallet = &w
	}
	if s.Verification != nil {
		v := *s.Verification
		out.Verification = &v
	}
	out.Errors = make(map[Operation]string, len(s.Errors))
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	return out
}

// Origin is where a sign-in request came from (host and scheme://host).
type Origin struct {
	Host string
	URI  string
}

// SiweResult is a signed sign-in message.
type SiweResult struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}
