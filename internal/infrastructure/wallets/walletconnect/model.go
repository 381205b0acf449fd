package walletconnect

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bridge message types.
const (
	msgPub = "pub"
	msgSub = "sub"
	msgAck = "ack"
)

// JSON-RPC methods of the v1 protocol.
const (
	methodSessionRequest = "wc_sessionRequest"
	methodSessionUpdate  = "wc_sessionUpdate"
	methodPersonalSign   = "personal_sign"
	methodSignTypedData  = "eth_signTypedData"
	methodSendTx         = "eth_sendTransaction"
	methodSwitchChain    = "wallet_switchEthereumChain"
)

type wcMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

type encryptedPayload struct {
	Data string `json:"data"`
	HMAC string `json:"hmac"`
	IV   string `json:"iv"`
}

// PeerMeta describes one side of the session to the other.
type PeerMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type sessionRequestParams struct {
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
	ChainID  *uint64  `json:"chainId"`
}

type sessionResult struct {
	Approved bool     `json:"approved"`
	ChainID  uint64   `json:"chainId"`
	Accounts []string `json:"accounts"`
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
}

type sessionUpdate struct {
	Approved bool     `json:"approved"`
	ChainID  *uint64  `json:"chainId"`
	Accounts []string `json:"accounts"`
}

type txParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

type rpcRequest struct {
	ID      int64         `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID      int64               `json:"id"`
	JSONRPC string              `json:"jsonrpc"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
}
