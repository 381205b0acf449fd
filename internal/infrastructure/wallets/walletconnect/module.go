package walletconnect

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

// Label is shown on the wallet selector.
const Label = "WalletConnect"

// Config configures the bridge client.
type Config struct {
	BridgeURL      string
	RequestTimeout time.Duration
	Meta           PeerMeta
}

// Module connects remote wallets through a WalletConnect v1 bridge.
type Module struct {
	cfg    Config
	dialer *websocket.Dialer
	ids    *atomic.Int64
	logger *zap.Logger
}

// NewModule creates the module.
func NewModule(cfg Config, logger *zap.Logger) *Module {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	return &Module{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		ids:    atomic.NewInt64(time.Now().UnixNano() / 1000),
		logger: logger.Named("walletconnect"),
	}
}

var _ port.WalletModule = (*Module)(nil)

func (m *Module) Label() string { return Label }

func (m *Module) Kind() entity.WalletKind { return entity.WalletKindWalletConnect }

// Available is true whenever a bridge is configured, reachability is checked on connect.
func (m *Module) Available() bool { return m.cfg.BridgeURL != "" }

func (m *Module) PreferredChainID() uint64 { return 0 }

// PairingURI formats the v1 URI a wallet scans to join the handshake topic.
func PairingURI(handshakeTopic, bridgeURL string, key []byte) string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s", handshakeTopic, url.QueryEscape(bridgeURL), hex.EncodeToString(key))
}

// Connect opens a bridge session and waits until the wallet approves or rejects it.
func (m *Module) Connect(ctx context.Context, chain port.ChainClient, hooks port.ConnectHooks) (port.WalletSession, error) {
	key, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	handshakeTopic := uuid.NewString()
	clientID := uuid.NewString()

	wsURL, err := websocketURL(m.cfg.BridgeURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := m.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial to wallet connect bridge: %w", err)
	}

	bc := newBridgeConn(conn, key, clientID, m.ids, m.logger)
	s := &session{bridge: bc, chain: chain, logger: m.logger, timeout: m.cfg.RequestTimeout}
	bc.onRequest = s.handleWalletRequest
	bc.onClosed = s.remoteClosed
	s.onDisconnect = hooks.OnDisconnect
	s.onChange = hooks.OnChange
	go bc.readLoop()

	if err := bc.subscribe(clientID); err != nil {
		_ = bc.close()
		return nil, err
	}

	uri := PairingURI(handshakeTopic, m.cfg.BridgeURL, key)
	m.logger.Debug("wallet connect - generated uri", zap.String("topic", handshakeTopic))

	type outcome struct {
		raw []byte
		err error
	}
	resCh := make(chan outcome, 1)
	chainID := chain.Definition().ID
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
		raw, err := bc.request(reqCtx, handshakeTopic, methodSessionRequest, sessionRequestParams{
			PeerID:   clientID,
			PeerMeta: m.cfg.Meta,
			ChainID:  &chainID,
		})
		resCh <- outcome{raw: raw, err: err}
	}()
	if hooks.OnPairingURI != nil {
		hooks.OnPairingURI(uri)
	}

	res := <-resCh
	if res.err != nil {
		_ = bc.close()
		return nil, fmt.Errorf("wallet connect session request: %w", res.err)
	}

	var result sessionResult
	if err := json.Unmarshal(res.raw, &result); err != nil {
		_ = bc.close()
		return nil, fmt.Errorf("unmarshal wallet info: %w", err)
	}
	if !result.Approved {
		_ = bc.close()
		return nil, fmt.Errorf("wallet connect session: %w", entity.ErrUserRejected)
	}
	accounts, err := parseAccounts(result.Accounts)
	if err != nil {
		_ = bc.close()
		return nil, err
	}

	s.mu.Lock()
	s.peerID = result.PeerID
	s.accounts = accounts
	s.chainID = result.ChainID
	if s.chainID == 0 {
		s.chainID = chainID
	}
	s.mu.Unlock()
	s.signer = &remoteSigner{session: s}
	s.established.Store(true)

	m.logger.Info("wallet connect - session approved",
		zap.String("peer", result.PeerMeta.Name),
		zap.Uint64("chain_id", s.chainID),
		zap.Int("accounts", len(accounts)))
	return s, nil
}

func parseAccounts(raw []string) ([]entity.Account, error) {
	if len(raw) == 0 {
		return nil, entity.ErrNoAccounts
	}
	out := make([]entity.Account, 0, len(raw))
	for _, a := range raw {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("wallet returned invalid account %q", a)
		}
		out = append(out, entity.Account{Address: common.HexToAddress(a)})
	}
	return out, nil
}

// withTimeout bounds a wallet round trip, the user has to confirm on the device.
func (s *session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// handleWalletRequest runs on the read loop.
func (s *session) handleWalletRequest(method string, params gjson.Result) {
	if method != methodSessionUpdate {
		s.logger.Debug("wallet connect - ignoring wallet request", zap.String("method", method))
		return
	}
	update := params.Array()
	if len(update) == 0 {
		return
	}
	approved := update[0].Get("approved")
	if approved.Exists() && !approved.Bool() {
		s.logger.Warn("wallet connect - session closed by wallet")
		s.bridge.markRemoteClosed()
		return
	}

	var (
		changedChain    uint64
		changedAccounts []entity.Account
	)
	s.mu.Lock()
	if id := update[0].Get("chainId"); id.Exists() && id.Uint() != 0 && id.Uint() != s.chainID {
		s.chainID = id.Uint()
		changedChain = s.chainID
	}
	var accs []string
	for _, a := range update[0].Get("accounts").Array() {
		accs = append(accs, a.String())
	}
	if parsed, err := parseAccounts(accs); err == nil && !sameAccounts(s.accounts, parsed) {
		s.accounts = parsed
		changedAccounts = append([]entity.Account(nil), parsed...)
	}
	s.mu.Unlock()

	if changedChain == 0 && len(changedAccounts) == 0 {
		return
	}
	s.logger.Info("wallet connect - session updated by wallet",
		zap.Uint64("chain_id", changedChain), zap.Int("accounts", len(changedAccounts)))
	if s.established.Load() && s.onChange != nil {
		s.onChange(changedChain, changedAccounts)
	}
}

func sameAccounts(a, b []entity.Account) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Address != b[i].Address {
			return false
		}
	}
	return true
}

// remoteClosed only reports sessions that finished the handshake.
func (s *session) remoteClosed(err error) {
	if s.established.Load() && s.onDisconnect != nil {
		s.onDisconnect(err)
	}
}

var errNoPeer = errors.New("wallet connect session has no peer")
