package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/pkg/metrics"
)

// Options are the explicit initialization parameters of the connection context.
type Options struct {
	Chains      []entity.Chain
	Modules     []port.WalletModule
	AppMetadata entity.AppMetadata
	Clients     port.ChainClientProvider
	Logger      port.Logger
}

type activeWallet struct {
	conn     *entity.WalletConnection
	module   port.WalletModule
	session  port.WalletSession
	provider port.Provider
}

type observerEntry struct {
	id int
	fn port.StateObserver
}

// Manager is the process wide wallet connection context.
// It is created once at startup and handed to whoever needs it.
type Manager struct {
	chains   []entity.Chain
	modules  []port.WalletModule
	metadata entity.AppMetadata
	clients  port.ChainClientProvider
	logger   port.Logger

	mu         sync.Mutex
	active     *activeWallet
	connecting bool
	pairingURI string
	lastID     uint64

	obsMu     sync.Mutex
	observers []observerEntry
	nextObsID int

	// notifyMu keeps observer calls ordered.
	notifyMu sync.Mutex
}

// NewManager creates the connection context. Modules are offered in the given order.
func NewManager(opts Options) *Manager {
	return &Manager{
		chains:   append([]entity.Chain(nil), opts.Chains...),
		modules:  append([]port.WalletModule(nil), opts.Modules...),
		metadata: opts.AppMetadata,
		clients:  opts.Clients,
		logger:   opts.Logger,
	}
}

var _ port.SessionManager = (*Manager)(nil)

// Config returns the chains, wallets and metadata the context was configured with.
func (m *Manager) Config() port.SessionConfig {
	wallets := make([]entity.WalletDescriptor, 0, len(m.modules))
	for _, mod := range m.modules {
		wallets = append(wallets, entity.WalletDescriptor{
			Label:     mod.Label(),
			Kind:      mod.Kind(),
			Available: mod.Available(),
		})
	}
	return port.SessionConfig{
		Chains:      append([]entity.Chain(nil), m.chains...),
		Wallets:     wallets,
		AppMetadata: m.metadata,
	}
}

// State returns the current wallet state.
func (m *Manager) State() port.WalletState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() port.WalletState {
	st := port.WalletState{Connecting: m.connecting, PairingURI: m.pairingURI}
	if m.active != nil {
		conn := *m.active.conn
		conn.Accounts = append([]entity.Account(nil), m.active.conn.Accounts...)
		st.Wallet = &conn
		st.Provider = m.active.provider
	}
	return st
}

// Subscribe registers fn to be called after every state change.
func (m *Manager) Subscribe(fn port.StateObserver) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.nextObsID++
	id := m.nextObsID
	m.observers = append(m.observers, observerEntry{id: id, fn: fn})
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) notify(ctx context.Context) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.obsMu.Lock()
	observers := make([]port.StateObserver, 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o.fn)
	}
	m.obsMu.Unlock()

	st := m.State()
	for _, fn := range observers {
		fn(ctx, st)
	}
}

func (m *Manager) chainByID(id uint64) (entity.Chain, bool) {
	for _, c := range m.chains {
		if c.ID == id {
			return c, true
		}
	}
	return entity.Chain{}, false
}

func (m *Manager) selectModule(label string) (port.WalletModule, error) {
	if label == "" {
		for _, mod := range m.modules {
			if mod.Available() {
				return mod, nil
			}
		}
		return nil, entity.ErrNoWalletAvailable
	}
	for _, mod := range m.modules {
		if mod.Label() == label {
			if !mod.Available() {
				return nil, fmt.Errorf("%w: %s", entity.ErrNoWalletAvailable, label)
			}
			return mod, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", entity.ErrUnknownWallet, label)
}

func (m *Manager) selectChain(requested uint64, mod port.WalletModule) (entity.Chain, error) {
	if requested != 0 {
		c, ok := m.chainByID(requested)
		if !ok {
			return entity.Chain{}, fmt.Errorf("%w: %d", entity.ErrUnsupportedChain, requested)
		}
		return c, nil
	}
	if preferred := mod.PreferredChainID(); preferred != 0 {
		if c, ok := m.chainByID(preferred); ok {
			return c, nil
		}
	}
	if len(m.chains) == 0 {
		return entity.Chain{}, fmt.Errorf("%w: no chains configured", entity.ErrUnsupportedChain)
	}
	return m.chains[0], nil
}

// Connect selects a wallet module and a chain, connects and publishes the new wallet.
// An already connected wallet is torn down first.
func (m *Manager) Connect(ctx context.Context, opts entity.ConnectOptions) (*entity.WalletConnection, error) {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		return nil, entity.ErrConnectInProgress
	}
	mod, err := m.selectModule(opts.Label)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	chain, err := m.selectChain(opts.ChainID, mod)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.connecting = true
	m.pairingURI = ""
	m.lastID++
	id := m.lastID
	previous := m.active
	m.active = nil
	m.mu.Unlock()

	if previous != nil {
		m.logger.Info("Replacing connected wallet", "label", previous.conn.Label, "connection_id", previous.conn.ID)
		if err := previous.session.Close(ctx); err != nil {
			m.logger.Warn("Failed to close previous wallet session", "label", previous.conn.Label, "error", err)
		}
		metrics.SetConnected(false)
	}
	m.notify(ctx)

	m.logger.Info("Connecting wallet", "label", mod.Label(), "chain", chain.String(), "connection_id", id)
	active, err := m.connect(ctx, id, mod, chain)

	m.mu.Lock()
	m.connecting = false
	m.pairingURI = ""
	if err == nil {
		m.active = active
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Wallet connection failed", "label", mod.Label(), "chain", chain.String(), "error", err)
		m.notify(ctx)
		return nil, err
	}
	metrics.SetConnected(true)
	m.logger.Info("Wallet connected",
		"label", active.conn.Label, "address", active.conn.Accounts[0].Address.Hex(), "chain_id", chain.ID, "connection_id", id)
	m.notify(ctx)

	conn := *active.conn
	return &conn, nil
}

func (m *Manager) connect(ctx context.Context, id uint64, mod port.WalletModule, chain entity.Chain) (*activeWallet, error) {
	client, err := m.clients.GetClient(chain)
	if err != nil {
		return nil, fmt.Errorf("chain client for %s: %w", chain, err)
	}
	hooks := port.ConnectHooks{
		OnPairingURI: func(uri string) { m.setPairingURI(ctx, id, uri) },
		OnDisconnect: func(reason error) { m.remoteDisconnect(id, reason) },
		OnChange:     func(chainID uint64, accounts []entity.Account) { m.remoteChange(id, chainID, accounts) },
	}
	sess, err := mod.Connect(ctx, client, hooks)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", mod.Label(), err)
	}
	accounts := sess.Accounts()
	if len(accounts) == 0 {
		if cerr := sess.Close(ctx); cerr != nil {
			m.logger.Warn("Failed to close wallet session without accounts", "label", mod.Label(), "error", cerr)
		}
		return nil, fmt.Errorf("connect %s: %w", mod.Label(), entity.ErrNoAccounts)
	}
	return &activeWallet{
		conn: &entity.WalletConnection{
			ID:       id,
			Label:    mod.Label(),
			Kind:     mod.Kind(),
			Accounts: append([]entity.Account(nil), accounts...),
			Chain:    chain,
		},
		module:   mod,
		session:  sess,
		provider: newProvider(client, sess.Signer()),
	}, nil
}

func (m *Manager) setPairingURI(ctx context.Context, id uint64, uri string) {
	m.mu.Lock()
	if !m.connecting || m.lastID != id {
		m.mu.Unlock()
		return
	}
	m.pairingURI = uri
	m.mu.Unlock()
	m.logger.Info("Waiting for wallet pairing", "connection_id", id)
	m.notify(ctx)
}

// remoteDisconnect drops the wallet when its session was ended by the wallet side.
func (m *Manager) remoteDisconnect(id uint64, reason error) {
	m.mu.Lock()
	if m.active == nil || m.active.conn.ID != id {
		m.mu.Unlock()
		return
	}
	label := m.active.conn.Label
	m.active = nil
	m.mu.Unlock()

	metrics.SetConnected(false)
	m.logger.Warn("Wallet disconnected by the remote side", "label", label, "connection_id", id, "reason", reason)
	m.notify(context.Background())
}

// remoteChange follows a chain or account switch made in the wallet itself.
// A supported chain rebinds the provider to its client. An unsupported one keeps the old binding.
func (m *Manager) remoteChange(id uint64, chainID uint64, accounts []entity.Account) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil || active.conn.ID != id {
		return
	}

	conn := *active.conn
	next := &activeWallet{conn: &conn, module: active.module, session: active.session, provider: active.provider}
	if len(accounts) > 0 {
		conn.Accounts = append([]entity.Account(nil), accounts...)
	}
	if chainID != 0 && chainID != conn.Chain.ID {
		chain, ok := m.chainByID(chainID)
		if !ok {
			m.logger.Warn("Wallet moved to an unsupported chain", "label", conn.Label, "chain_id", chainID)
		} else if client, err := m.clients.GetClient(chain); err != nil {
			m.logger.Error("No chain client for the wallet's new chain", "chain", chain.String(), "error", err)
		} else {
			active.session.BindChain(client)
			conn.Chain = chain
			next.provider = newProvider(client, active.session.Signer())
		}
	}
	if conn.Chain.ID == active.conn.Chain.ID && len(accounts) == 0 {
		return
	}

	m.mu.Lock()
	if m.active != active {
		m.mu.Unlock()
		return
	}
	m.active = next
	m.mu.Unlock()

	m.logger.Info("Wallet changed by the remote side",
		"label", conn.Label, "chain_id", conn.Chain.ID, "accounts", len(conn.Accounts), "connection_id", id)
	m.notify(context.Background())
}

// Disconnect closes the session of the wallet with the given label, "" means the active one.
// The wallet is dropped from the state even when closing fails.
func (m *Manager) Disconnect(ctx context.Context, label string) error {
	m.mu.Lock()
	active := m.active
	if active == nil {
		m.mu.Unlock()
		return nil
	}
	if label != "" && active.conn.Label != label {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q is not connected", entity.ErrUnknownWallet, label)
	}
	m.active = nil
	m.mu.Unlock()

	metrics.SetConnected(false)
	err := active.session.Close(ctx)
	if err != nil && !errors.Is(err, entity.ErrSessionClosed) {
		m.logger.Warn("Wallet teardown failed", "label", active.conn.Label, "error", err)
	} else {
		err = nil
		m.logger.Info("Wallet disconnected", "label", active.conn.Label, "connection_id", active.conn.ID)
	}
	m.notify(ctx)
	return err
}

// SetChain moves the active wallet to another supported chain.
func (m *Manager) SetChain(ctx context.Context, chainID uint64) error {
	chain, ok := m.chainByID(chainID)
	if !ok {
		return fmt.Errorf("%w: %d", entity.ErrUnsupportedChain, chainID)
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return entity.ErrNotConnected
	}
	if active.conn.Chain.ID == chainID {
		return nil
	}

	client, err := m.clients.GetClient(chain)
	if err != nil {
		return fmt.Errorf("chain client for %s: %w", chain, err)
	}
	if err := active.session.SwitchChain(ctx, client); err != nil {
		return fmt.Errorf("switch %s to %s: %w", active.conn.Label, chain, err)
	}

	m.mu.Lock()
	if m.active != active {
		m.mu.Unlock()
		return entity.ErrStaleResult
	}
	conn := *active.conn
	conn.Chain = chain
	m.active = &activeWallet{
		conn:     &conn,
		module:   active.module,
		session:  active.session,
		provider: newProvider(client, active.session.Signer()),
	}
	m.mu.Unlock()

	m.logger.Info("Wallet switched chain", "label", conn.Label, "chain", chain.String())
	m.notify(ctx)
	return nil
}
