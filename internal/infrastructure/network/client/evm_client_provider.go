package client

import (
	"fmt"
	"sync"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"

	"go.uber.org/zap"
)

// evmClientProvider implements the port.ChainClientProvider interface.
type evmClientProvider struct {
	clients map[uint64]*EVMClient
	mu      sync.Mutex
	logger  *zap.Logger
	opts    Options
}

// EVMClientProvider caches one client per chain id.
type EVMClientProvider interface {
	port.ChainClientProvider
	Close()
}

// NewEVMClientProvider creates a new EVMClientProvider.
func NewEVMClientProvider(opts Options, logger *zap.Logger) EVMClientProvider {
	return &evmClientProvider{
		clients: make(map[uint64]*EVMClient),
		logger:  logger.Named("evm"),
		opts:    opts.withDefaults(),
	}
}

// GetClient retrieves a client for the given chain.
// A cached client is reused unless the chain's RPC URL changed.
func (p *evmClientProvider) GetClient(chain entity.Chain) (port.ChainClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, exists := p.clients[chain.ID]; exists {
		if client.Definition().RPCURL == chain.RPCURL {
			p.logger.Debug("Returning cached EVM client", zap.Uint64("chain_id", chain.ID))
			return client, nil
		}
		client.Close()
		delete(p.clients, chain.ID)
	}

	p.logger.Info("Creating new EVM client", zap.String("chain", chain.Label), zap.Uint64("chain_id", chain.ID), zap.String("rpc_primary", chain.RPCURL))
	newClient, err := NewEVMClient(chain, p.opts, p.logger)
	if err != nil {
		p.logger.Error("Failed to create EVM client", zap.String("chain", chain.Label), zap.Error(err))
		return nil, fmt.Errorf("failed to create EVM client for %s: %w", chain, err)
	}

	p.clients[chain.ID] = newClient
	return newClient, nil
}

// Close closes every cached client.
func (p *evmClientProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.clients {
		c.Close()
		delete(p.clients, id)
	}
}
