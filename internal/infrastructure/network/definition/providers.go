package networkdefinition

import (
	"fmt"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

// ChainDefinitionProvider provides the supported chain definitions in display order.
type ChainDefinitionProvider struct {
	logger port.Logger
	chains []entity.Chain
	byID   map[uint64]entity.Chain
}

// Predefined chain definitions
var ( //nolint:gochecknoglobals // Global for definitions
	Goerli = entity.Chain{
		ID:               5,
		Token:            "GETH",
		Label:            "Ethereum Goerli",
		Decimals:         18,
		RPCURL:           "https://node.wallet.unipass.id/eth-goerli",
		FallbackRPCURLs:  []string{"https://ethereum-goerli.publicnode.com"},
		BlockExplorerURL: "https://goerli.etherscan.io",
	}
	Mumbai = entity.Chain{
		ID:               80001,
		Token:            "MATIC",
		Label:            "Matic Mumbai",
		Decimals:         18,
		RPCURL:           "https://node.wallet.unipass.id/polygon-mumbai",
		FallbackRPCURLs:  []string{"https://polygon-mumbai-bor.publicnode.com"},
		BlockExplorerURL: "https://mumbai.polygonscan.com",
	}
)

// DefaultChains returns the compiled-in chain list.
func DefaultChains() []entity.Chain {
	return []entity.Chain{Goerli, Mumbai}
}

// NewChainDefinitionProvider creates a provider over configured chains, or the defaults when none are configured.
func NewChainDefinitionProvider(log port.Logger, configured []entity.Chain) *ChainDefinitionProvider {
	chains := configured
	if len(chains) == 0 {
		chains = DefaultChains()
		log.Info("No chains configured, using compiled-in defaults", "count", len(chains))
	}

	p := &ChainDefinitionProvider{
		logger: log,
		chains: make([]entity.Chain, 0, len(chains)),
		byID:   make(map[uint64]entity.Chain, len(chains)),
	}
	for _, ch := range chains {
		if _, dup := p.byID[ch.ID]; dup {
			p.logger.Warn(fmt.Sprintf("Duplicate chain definition for ChainID %d. Skipping.", ch.ID))
			continue
		}
		if ch.Decimals == 0 {
			ch.Decimals = 18
		}
		p.chains = append(p.chains, ch)
		p.byID[ch.ID] = ch
		p.logger.Debug(fmt.Sprintf("  - Supported chain: %s (ID: %s, token: %s)", ch.Label, ch.HexID(), ch.Token))
	}
	p.logger.Info(fmt.Sprintf("ChainDefinitionProvider initialized. Supported chains: %d", len(p.chains)))
	return p
}

// GetAllChains returns a copy of the supported chains.
func (p *ChainDefinitionProvider) GetAllChains() []entity.Chain {
	if p == nil {
		return []entity.Chain{}
	}
	out := make([]entity.Chain, len(p.chains))
	copy(out, p.chains)
	return out
}

// GetChainByID returns a supported chain by id.
func (p *ChainDefinitionProvider) GetChainByID(chainID uint64) (entity.Chain, bool) {
	if p == nil {
		return entity.Chain{}, false
	}
	ch, ok := p.byID[chainID]
	return ch, ok
}
