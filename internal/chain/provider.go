package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/ratelimit"
)

var ErrUnknownChain = errors.New("chain is not configured")

// Provider hands out chain clients and contract bindings per algorithm.
type Provider interface {
	Client(chain domain.ChainID) (Backend, error)
	ChainID(ctx context.Context, chain domain.ChainID) (*big.Int, error)
	TradingContract(a *domain.Algorithm) (*Contract, error)
	TradingContractTools(a *domain.Algorithm) (*Contract, error)
}

// Endpoint configures one chain.
type Endpoint struct {
	URL string
	// ChainID is used for signing. Zero asks the node.
	ChainID      int64
	ToolsAddress string
	RateLimit    float64
	RateBurst    int
}

// abiCache parses each ABI once.
type abiCache struct {
	source  ABISource
	mu      sync.Mutex
	trading map[domain.ContractVersion]abi.ABI
	tools   *abi.ABI
}

func newABICache(source ABISource) *abiCache {
	return &abiCache{source: source, trading: make(map[domain.ContractVersion]abi.ABI)}
}

func (c *abiCache) tradingABI(v domain.ContractVersion) (abi.ABI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.trading[v]; ok {
		return parsed, nil
	}
	parsed, err := c.source.TradingABI(v)
	if err != nil {
		return abi.ABI{}, err
	}
	c.trading[v] = parsed
	return parsed, nil
}

func (c *abiCache) toolsABI() (abi.ABI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tools != nil {
		return *c.tools, nil
	}
	parsed, err := c.source.ToolsABI()
	if err != nil {
		return abi.ABI{}, err
	}
	c.tools = &parsed
	return parsed, nil
}

// HTTPProvider dials configured JSON-RPC endpoints lazily and keeps one client per chain.
type HTTPProvider struct {
	endpoints map[domain.ChainID]Endpoint
	abis      *abiCache

	mu       sync.Mutex
	clients  map[domain.ChainID]*ethclient.Client
	backends map[domain.ChainID]Backend
	chainIDs map[domain.ChainID]*big.Int
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(endpoints map[domain.ChainID]Endpoint, source ABISource) *HTTPProvider {
	return &HTTPProvider{
		endpoints: endpoints,
		abis:      newABICache(source),
		clients:   make(map[domain.ChainID]*ethclient.Client),
		backends:  make(map[domain.ChainID]Backend),
		chainIDs:  make(map[domain.ChainID]*big.Int),
	}
}

func (p *HTTPProvider) Client(chain domain.ChainID) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.backends[chain]; ok {
		return b, nil
	}
	ep, ok := p.endpoints[chain]
	if !ok || ep.URL == "" {
		return nil, errors.Wrapf(ErrUnknownChain, "%s", chain)
	}
	client, err := ethclient.Dial(ep.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", chain)
	}

	var backend Backend = client
	if ep.RateLimit > 0 {
		backend = WithRateLimit(client, ratelimit.NewTokenBucket(ep.RateBurst, ep.RateLimit))
	}
	p.clients[chain] = client
	p.backends[chain] = backend
	return backend, nil
}

func (p *HTTPProvider) ChainID(ctx context.Context, chain domain.ChainID) (*big.Int, error) {
	p.mu.Lock()
	if id, ok := p.chainIDs[chain]; ok {
		p.mu.Unlock()
		return id, nil
	}
	ep := p.endpoints[chain]
	p.mu.Unlock()

	var id *big.Int
	if ep.ChainID > 0 {
		id = big.NewInt(ep.ChainID)
	} else {
		b, err := p.Client(chain)
		if err != nil {
			return nil, err
		}
		if id, err = b.ChainID(ctx); err != nil {
			return nil, errors.Wrapf(err, "chain id of %s", chain)
		}
	}

	p.mu.Lock()
	p.chainIDs[chain] = id
	p.mu.Unlock()
	return id, nil
}

func (p *HTTPProvider) TradingContract(a *domain.Algorithm) (*Contract, error) {
	b, err := p.Client(a.ChainID)
	if err != nil {
		return nil, err
	}
	parsed, err := p.abis.tradingABI(a.ContractVersion)
	if err != nil {
		return nil, err
	}
	return NewContract(common.HexToAddress(a.TradingContractAddress), parsed, b), nil
}

func (p *HTTPProvider) TradingContractTools(a *domain.Algorithm) (*Contract, error) {
	ep := p.endpoints[a.ChainID]
	if !common.IsHexAddress(ep.ToolsAddress) {
		return nil, errors.Errorf("no trading contract tools address configured for %s", a.ChainID)
	}
	b, err := p.Client(a.ChainID)
	if err != nil {
		return nil, err
	}
	parsed, err := p.abis.toolsABI()
	if err != nil {
		return nil, err
	}
	return NewContract(common.HexToAddress(ep.ToolsAddress), parsed, b), nil
}

// Close drops every dialed client.
func (p *HTTPProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for chain, c := range p.clients {
		c.Close()
		delete(p.clients, chain)
		delete(p.backends, chain)
	}
}

// StaticProvider serves every chain from one backend. It backs tests and local development
// nodes.
type StaticProvider struct {
	backend      Backend
	chainID      *big.Int
	toolsAddress common.Address
	abis         *abiCache
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(backend Backend, chainID *big.Int, toolsAddress common.Address, source ABISource) *StaticProvider {
	return &StaticProvider{
		backend:      backend,
		chainID:      chainID,
		toolsAddress: toolsAddress,
		abis:         newABICache(source),
	}
}

func (p *StaticProvider) Client(domain.ChainID) (Backend, error) {
	return p.backend, nil
}

func (p *StaticProvider) ChainID(ctx context.Context, _ domain.ChainID) (*big.Int, error) {
	if p.chainID != nil {
		return p.chainID, nil
	}
	return p.backend.ChainID(ctx)
}

func (p *StaticProvider) TradingContract(a *domain.Algorithm) (*Contract, error) {
	parsed, err := p.abis.tradingABI(a.ContractVersion)
	if err != nil {
		return nil, err
	}
	return NewContract(common.HexToAddress(a.TradingContractAddress), parsed, p.backend), nil
}

func (p *StaticProvider) TradingContractTools(*domain.Algorithm) (*Contract, error) {
	parsed, err := p.abis.toolsABI()
	if err != nil {
		return nil, err
	}
	return NewContract(p.toolsAddress, parsed, p.backend), nil
}
