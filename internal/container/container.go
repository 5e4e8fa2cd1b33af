// Package container wires the stores, chain access and services selected by the configuration.
package container

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/chain"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/kms"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/internal/repository/badgerstore"
	"github.com/betbot/tradecore/internal/repository/memory"
	"github.com/betbot/tradecore/internal/repository/postgres"
	"github.com/betbot/tradecore/internal/repository/sqlite"
	"github.com/betbot/tradecore/internal/system"
	"github.com/betbot/tradecore/internal/trading"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/kvstore"
	"github.com/betbot/tradecore/pkg/logger"
)

// Stores groups the four repositories.
type Stores struct {
	Algorithms   repository.AlgorithmRepository
	Transactions repository.TransactionRepository
	Locks        repository.LockRepository
	Nonces       repository.NonceRepository
}

type Container struct {
	Config *config.Config
	Stores

	Keys     kms.KeyManagementService
	Provider chain.Provider

	Checker  *trading.StatusChecker
	Executor *trading.Executor
	Poller   *trading.StatusPoller
	System   *system.Service

	health  []namedCheck
	closers []namedCloser
	log     *logrus.Entry
}

type namedCheck struct {
	name  string
	check func(ctx context.Context) bool
}

type namedCloser struct {
	name  string
	close func() error
}

// New builds the container. provider may be nil, in which case an HTTP provider is built from
// cfg.Chains.
func New(ctx context.Context, cfg *config.Config, provider chain.Provider) (*Container, error) {
	c := &Container{Config: cfg, log: logger.Component("container")}
	if err := c.build(ctx, provider); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, provider chain.Provider) error {
	cfg := c.Config
	if err := c.openStores(ctx); err != nil {
		return err
	}
	if err := c.openKeys(); err != nil {
		return err
	}

	if provider == nil {
		endpoints, err := Endpoints(cfg)
		if err != nil {
			return err
		}
		hp := chain.NewHTTPProvider(endpoints, chain.ABISource{
			ArtifactsDir: cfg.Contracts.ArtifactsDir,
			ToolsPath:    cfg.Contracts.ToolsABIPath,
		})
		c.onClose("chain", func() error { hp.Close(); return nil })
		provider = hp
	}
	c.Provider = provider

	c.Checker = trading.NewStatusChecker(c.Algorithms, c.Transactions, provider, cfg.Trading.StatusPoll, nil)
	reconciler := trading.NewLockReconciler(c.Locks, c.Transactions, c.Checker, nil)
	submitter := trading.NewSubmitter(provider, c.Keys, cfg, cfg.Trading.Unit, cfg.Trading.MaxTries, nil)
	c.Executor = trading.NewExecutor(reconciler, c.Locks, c.Nonces, c.Transactions, provider, submitter, nil)
	c.Poller = trading.NewStatusPoller(c.Checker, c.Nonces, cfg.Poller.Attempts, cfg.Poller.BaseSleep, nil)
	c.System = system.NewService(c.Algorithms, c.Transactions, c.Locks, c.Keys, nil)
	return nil
}

func (c *Container) openStores(ctx context.Context) error {
	cfg := c.Config
	ttl := cfg.LockTimeout()
	lease := time.Duration(cfg.Lock.NonceLeaseMS) * time.Millisecond
	poll := time.Duration(cfg.Lock.NoncePollMS) * time.Millisecond

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		c.Stores = Stores{
			Algorithms:   memory.NewAlgorithmRepository(),
			Transactions: memory.NewTransactionRepository(),
			Locks:        memory.NewLockRepository(ttl),
			Nonces:       memory.NewNonceRepository(),
		}

	case config.DriverLocal:
		kv, err := kvstore.Open(kvstore.OpenOptions{Path: cfg.Storage.BadgerPath})
		if err != nil {
			return fmt.Errorf("open lock store %s: %w", cfg.Storage.BadgerPath, err)
		}
		c.onClose("badger", kv.Close)
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		c.onClose("sqlite", db.Close)
		c.Stores = Stores{
			Algorithms:   sqlite.NewAlgorithmRepository(db),
			Transactions: sqlite.NewTransactionRepository(db),
			Locks:        badgerstore.NewLockRepository(kv, ttl),
			Nonces:       badgerstore.NewNonceRepository(kv, lease, poll, nil),
		}

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		c.onClose("postgres", func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		c.Stores = Stores{
			Algorithms:   postgres.NewAlgorithmStore(pool),
			Transactions: postgres.NewTransactionStore(pool),
			Locks:        postgres.NewLockStore(pool, ttl),
			Nonces:       postgres.NewNonceStore(pool),
		}

	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	c.health = append(c.health,
		namedCheck{"algorithms", c.Algorithms.IsHealthy},
		namedCheck{"transactions", c.Transactions.IsHealthy},
		namedCheck{"locks", c.Locks.IsHealthy},
	)
	c.log.WithField("driver", cfg.Storage.Driver).Info("stores ready")
	return nil
}

// openKeys opens the key store. The memory driver keeps keys in memory too, so it needs a
// mnemonic from the configuration.
func (c *Container) openKeys() error {
	cfg := c.Config
	opts := kvstore.OpenOptions{Path: cfg.KMS.StorePath}
	if cfg.Storage.Driver == config.DriverMemory || cfg.KMS.StorePath == "" {
		opts = kvstore.OpenOptions{InMemory: true}
	}
	if cfg.KMS.EncryptionKey != "" {
		key, err := kvstore.ParseKey(cfg.KMS.EncryptionKey)
		if err != nil {
			return fmt.Errorf("kms encryption key: %w", err)
		}
		opts.EncryptionKey = key
	}
	store, err := kvstore.Open(opts)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	c.onClose("kms", store.Close)

	keys, err := kms.NewLocal(store, cfg.KMS.Mnemonic, cfg.Stage, nil)
	if err != nil {
		return err
	}
	c.Keys = keys
	c.health = append(c.health, namedCheck{"kms", func(context.Context) bool { return store.Ping() == nil }})
	return nil
}

// Endpoints converts the chain configuration. Chains without an endpoint are skipped.
func Endpoints(cfg *config.Config) (map[domain.ChainID]chain.Endpoint, error) {
	out := make(map[domain.ChainID]chain.Endpoint, len(cfg.Chains))
	for name, cc := range cfg.Chains {
		if strings.TrimSpace(cc.Endpoint) == "" {
			continue
		}
		id, err := domain.ParseChainID(name)
		if err != nil {
			return nil, err
		}
		if cc.ToolsAddress != "" && !common.IsHexAddress(cc.ToolsAddress) {
			return nil, fmt.Errorf("chains.%s.tools_address: %w", name, domain.ErrInvalidAddress)
		}
		out[id] = chain.Endpoint{
			URL:          cc.Endpoint,
			ChainID:      cc.ChainID,
			ToolsAddress: cc.ToolsAddress,
			RateLimit:    cc.RateLimit,
			RateBurst:    cc.RateBurst,
		}
	}
	return out, nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

// Health runs every store check and returns the names of the failing ones.
func (c *Container) Health(ctx context.Context) []string {
	var failed []string
	for _, h := range c.health {
		if !h.check(ctx) {
			c.log.WithField("store", h.name).Error("health check failed")
			failed = append(failed, h.name)
		}
	}
	return failed
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.close(); err != nil {
			c.log.WithError(err).WithField("resource", cl.name).Warn("close failed")
		}
	}
	c.closers = nil
}
