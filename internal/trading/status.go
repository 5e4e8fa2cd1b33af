// Package trading executes trades against the trading contracts and reconciles their locks
// with on-chain outcomes.
package trading

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/chain"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/pkg/logger"
)

// ErrAlgorithmNotFound is returned when no algorithm is registered under the requested address.
var ErrAlgorithmNotFound = errors.New("algorithm not found")

// StatusChecker resolves the on-chain status of trade transactions.
type StatusChecker struct {
	algorithms   repository.AlgorithmRepository
	transactions repository.TransactionRepository
	provider     chain.Provider
	pollInterval time.Duration
	now          func() time.Time
	log          *logrus.Entry
}

func NewStatusChecker(
	algorithms repository.AlgorithmRepository,
	transactions repository.TransactionRepository,
	provider chain.Provider,
	pollInterval time.Duration,
	log *logrus.Entry,
) *StatusChecker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &StatusChecker{
		algorithms:   algorithms,
		transactions: transactions,
		provider:     provider,
		pollInterval: pollInterval,
		now:          time.Now,
		log:          logger.OrDefault(log, "status"),
	}
}

// CheckTradeStatus looks the receipt up once when the request timeout is zero, and otherwise
// waits up to the timeout for it to appear. A missing receipt is in progress.
func (c *StatusChecker) CheckTradeStatus(ctx context.Context, req domain.StatusRequest) (domain.TradeStatus, error) {
	metrics.StatusChecks.Add(1)
	if err := req.Validate(); err != nil {
		return "", err
	}

	algo, err := c.algorithms.GetAlgorithm(ctx, req.AlgorithmID.PublicAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", errors.Wrapf(ErrAlgorithmNotFound, "%s", req.AlgorithmID)
		}
		return "", err
	}
	backend, err := c.provider.Client(algo.ChainID)
	if err != nil {
		return "", err
	}

	log := c.log.WithFields(logrus.Fields{"algorithm": req.AlgorithmID.PublicAddress, "tx_hash": req.TransactionHash.Value})
	hash := common.HexToHash(req.TransactionHash.Value)
	timeout := time.Duration(req.TimeoutInSeconds) * time.Second

	receipt, err := c.receipt(ctx, backend, hash, timeout)
	if err != nil {
		return "", errors.Wrapf(err, "receipt of %s", req.TransactionHash.Value)
	}
	if receipt == nil {
		log.Info("transaction receipt not found")
		return domain.StatusInProgressOrNotFound, nil
	}
	log.WithField("receipt_status", receipt.Status).Info("retrieved transaction receipt")
	if receipt.Status == types.ReceiptStatusSuccessful {
		return domain.StatusSuccessful, nil
	}
	return domain.StatusFailed, nil
}

// receipt returns nil, nil when the receipt is not available within timeout.
func (c *StatusChecker) receipt(ctx context.Context, backend chain.Backend, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		r, err := backend.TransactionReceipt(ctx, hash)
		if chain.IsNotFound(err) {
			return nil, nil
		}
		return r, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		r, err := backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil:
			return r, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case waitCtx.Err() != nil:
			return nil, nil
		case !chain.IsNotFound(err):
			return nil, err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, nil
		case <-ticker.C:
		}
	}
}

// HandleStatusRequest checks the status and records terminal outcomes on the stored
// transaction. An in-progress answer leaves the record untouched.
func (c *StatusChecker) HandleStatusRequest(ctx context.Context, req domain.StatusRequest) (domain.StatusResponse, error) {
	status, err := c.CheckTradeStatus(ctx, req)
	if err != nil {
		return domain.StatusResponse{}, err
	}
	if status.Terminal() {
		if err := c.transactions.UpdateTransactionStatus(ctx, req.TransactionHash, status, c.now().UTC()); err != nil {
			return domain.StatusResponse{}, err
		}
	}
	return domain.NewStatusResponse(status), nil
}
