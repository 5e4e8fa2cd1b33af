package trading

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/chain"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/pkg/logger"
)

// ErrAlgorithmDisabled is returned when a trade targets an algorithm that has been disabled.
var ErrAlgorithmDisabled = errors.New("algorithm is disabled")

// Executor runs trade requests end to end.
type Executor struct {
	reconciler   *LockReconciler
	locks        repository.LockRepository
	nonces       repository.NonceRepository
	transactions repository.TransactionRepository
	provider     chain.Provider
	submitter    *Submitter
	now          func() time.Time
	log          *logrus.Entry
}

func NewExecutor(
	reconciler *LockReconciler,
	locks repository.LockRepository,
	nonces repository.NonceRepository,
	transactions repository.TransactionRepository,
	provider chain.Provider,
	submitter *Submitter,
	log *logrus.Entry,
) *Executor {
	return &Executor{
		reconciler:   reconciler,
		locks:        locks,
		nonces:       nonces,
		transactions: transactions,
		provider:     provider,
		submitter:    submitter,
		now:          time.Now,
		log:          logger.OrDefault(log, "executor"),
	}
}

// HandleTradeRequest locks (algorithm, symbol), checks feasibility of multi-token trades,
// submits the transaction and records it. Contention and chain failures are returned as
// responses; repository failures as errors.
func (e *Executor) HandleTradeRequest(ctx context.Context, trade domain.Trade, algo *domain.Algorithm) (domain.TradeResponse, error) {
	if err := trade.Validate(); err != nil {
		return nil, err
	}
	if algo.Disabled {
		return nil, errors.Wrapf(ErrAlgorithmDisabled, "%s", algo.TradingContractAddress)
	}
	if trade.AlgorithmID.PublicAddress != algo.TradingContractAddress {
		return nil, errors.Wrapf(domain.ErrInvalidTrade, "trade for %s sent to algorithm %s", trade.AlgorithmID, algo.TradingContractAddress)
	}

	id, symbol := trade.AlgorithmID, trade.LockSymbol()
	log := e.log.WithFields(logrus.Fields{"algorithm": id.PublicAddress, "symbol": symbol, "trade_type": trade.Type()})

	lock, err := e.reconciler.RetrieveLock(ctx, trade)
	if err != nil {
		return nil, err
	}
	if !lock.Acquired {
		metrics.TradesLocked.Add(1)
		return lock.WasLocked(), nil
	}

	possible, err := e.tradePossible(ctx, trade, algo)
	if err != nil {
		log.WithError(err).Warn("error checking validity of blockchain trade")
		return e.fail(ctx, trade, err)
	}
	if !possible {
		return e.fail(ctx, trade, ErrTradeNotPossible)
	}

	backend, err := e.provider.Client(algo.ChainID)
	if err != nil {
		return e.fail(ctx, trade, err)
	}
	chainNonce, err := backend.NonceAt(ctx, algo.ControllerAddress(), nil)
	if err != nil {
		return e.fail(ctx, trade, errors.Wrap(err, "transaction count"))
	}
	counter, err := e.nonces.GetNonce(ctx, id, chainNonce)
	if err != nil {
		e.release(ctx, trade, log)
		return nil, err
	}

	tx, nonce, err := e.submitter.Submit(ctx, trade, algo, counter)
	if err != nil {
		log.WithError(err).Warn("error sending trade to blockchain")
		if rerr := e.nonces.ResetNonce(ctx, id); rerr != nil {
			log.WithError(rerr).Error("failed to reset nonce")
		}
		return e.fail(ctx, trade, err)
	}

	locked, err := e.locks.PersistAlgorithmTransaction(ctx, tx, symbol)
	if err != nil {
		return nil, err
	}
	record := domain.NewTradingTransaction(trade, tx.TransactionHash, e.now().UTC())
	if err := e.transactions.PersistTransaction(ctx, record); err != nil {
		return nil, err
	}

	metrics.TradesSubmitted.Add(1)
	log.WithFields(logrus.Fields{"tx_hash": tx.TransactionHash.Value, "nonce": nonce}).Info("trade submitted")
	return locked, nil
}

// tradePossible asks the tools contract whether a multi-token trade can execute. Single-token
// trades are always attempted.
func (e *Executor) tradePossible(ctx context.Context, trade domain.Trade, algo *domain.Algorithm) (bool, error) {
	if !trade.IsMultiToken() {
		return true, nil
	}
	tools, err := e.provider.TradingContractTools(algo)
	if err != nil {
		return false, err
	}
	method := "sellCheck"
	if trade.Type() == domain.TradeBuy {
		method = "buyCheck"
	}
	ok, err := tools.CallBool(ctx, method, common.HexToAddress(algo.TradingContractAddress), trade.Symbol)
	if err != nil {
		return false, err
	}
	e.log.WithFields(logrus.Fields{"algorithm": trade.AlgorithmID.PublicAddress, "symbol": trade.Symbol, "possible": ok}).Info("trade feasibility checked")
	return ok, nil
}

// fail releases the lock and maps cause to a response.
func (e *Executor) fail(ctx context.Context, trade domain.Trade, cause error) (domain.TradeResponse, error) {
	if err := e.locks.RemoveAlgorithmLock(ctx, trade.AlgorithmID, trade.LockSymbol()); err != nil {
		return nil, err
	}
	metrics.TradesFailed.Add(1)
	return ClassifyFailure(trade.AlgorithmID, cause), nil
}

func (e *Executor) release(ctx context.Context, trade domain.Trade, log *logrus.Entry) {
	if err := e.locks.RemoveAlgorithmLock(ctx, trade.AlgorithmID, trade.LockSymbol()); err != nil {
		log.WithError(err).Error("failed to release lock")
	}
}
