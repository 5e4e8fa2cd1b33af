package trading

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/pkg/logger"
)

// LockReconciler acquires trade locks and releases locks whose transaction has finished.
type LockReconciler struct {
	locks        repository.LockRepository
	transactions repository.TransactionRepository
	checker      *StatusChecker
	now          func() time.Time
	log          *logrus.Entry
}

func NewLockReconciler(locks repository.LockRepository, transactions repository.TransactionRepository, checker *StatusChecker, log *logrus.Entry) *LockReconciler {
	return &LockReconciler{
		locks:        locks,
		transactions: transactions,
		checker:      checker,
		now:          time.Now,
		log:          logger.OrDefault(log, "reconciler"),
	}
}

// RetrieveLock acquires the lock of trade. When the lock is held by a transaction that has
// since been mined, the transaction record is updated, the lock dropped and acquired again.
func (r *LockReconciler) RetrieveLock(ctx context.Context, trade domain.Trade) (domain.LockResult, error) {
	id, symbol := trade.AlgorithmID, trade.LockSymbol()
	log := r.log.WithFields(logrus.Fields{"algorithm": id.PublicAddress, "symbol": symbol})

	res, err := r.locks.GetAlgorithmLock(ctx, id, symbol)
	if err != nil || res.Acquired {
		return res, err
	}
	// Held without a recorded transaction: another request is between lock and submit.
	if res.TransactionHash == nil {
		log.Info("lock held, no transaction recorded yet")
		return res, nil
	}

	status, err := r.checker.CheckTradeStatus(ctx, domain.StatusRequest{
		AlgorithmID:     id,
		TransactionHash: *res.TransactionHash,
	})
	if err != nil {
		return res, err
	}
	if !status.Terminal() {
		log.WithField("tx_hash", res.TransactionHash.Value).Info("trading call stopped, transaction still in progress")
		return res, nil
	}

	if err := r.transactions.UpdateTransactionStatus(ctx, *res.TransactionHash, status, r.now().UTC()); err != nil {
		return res, err
	}
	// Drop the finished transaction along with the lock so the next holder starts clean.
	if err := r.locks.ForceUnlock(ctx, id, symbol); err != nil {
		return res, err
	}
	metrics.StaleLocksHealed.Add(1)
	log.WithFields(logrus.Fields{"tx_hash": res.TransactionHash.Value, "status": status}).Info("released lock of finished transaction")

	// A concurrent request may win the lock in between.
	return r.locks.GetAlgorithmLock(ctx, id, symbol)
}
