package badgerstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/pkg/kvstore"
	"github.com/betbot/tradecore/pkg/logger"
)

// NonceRepository guards each counter with a short spin lock so the read-increment-write of
// one algorithm never interleaves.
type NonceRepository struct {
	store *kvstore.Store
	lease time.Duration
	poll  time.Duration
	log   *logrus.Entry
}

var _ repository.NonceRepository = (*NonceRepository)(nil)

func NewNonceRepository(store *kvstore.Store, lease, poll time.Duration, log *logrus.Entry) *NonceRepository {
	return &NonceRepository{
		store: store,
		lease: lease,
		poll:  poll,
		log:   logger.OrDefault(log, "nonce"),
	}
}

func (r *NonceRepository) GetNonce(ctx context.Context, id domain.AlgorithmID, chainNonce uint64) (uint64, error) {
	lockKey := repository.NonceLockKey(id)
	if err := r.obtainLock(ctx, lockKey); err != nil {
		return 0, err
	}
	defer func() {
		if err := r.store.Delete(lockKey); err != nil {
			r.log.WithError(err).WithField("algorithm", id.PublicAddress).Warn("release nonce lock failed")
		}
	}()

	var nonce uint64
	counterKey := repository.NonceCounterKey(id)
	err := r.store.Update(func(tx *kvstore.Txn) error {
		nonce = chainNonce
		v, ok, err := tx.Get(counterKey)
		if err != nil {
			return err
		}
		if ok {
			stored, err := strconv.ParseUint(string(v), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt nonce counter %q: %w", v, err)
			}
			nonce = stored
		}
		return tx.Set(counterKey, []byte(strconv.FormatUint(nonce+1, 10)), 0)
	})
	if err != nil {
		return 0, fmt.Errorf("get nonce %s: %w", id, err)
	}
	r.log.WithFields(logrus.Fields{"algorithm": id.PublicAddress, "nonce": nonce}).Info("retrieved nonce")
	return nonce, nil
}

func (r *NonceRepository) obtainLock(ctx context.Context, key string) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.store.SetNX(key, []byte(repository.LockedValue), r.lease)
		if err != nil {
			return fmt.Errorf("obtain nonce lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *NonceRepository) ResetNonce(_ context.Context, id domain.AlgorithmID) error {
	key := repository.NonceCounterKey(id)
	r.log.WithField("algorithm", id.PublicAddress).Info("resetting nonce")
	if err := r.store.Delete(key); err != nil {
		return fmt.Errorf("reset nonce %s: %w", id, err)
	}
	return nil
}
