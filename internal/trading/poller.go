package trading

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/pkg/logger"
)

// StatusPoller follows submitted transactions in the background until they are mined.
type StatusPoller struct {
	checker  *StatusChecker
	nonces   repository.NonceRepository
	attempts int
	base     time.Duration
	sleep    func(time.Duration)
	log      *logrus.Entry

	wg sync.WaitGroup
}

func NewStatusPoller(checker *StatusChecker, nonces repository.NonceRepository, attempts int, base time.Duration, log *logrus.Entry) *StatusPoller {
	if attempts < 1 {
		attempts = 1
	}
	return &StatusPoller{
		checker:  checker,
		nonces:   nonces,
		attempts: attempts,
		base:     base,
		sleep:    time.Sleep,
		log:      logger.OrDefault(log, "poller"),
	}
}

// Dispatch starts following hash and returns immediately. Pollers are not cancelled; use
// Wait to drain them.
func (p *StatusPoller) Dispatch(trade domain.Trade, id domain.AlgorithmID, hash domain.TransactionHash) {
	p.wg.Add(1)
	metrics.PollersInFlight.Add(1)
	go func() {
		defer p.wg.Done()
		defer metrics.PollersInFlight.Add(-1)
		p.run(context.Background(), trade, id, hash)
	}()
}

// Wait blocks until every dispatched poller has finished or ctx is done.
func (p *StatusPoller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// policy yields base, 2·base, 4·base, ...
func (p *StatusPoller) policy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.Reset()
	return b
}

// run polls up to p.attempts times. It sleeps only after an in-progress answer; the delay of
// attempt n is base·2^n either way. The nonce counter is reset unless the trade succeeded.
func (p *StatusPoller) run(ctx context.Context, trade domain.Trade, id domain.AlgorithmID, hash domain.TransactionHash) domain.StatusResponse {
	log := p.log.WithFields(logrus.Fields{"algorithm": id.PublicAddress, "symbol": trade.LockSymbol(), "tx_hash": hash.Value})
	policy := p.policy()

	var last domain.StatusResponse
	defer func() {
		if last.Code == domain.StatusSuccessful {
			return
		}
		if err := p.nonces.ResetNonce(ctx, id); err != nil {
			log.WithError(err).Error("failed to reset nonce")
		}
	}()

	for attempt := 0; attempt < p.attempts; attempt++ {
		delay := policy.NextBackOff()

		resp, err := p.checker.HandleStatusRequest(ctx, domain.StatusRequest{AlgorithmID: id, TransactionHash: hash})
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("error retrieving trade status")
			continue
		}
		last = resp
		if resp.Code.Terminal() {
			log.WithField("status", resp.Code).Info("retrieved trade status")
			return last
		}
		log.WithFields(logrus.Fields{"attempt": attempt, "sleep": delay}).Info("trade still in progress, sleeping")
		p.sleep(delay)
	}

	metrics.PollerExhausted.Add(1)
	log.WithField("critical", true).Error("was not successful in retrieving trade status")
	return last
}
