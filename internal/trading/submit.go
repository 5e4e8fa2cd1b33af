package trading

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/chain"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/kms"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/pkg/logger"
)

// GasFactors supplies the per-chain multipliers applied to the node's estimates.
// *config.Config implements it.
type GasFactors interface {
	GasFactor(chain string) (decimal.Decimal, error)
	GasPriceFactor(chain string) (decimal.Decimal, error)
}

// Submitter builds, signs and sends trade transactions.
type Submitter struct {
	provider chain.Provider
	keys     kms.KeyManagementService
	factors  GasFactors
	unit     string
	maxTries int
	log      *logrus.Entry
}

func NewSubmitter(provider chain.Provider, keys kms.KeyManagementService, factors GasFactors, unit string, maxTries int, log *logrus.Entry) *Submitter {
	if maxTries < 1 {
		maxTries = 1
	}
	if unit == "" {
		unit = "ether"
	}
	return &Submitter{
		provider: provider,
		keys:     keys,
		factors:  factors,
		unit:     unit,
		maxTries: maxTries,
		log:      logger.OrDefault(log, "submitter"),
	}
}

// Submit sends trade from the algorithm's controller wallet. The nonce is the larger of the
// chain's transaction count and nonceCounter. Sends rejected for a stale nonce or an
// underpriced replacement are retried with freshly read values, up to maxTries in total.
func (s *Submitter) Submit(ctx context.Context, trade domain.Trade, algo *domain.Algorithm, nonceCounter uint64) (domain.AlgorithmTransaction, uint64, error) {
	backend, err := s.provider.Client(algo.ChainID)
	if err != nil {
		return domain.AlgorithmTransaction{}, 0, err
	}
	chainID, err := s.provider.ChainID(ctx, algo.ChainID)
	if err != nil {
		return domain.AlgorithmTransaction{}, 0, err
	}
	contract, err := s.provider.TradingContract(algo)
	if err != nil {
		return domain.AlgorithmTransaction{}, 0, err
	}
	gasFactor, err := s.factors.GasFactor(string(algo.ChainID))
	if err != nil {
		return domain.AlgorithmTransaction{}, 0, err
	}
	priceFactor, err := s.factors.GasPriceFactor(string(algo.ChainID))
	if err != nil {
		return domain.AlgorithmTransaction{}, 0, err
	}

	data, err := s.callData(trade, algo, contract)
	if err != nil {
		return domain.AlgorithmTransaction{}, 0, err
	}

	from := algo.ControllerAddress()
	log := s.log.WithFields(logrus.Fields{
		"algorithm":  trade.AlgorithmID.PublicAddress,
		"trade_type": trade.Type(),
		"symbol":     trade.LockSymbol(),
	})

	for attempt := 1; ; attempt++ {
		chainNonce, err := backend.NonceAt(ctx, from, nil)
		if err != nil {
			return domain.AlgorithmTransaction{}, 0, errors.Wrap(err, "transaction count")
		}
		nonce := chainNonce
		if nonceCounter > nonce {
			nonce = nonceCounter
		}

		estimate, err := backend.EstimateGas(ctx, ethereum.CallMsg{})
		if err != nil {
			return domain.AlgorithmTransaction{}, 0, errors.Wrap(err, "estimate gas")
		}
		price, err := backend.SuggestGasPrice(ctx)
		if err != nil {
			return domain.AlgorithmTransaction{}, 0, errors.Wrap(err, "gas price")
		}
		gas := gasFactor.Mul(decimal.NewFromInt(int64(estimate))).IntPart()
		gasPrice := priceFactor.Mul(decimal.NewFromBigInt(price, 0)).BigInt()

		tx := types.NewTransaction(nonce, contract.Address, big.NewInt(0), uint64(gas), gasPrice, data)
		signed, err := s.keys.SignTransaction(ctx, tx, from, chainID)
		if err != nil {
			return domain.AlgorithmTransaction{}, 0, err
		}

		log := log.WithFields(logrus.Fields{"nonce": nonce, "attempt": attempt, "gas": gas, "gas_price": gasPrice})
		log.Info("sending trade to blockchain")

		err = backend.SendTransaction(ctx, signed)
		if err == nil {
			hash := signed.Hash().Hex()
			log.WithField("tx_hash", hash).Info("trade on blockchain done")
			return domain.AlgorithmTransaction{
				AlgorithmID:     trade.AlgorithmID,
				TransactionHash: domain.TransactionHash{Value: hash},
			}, nonce, nil
		}
		if attempt >= s.maxTries || !IsRetryable(err) {
			return domain.AlgorithmTransaction{}, 0, errors.Wrap(err, "send transaction")
		}
		metrics.SubmissionRetries.Add(1)
		log.WithError(err).Warn("retrying trade submission")
	}
}

// callData packs buy or sell. Contracts from 2.0 on take the token symbol as a third argument.
func (s *Submitter) callData(trade domain.Trade, algo *domain.Algorithm, contract *chain.Contract) ([]byte, error) {
	amount, err := domain.ToWeiUnit(trade.RelativeAmount, s.unit)
	if err != nil {
		return nil, err
	}
	args := []interface{}{amount, trade.Slippage.RawAmount()}
	if algo.ContractVersion.SupportsSymbol() {
		args = append(args, trade.Symbol)
	}

	method := "sell"
	if trade.Type() == domain.TradeBuy {
		method = "buy"
	}
	return contract.Pack(method, args...)
}
