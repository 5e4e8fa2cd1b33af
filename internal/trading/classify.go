package trading

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/tradecore/internal/domain"
)

// ErrTradeNotPossible is returned when the tools contract rejects a multi-token trade.
var ErrTradeNotPossible = errors.New("trade is not possible with the values provided")

const insufficientFundsMarker = "Not enough funds to trade"

// Node errors after which sending a fresh transaction can succeed.
var retryableMarkers = []string{
	"replacement transaction underpriced",
	"nonce too low",
}

// IsRetryable reports whether a send failure is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ClassifyFailure maps a chain-side failure to the trade response the caller sees.
func ClassifyFailure(id domain.AlgorithmID, err error) domain.TradeResponse {
	if err != nil && strings.Contains(err.Error(), insufficientFundsMarker) {
		return domain.NewInsufficientFunds(id)
	}
	return domain.NewBlockChainError(id, err)
}
