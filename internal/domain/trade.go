package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolV1 is the lock symbol of single-token trades.
const SymbolV1 = "DEFAULT"

var ErrInvalidTrade = errors.New("invalid trade")

// chainPrecision is the number of decimals of on-chain fixed point values.
const chainPrecision = 18

var chainOffset = decimal.New(1, chainPrecision)

// TradeKind discriminates the trade variants.
type TradeKind int

const (
	KindBuyV1 TradeKind = iota + 1
	KindSellV1
	KindBuyV2
	KindSellV2
)

func (k TradeKind) String() string {
	switch k {
	case KindBuyV1:
		return "buy_v1"
	case KindSellV1:
		return "sell_v1"
	case KindBuyV2:
		return "buy_v2"
	case KindSellV2:
		return "sell_v2"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TradeType is the direction of a trade.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// ParseTradeType accepts BUY/SELL in either case.
func ParseTradeType(s string) (TradeType, error) {
	switch TradeType(strings.ToUpper(strings.TrimSpace(s))) {
	case TradeBuy:
		return TradeBuy, nil
	case TradeSell:
		return TradeSell, nil
	default:
		return "", fmt.Errorf("%w: trade_type %q", ErrInvalidTrade, s)
	}
}

// Slippage is the accepted fractional price deviation.
type Slippage struct {
	Amount decimal.Decimal `json:"amount"`
}

// RawAmount is the slippage as the contract expects it: 10^18 - 10^18*amount.
func (s Slippage) RawAmount() *big.Int {
	return chainOffset.Sub(chainOffset.Mul(s.Amount)).RoundBank(0).BigInt()
}

// ToWei scales a fractional amount to 18 decimals, truncating the remainder.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(chainPrecision).Truncate(0).BigInt()
}

var unitDecimals = map[string]int32{
	"wei":    0,
	"kwei":   3,
	"mwei":   6,
	"gwei":   9,
	"szabo":  12,
	"finney": 15,
	"ether":  18,
}

// ToWeiUnit converts amount expressed in the named denomination to wei.
func ToWeiUnit(amount decimal.Decimal, unit string) (*big.Int, error) {
	exp, ok := unitDecimals[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return nil, fmt.Errorf("unknown unit %q", unit)
	}
	return amount.Shift(exp).Truncate(0).BigInt(), nil
}

// Trade is a requested buy or sell. Symbol is only meaningful for the V2 kinds.
type Trade struct {
	Kind           TradeKind       `json:"kind"`
	AlgorithmID    AlgorithmID     `json:"algorithm_id"`
	Slippage       Slippage        `json:"slippage"`
	RelativeAmount decimal.Decimal `json:"relative_amount"`
	Symbol         string          `json:"symbol,omitempty"`
}

func NewBuyTrade(id AlgorithmID, slippage, relative decimal.Decimal) Trade {
	return Trade{Kind: KindBuyV1, AlgorithmID: id, Slippage: Slippage{Amount: slippage}, RelativeAmount: relative}
}

func NewSellTrade(id AlgorithmID, slippage, relative decimal.Decimal) Trade {
	return Trade{Kind: KindSellV1, AlgorithmID: id, Slippage: Slippage{Amount: slippage}, RelativeAmount: relative}
}

func NewBuyTradeV2(id AlgorithmID, slippage, relative decimal.Decimal, symbol string) Trade {
	return Trade{Kind: KindBuyV2, AlgorithmID: id, Slippage: Slippage{Amount: slippage}, RelativeAmount: relative, Symbol: symbol}
}

func NewSellTradeV2(id AlgorithmID, slippage, relative decimal.Decimal, symbol string) Trade {
	return Trade{Kind: KindSellV2, AlgorithmID: id, Slippage: Slippage{Amount: slippage}, RelativeAmount: relative, Symbol: symbol}
}

// LockSymbol is the symbol the trade locks on.
func (t Trade) LockSymbol() string {
	switch t.Kind {
	case KindBuyV1, KindSellV1:
		return SymbolV1
	case KindBuyV2, KindSellV2:
		return t.Symbol
	default:
		panic(fmt.Sprintf("domain: unhandled trade kind %s", t.Kind))
	}
}

func (t Trade) Type() TradeType {
	switch t.Kind {
	case KindBuyV1, KindBuyV2:
		return TradeBuy
	case KindSellV1, KindSellV2:
		return TradeSell
	default:
		panic(fmt.Sprintf("domain: unhandled trade kind %s", t.Kind))
	}
}

// IsMultiToken reports whether the trade names its own symbol.
func (t Trade) IsMultiToken() bool {
	return t.Kind == KindBuyV2 || t.Kind == KindSellV2
}

// TransactionSymbol is the symbol stored on the trading transaction, nil for V1 trades.
func (t Trade) TransactionSymbol() *string {
	if !t.IsMultiToken() {
		return nil
	}
	s := t.Symbol
	return &s
}

func (t Trade) Validate() error {
	switch t.Kind {
	case KindBuyV1, KindSellV1:
	case KindBuyV2, KindSellV2:
		if strings.TrimSpace(t.Symbol) == "" {
			return fmt.Errorf("%w: symbol is required", ErrInvalidTrade)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidTrade, int(t.Kind))
	}
	if t.AlgorithmID.PublicAddress == "" {
		return fmt.Errorf("%w: algorithm id is required", ErrInvalidTrade)
	}
	if !inUnitRange(t.Slippage.Amount) {
		return fmt.Errorf("%w: slippage %s outside [0,1]", ErrInvalidTrade, t.Slippage.Amount)
	}
	if !inUnitRange(t.RelativeAmount) {
		return fmt.Errorf("%w: relative amount %s outside [0,1]", ErrInvalidTrade, t.RelativeAmount)
	}
	return nil
}

func inUnitRange(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
