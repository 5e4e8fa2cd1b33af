package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidChain   = errors.New("invalid chain id")
	ErrInvalidVersion = errors.New("invalid trading contract version")
)

// AlgorithmID identifies an algorithm by its trading contract address.
type AlgorithmID struct {
	PublicAddress string `json:"public_address"`
}

// NewAlgorithmID returns the checksummed id for address.
func NewAlgorithmID(address string) (AlgorithmID, error) {
	addr, err := ChecksumAddress(address)
	if err != nil {
		return AlgorithmID{}, err
	}
	return AlgorithmID{PublicAddress: addr}, nil
}

func (id AlgorithmID) String() string { return id.PublicAddress }

// Address returns the id as a go-ethereum address.
func (id AlgorithmID) Address() common.Address {
	return common.HexToAddress(id.PublicAddress)
}

// ChecksumAddress validates a hex address and returns its EIP-55 form.
func ChecksumAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// ChainID names a supported chain.
type ChainID string

const (
	ChainRTN ChainID = "RTN" // rinkeby test network
	ChainBSC ChainID = "BSC" // binance smart chain
)

func ParseChainID(s string) (ChainID, error) {
	switch c := ChainID(strings.ToUpper(strings.TrimSpace(s))); c {
	case ChainRTN, ChainBSC:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChain, s)
	}
}

// ContractVersion is the deployed trading contract generation.
type ContractVersion string

const (
	ContractV1_0 ContractVersion = "1.0"
	ContractV1_1 ContractVersion = "1.1"
	ContractV2_0 ContractVersion = "2.0"
)

func ParseContractVersion(s string) (ContractVersion, error) {
	switch v := ContractVersion(strings.TrimSpace(s)); v {
	case ContractV1_0, ContractV1_1, ContractV2_0:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
}

// SupportsSymbol reports whether buy/sell take a token symbol (multi-token contracts).
func (v ContractVersion) SupportsSymbol() bool {
	d, err := decimal.NewFromString(string(v))
	if err != nil {
		return false
	}
	return d.GreaterThanOrEqual(decimal.NewFromInt(2))
}

// ContractName is the artifact name of the contract for this version.
func (v ContractVersion) ContractName() string {
	if v == ContractV2_0 {
		return "MultiTokenTradingContract"
	}
	return "TradingContract"
}

// Algorithm is a registered trading bot.
type Algorithm struct {
	TradingContractAddress  string          `json:"trading_contract_address"`
	ControllerWalletAddress string          `json:"controller_wallet_address"`
	ContractVersion         ContractVersion `json:"trading_contract_version"`
	ChainID                 ChainID         `json:"chain_id"`
	Disabled                bool            `json:"disabled"`
	HashedPassword          string          `json:"-"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

func (a *Algorithm) ID() AlgorithmID {
	return AlgorithmID{PublicAddress: a.TradingContractAddress}
}

func (a *Algorithm) ControllerAddress() common.Address {
	return common.HexToAddress(a.ControllerWalletAddress)
}

// Validate normalizes both addresses and checks the enum fields.
func (a *Algorithm) Validate() error {
	trading, err := ChecksumAddress(a.TradingContractAddress)
	if err != nil {
		return fmt.Errorf("trading_contract_address: %w", err)
	}
	controller, err := ChecksumAddress(a.ControllerWalletAddress)
	if err != nil {
		return fmt.Errorf("controller_wallet_address: %w", err)
	}
	if _, err := ParseChainID(string(a.ChainID)); err != nil {
		return err
	}
	if _, err := ParseContractVersion(string(a.ContractVersion)); err != nil {
		return err
	}
	a.TradingContractAddress = trading
	a.ControllerWalletAddress = controller
	return nil
}
