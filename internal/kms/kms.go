// Package kms signs trade transactions with the controller wallet keys and manages those keys.
package kms

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/betbot/tradecore/internal/domain"
)

var ErrUnknownKey = errors.New("unknown key")

// KeyInfo describes a managed key.
type KeyInfo struct {
	Alias          string `json:"alias"`
	Address        string `json:"address"`
	DerivationPath string `json:"derivation_path"`
}

// KeyManagementService owns the controller wallet keys. Private keys never leave it.
type KeyManagementService interface {
	// SignTransaction signs tx with the key of address using an EIP-155 signer for chainID.
	SignTransaction(ctx context.Context, tx *types.Transaction, address common.Address, chainID *big.Int) (*types.Transaction, error)
	ListKeyAliases(ctx context.Context) ([]string, error)
	CreateNewKey(ctx context.Context) (domain.KeyID, error)
	// AddressToKeyAlias returns ErrUnknownKey when no key controls address.
	AddressToKeyAlias(ctx context.Context, address string) (string, error)
	KeyAliasToKeyInfo(ctx context.Context, alias string) (KeyInfo, error)
	AllKeyedAddresses(ctx context.Context) ([]domain.AddressKeyPair, error)
}
