// Package system implements the operator actions: algorithm registration, transaction
// listing, controller wallet management and lock maintenance.
package system

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/kms"
	"github.com/betbot/tradecore/internal/repository"
	"github.com/betbot/tradecore/pkg/logger"
)

const (
	StatusOK     = "OK"
	StatusFailed = "FAILED"

	// MaxWalletBatch bounds a single wallet creation request.
	MaxWalletBatch = 100
)

var ErrInvalidRequest = errors.New("invalid request")

// StatusResponse answers register and disable.
type StatusResponse struct {
	Status string `json:"status"`
}

type RegisterRequest struct {
	TradingContractAddress  string `json:"trading_contract_address"`
	ControllerWalletAddress string `json:"controller_wallet_address"`
	TradingContractVersion  string `json:"trading_contract_version"`
	ChainID                 string `json:"chain_id"`
	Disabled                bool   `json:"disabled"`
	UnhashedPassword        string `json:"unhashed_password"`
}

type CreateWalletsRequest struct {
	Count int `json:"count"`
}

// Service runs operator actions against the stores and the key management service.
type Service struct {
	algorithms   repository.AlgorithmRepository
	transactions repository.TransactionRepository
	locks        repository.LockRepository
	keys         kms.KeyManagementService
	cost         int
	now          func() time.Time
	log          *logrus.Entry
}

func NewService(
	algorithms repository.AlgorithmRepository,
	transactions repository.TransactionRepository,
	locks repository.LockRepository,
	keys kms.KeyManagementService,
	log *logrus.Entry,
) *Service {
	return &Service{
		algorithms:   algorithms,
		transactions: transactions,
		locks:        locks,
		keys:         keys,
		now:          time.Now,
		log:          logger.OrDefault(log, "system"),
	}
}

// Register upserts the algorithm. Malformed requests are errors; a store failure answers FAILED.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (StatusResponse, error) {
	version, err := domain.ParseContractVersion(req.TradingContractVersion)
	if err != nil {
		return StatusResponse{}, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	chain, err := domain.ParseChainID(req.ChainID)
	if err != nil {
		return StatusResponse{}, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	if req.UnhashedPassword == "" {
		return StatusResponse{}, errors.Wrap(ErrInvalidRequest, "unhashed_password is required")
	}
	hashed, err := HashPassword(req.UnhashedPassword, s.cost)
	if err != nil {
		return StatusResponse{}, err
	}

	now := s.now().UTC()
	algo := domain.Algorithm{
		TradingContractAddress:  req.TradingContractAddress,
		ControllerWalletAddress: req.ControllerWalletAddress,
		ContractVersion:         version,
		ChainID:                 chain,
		Disabled:                req.Disabled,
		HashedPassword:          hashed,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := algo.Validate(); err != nil {
		return StatusResponse{}, errors.Wrap(ErrInvalidRequest, err.Error())
	}

	log := s.log.WithFields(logrus.Fields{"algorithm": algo.TradingContractAddress, "disabled": algo.Disabled})
	if err := s.algorithms.UpsertAlgorithm(ctx, algo); err != nil {
		log.WithError(err).Error("failed to register algorithm")
		return StatusResponse{Status: StatusFailed}, nil
	}
	log.Info("registered algorithm")
	return StatusResponse{Status: StatusOK}, nil
}

// Disable marks the algorithm disabled. Unknown algorithms answer FAILED.
func (s *Service) Disable(ctx context.Context, address string) StatusResponse {
	log := s.log.WithField("algorithm", address)
	algo, err := s.algorithms.GetAlgorithm(ctx, address)
	if err != nil {
		log.WithError(err).Error("failed to disable algorithm")
		return StatusResponse{Status: StatusFailed}
	}
	algo.Disabled = true
	algo.UpdatedAt = s.now().UTC()
	if err := s.algorithms.UpsertAlgorithm(ctx, *algo); err != nil {
		log.WithError(err).Error("failed to disable algorithm")
		return StatusResponse{Status: StatusFailed}
	}
	log.Info("disabled algorithm")
	return StatusResponse{Status: StatusOK}
}

// Algorithm returns the registered algorithm or repository.ErrNotFound.
func (s *Service) Algorithm(ctx context.Context, address string) (*domain.Algorithm, error) {
	return s.algorithms.GetAlgorithm(ctx, address)
}

// Transactions returns one page of the algorithm's transactions, newest first.
func (s *Service) Transactions(ctx context.Context, address string, skip, limit int) (domain.TransactionPage, error) {
	id, err := domain.NewAlgorithmID(address)
	if err != nil {
		return domain.TransactionPage{}, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	if skip < 0 || limit < 1 {
		return domain.TransactionPage{}, errors.Wrapf(ErrInvalidRequest, "skip must be >= 0 and limit >= 1, got %d and %d", skip, limit)
	}
	txs, err := s.transactions.GetTransactionsPaginated(ctx, id, skip, limit)
	if err != nil {
		return domain.TransactionPage{}, err
	}
	total, err := s.transactions.GetTransactionCount(ctx, id)
	if err != nil {
		return domain.TransactionPage{}, err
	}
	return domain.NewTransactionPage(txs, skip, limit, total), nil
}

// Wallets lists every managed controller wallet with the algorithm it is paired with, if any.
func (s *Service) Wallets(ctx context.Context) (domain.AddressListResponse, error) {
	keyed, err := s.keys.AllKeyedAddresses(ctx)
	if err != nil {
		return domain.AddressListResponse{}, err
	}
	algos, err := s.algorithms.ListAlgorithms(ctx)
	if err != nil {
		return domain.AddressListResponse{}, err
	}
	byController := make(map[string]string, len(algos))
	for _, a := range algos {
		byController[a.ControllerWalletAddress] = a.TradingContractAddress
	}

	pairs := make([]domain.KeyedAddressPair, 0, len(keyed))
	for _, k := range keyed {
		pair := domain.AddressPair{ControllerWalletAddress: k.ControllerWalletAddress}
		if trading, ok := byController[k.ControllerWalletAddress]; ok {
			trading := trading
			pair.TradingContractAddress = &trading
		}
		pairs = append(pairs, domain.KeyedAddressPair{KeyAlias: k.KeyAlias, Pair: pair})
	}
	return domain.AddressListResponse{AddressPairs: pairs}, nil
}

// CreateWallets creates count new controller wallets.
func (s *Service) CreateWallets(ctx context.Context, req CreateWalletsRequest) (domain.AddressListResponse, error) {
	if req.Count < 1 || req.Count > MaxWalletBatch {
		return domain.AddressListResponse{}, errors.Wrapf(ErrInvalidRequest, "count must be within [1,%d], got %d", MaxWalletBatch, req.Count)
	}
	pairs := make([]domain.KeyedAddressPair, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		key, err := s.keys.CreateNewKey(ctx)
		if err != nil {
			return domain.AddressListResponse{}, fmt.Errorf("create key %d of %d: %w", i+1, req.Count, err)
		}
		pairs = append(pairs, domain.KeyedAddressPair{
			KeyAlias: key.Internal,
			Pair:     domain.AddressPair{ControllerWalletAddress: key.Address},
		})
	}
	s.log.WithField("count", req.Count).Info("created controller wallets")
	return domain.AddressListResponse{AddressPairs: pairs}, nil
}

// ForceUnlock drops the lock of (address, symbol) together with its recorded transaction.
func (s *Service) ForceUnlock(ctx context.Context, address, symbol string) error {
	id, err := domain.NewAlgorithmID(address)
	if err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errors.Wrap(ErrInvalidRequest, "symbol is required")
	}
	if err := s.locks.ForceUnlock(ctx, id, symbol); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"algorithm": id.PublicAddress, "symbol": symbol}).Warn("lock force-released")
	return nil
}

// Authenticate resolves an algorithm from its Basic credentials. Unknown algorithms and wrong
// passwords both yield repository.ErrNotFound.
func (s *Service) Authenticate(ctx context.Context, address, password string) (*domain.Algorithm, error) {
	algo, err := s.algorithms.GetAlgorithm(ctx, address)
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(algo.HashedPassword, password) {
		return nil, repository.ErrNotFound
	}
	return algo, nil
}
