package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

// AlgorithmStore implements repository.AlgorithmRepository.
type AlgorithmStore struct {
	pool *Pool
}

var _ repository.AlgorithmRepository = (*AlgorithmStore)(nil)

func NewAlgorithmStore(pool *Pool) *AlgorithmStore {
	return &AlgorithmStore{pool: pool}
}

const algorithmColumns = `
	trading_contract_address, controller_wallet_address, trading_contract_version, chain_id,
	disabled, hashed_password, created_at, updated_at
`

func (s *AlgorithmStore) GetAlgorithm(ctx context.Context, address string) (*domain.Algorithm, error) {
	addr, err := domain.ChecksumAddress(address)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+algorithmColumns+` FROM algorithms WHERE trading_contract_address = $1`, addr)
	a, err := scanAlgorithm(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get algorithm %s: %w", addr, err)
	}
	return a, nil
}

func (s *AlgorithmStore) UpsertAlgorithm(ctx context.Context, a domain.Algorithm) error {
	if err := a.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO algorithms (` + algorithmColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (trading_contract_address) DO UPDATE SET
			controller_wallet_address = EXCLUDED.controller_wallet_address,
			trading_contract_version = EXCLUDED.trading_contract_version,
			chain_id = EXCLUDED.chain_id,
			disabled = EXCLUDED.disabled,
			hashed_password = EXCLUDED.hashed_password,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		a.TradingContractAddress, a.ControllerWalletAddress, string(a.ContractVersion), string(a.ChainID),
		a.Disabled, a.HashedPassword, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert algorithm %s: %w", a.TradingContractAddress, err)
	}
	return nil
}

func (s *AlgorithmStore) ListAlgorithms(ctx context.Context) ([]domain.Algorithm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+algorithmColumns+` FROM algorithms ORDER BY trading_contract_address`)
	if err != nil {
		return nil, fmt.Errorf("list algorithms: %w", err)
	}
	defer rows.Close()

	out := []domain.Algorithm{}
	for rows.Next() {
		a, err := scanAlgorithm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *AlgorithmStore) IsHealthy(ctx context.Context) bool {
	return s.pool.healthy(ctx)
}

func scanAlgorithm(row pgx.Row) (*domain.Algorithm, error) {
	var (
		a              domain.Algorithm
		version, chain string
	)
	if err := row.Scan(&a.TradingContractAddress, &a.ControllerWalletAddress, &version, &chain,
		&a.Disabled, &a.HashedPassword, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ContractVersion = domain.ContractVersion(version)
	a.ChainID = domain.ChainID(chain)
	return &a, nil
}
