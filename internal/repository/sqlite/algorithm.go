package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/repository"
)

type AlgorithmRepository struct {
	d *DB
}

var _ repository.AlgorithmRepository = (*AlgorithmRepository)(nil)

func NewAlgorithmRepository(d *DB) *AlgorithmRepository {
	return &AlgorithmRepository{d: d}
}

const algoColumns = `trading_contract_address,controller_wallet_address,trading_contract_version,chain_id,disabled,hashed_password,created_at,updated_at`

func (r *AlgorithmRepository) GetAlgorithm(ctx context.Context, address string) (*domain.Algorithm, error) {
	addr, err := domain.ChecksumAddress(address)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	row := r.d.db.QueryRowContext(ctx, `SELECT `+algoColumns+` FROM algorithms WHERE trading_contract_address=?`, addr)
	a, err := scanAlgorithm(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get algorithm %s: %w", addr, err)
	}
	return a, nil
}

func (r *AlgorithmRepository) UpsertAlgorithm(ctx context.Context, a domain.Algorithm) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := r.d.db.ExecContext(ctx, `
INSERT INTO algorithms (`+algoColumns+`)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(trading_contract_address) DO UPDATE SET
  controller_wallet_address=excluded.controller_wallet_address,
  trading_contract_version=excluded.trading_contract_version,
  chain_id=excluded.chain_id,
  disabled=excluded.disabled,
  hashed_password=excluded.hashed_password,
  updated_at=excluded.updated_at
`, a.TradingContractAddress, a.ControllerWalletAddress, string(a.ContractVersion), string(a.ChainID),
		a.Disabled, a.HashedPassword, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert algorithm %s: %w", a.TradingContractAddress, err)
	}
	return nil
}

func (r *AlgorithmRepository) ListAlgorithms(ctx context.Context) ([]domain.Algorithm, error) {
	rows, err := r.d.db.QueryContext(ctx, `SELECT `+algoColumns+` FROM algorithms ORDER BY trading_contract_address`)
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

func (r *AlgorithmRepository) IsHealthy(ctx context.Context) bool {
	return r.d.ping(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlgorithm(s scanner) (*domain.Algorithm, error) {
	var (
		a                domain.Algorithm
		version, chain   string
		created, updated string
	)
	if err := s.Scan(&a.TradingContractAddress, &a.ControllerWalletAddress, &version, &chain,
		&a.Disabled, &a.HashedPassword, &created, &updated); err != nil {
		return nil, err
	}
	a.ContractVersion = domain.ContractVersion(version)
	a.ChainID = domain.ChainID(chain)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}
