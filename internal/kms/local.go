package kms

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/kvstore"
	"github.com/betbot/tradecore/pkg/logger"
)

const (
	MnemonicKey  = "kms/mnemonic"
	keyPrefix    = "kms/keys/"
	nextIndexKey = "kms/next-index"

	// BasePath is the BIP-44 Ethereum path; keys are derived at BasePath/<index>.
	BasePath = "m/44'/60'/0'/0"
)

type keyRecord struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
	Path    string `json:"path"`
}

// LocalKeyManagementService derives controller keys from one HD wallet whose mnemonic is kept
// in an (optionally encrypted) badger store. Only key metadata is stored; private keys are
// derived when signing.
type LocalKeyManagementService struct {
	store  *kvstore.Store
	wallet *hdwallet.Wallet
	stage  string
	log    *logrus.Entry

	mu        sync.Mutex
	byAddress map[common.Address]string
}

var _ KeyManagementService = (*LocalKeyManagementService)(nil)

// NewLocal opens the key service. The mnemonic stored in the store wins; when none is stored,
// mnemonic is persisted. Aliases are namespaced by stage.
func NewLocal(store *kvstore.Store, mnemonic, stage string, log *logrus.Entry) (*LocalKeyManagementService, error) {
	stored, ok, err := store.GetString(MnemonicKey)
	if err != nil {
		return nil, errors.Wrap(err, "read mnemonic")
	}
	switch {
	case ok:
		mnemonic = stored
	case strings.TrimSpace(mnemonic) == "":
		return nil, errors.New("no mnemonic stored and none configured (run keygen)")
	default:
		if err := StoreMnemonic(store, mnemonic, false); err != nil {
			return nil, err
		}
	}

	w, err := hdwallet.NewFromMnemonic(strings.TrimSpace(mnemonic))
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	return &LocalKeyManagementService{
		store:     store,
		wallet:    w,
		stage:     stage,
		log:       logger.OrDefault(log, "kms"),
		byAddress: make(map[common.Address]string),
	}, nil
}

// StoreMnemonic validates and writes the wallet mnemonic. It refuses to replace an existing
// one unless force is set.
func StoreMnemonic(store *kvstore.Store, mnemonic string, force bool) error {
	mnemonic = strings.TrimSpace(mnemonic)
	if _, err := hdwallet.NewFromMnemonic(mnemonic); err != nil {
		return errors.Wrap(err, "invalid mnemonic")
	}
	if force {
		return store.SetString(MnemonicKey, mnemonic)
	}
	ok, err := store.SetNX(MnemonicKey, []byte(mnemonic), 0)
	if err != nil {
		return errors.Wrap(err, "store mnemonic")
	}
	if !ok {
		return errors.New("a mnemonic is already stored")
	}
	return nil
}

func (s *LocalKeyManagementService) aliasPrefix() string {
	return keyPrefix + s.stage + "-"
}

func (s *LocalKeyManagementService) CreateNewKey(ctx context.Context) (domain.KeyID, error) {
	alias := s.stage + "-" + uuid.NewString()
	external := uuid.NewString()

	var rec keyRecord
	err := s.store.Update(func(tx *kvstore.Txn) error {
		var index uint32
		raw, ok, err := tx.Get(nextIndexKey)
		if err != nil {
			return err
		}
		if ok {
			n, err := strconv.ParseUint(string(raw), 10, 32)
			if err != nil {
				return errors.Wrapf(err, "corrupt key index %q", raw)
			}
			index = uint32(n)
		}

		rec, err = s.derive(index)
		if err != nil {
			return err
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Set(keyPrefix+alias, body, 0); err != nil {
			return err
		}
		return tx.Set(nextIndexKey, []byte(strconv.FormatUint(uint64(index+1), 10)), 0)
	})
	if err != nil {
		return domain.KeyID{}, errors.Wrap(err, "create key")
	}

	s.mu.Lock()
	s.byAddress[common.HexToAddress(rec.Address)] = alias
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"alias": alias, "address": rec.Address, "path": rec.Path}).Info("created controller key")
	return domain.KeyID{External: external, Internal: alias, Address: rec.Address}, nil
}

func (s *LocalKeyManagementService) derive(index uint32) (keyRecord, error) {
	path := fmt.Sprintf("%s/%d", BasePath, index)
	parsed, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return keyRecord{}, errors.Wrapf(err, "derivation path %s", path)
	}
	acct, err := s.wallet.Derive(parsed, false)
	if err != nil {
		return keyRecord{}, errors.Wrapf(err, "derive %s", path)
	}
	return keyRecord{Address: acct.Address.Hex(), Index: index, Path: path}, nil
}

func (s *LocalKeyManagementService) record(alias string) (keyRecord, error) {
	raw, ok, err := s.store.Get(keyPrefix + alias)
	if err != nil {
		return keyRecord{}, errors.Wrapf(err, "read key %s", alias)
	}
	if !ok {
		return keyRecord{}, errors.Wrapf(ErrUnknownKey, "alias %s", alias)
	}
	var rec keyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return keyRecord{}, errors.Wrapf(err, "decode key %s", alias)
	}
	return rec, nil
}

func (s *LocalKeyManagementService) ListKeyAliases(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(s.aliasPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list keys")
	}
	aliases := make([]string, 0, len(keys))
	for _, k := range keys {
		aliases = append(aliases, strings.TrimPrefix(k, keyPrefix))
	}
	sort.Strings(aliases)
	return aliases, nil
}

func (s *LocalKeyManagementService) AddressToKeyAlias(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errors.Wrapf(ErrUnknownKey, "invalid address %q", address)
	}
	addr := common.HexToAddress(address)

	s.mu.Lock()
	alias, ok := s.byAddress[addr]
	s.mu.Unlock()
	if ok {
		return alias, nil
	}

	pairs, err := s.AllKeyedAddresses(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.byAddress[common.HexToAddress(p.ControllerWalletAddress)] = p.KeyAlias
	}
	if alias, ok := s.byAddress[addr]; ok {
		return alias, nil
	}
	return "", errors.Wrapf(ErrUnknownKey, "no key for %s", addr.Hex())
}

func (s *LocalKeyManagementService) KeyAliasToKeyInfo(ctx context.Context, alias string) (KeyInfo, error) {
	rec, err := s.record(alias)
	if err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{Alias: alias, Address: rec.Address, DerivationPath: rec.Path}, nil
}

func (s *LocalKeyManagementService) AllKeyedAddresses(ctx context.Context) ([]domain.AddressKeyPair, error) {
	aliases, err := s.ListKeyAliases(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make([]domain.AddressKeyPair, 0, len(aliases))
	for _, alias := range aliases {
		rec, err := s.record(alias)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.AddressKeyPair{ControllerWalletAddress: rec.Address, KeyAlias: alias})
	}
	return pairs, nil
}

func (s *LocalKeyManagementService) SignTransaction(ctx context.Context, tx *types.Transaction, address common.Address, chainID *big.Int) (*types.Transaction, error) {
	alias, err := s.AddressToKeyAlias(ctx, address.Hex())
	if err != nil {
		return nil, err
	}
	key, err := s.privateKey(alias)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		s.log.WithError(err).WithField("address", address.Hex()).Error("failed signing transaction")
		return nil, errors.Wrap(err, "sign transaction")
	}
	return signed, nil
}

func (s *LocalKeyManagementService) privateKey(alias string) (*ecdsa.PrivateKey, error) {
	rec, err := s.record(alias)
	if err != nil {
		return nil, err
	}
	path, err := hdwallet.ParseDerivationPath(rec.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "derivation path of %s", alias)
	}
	acct, err := s.wallet.Derive(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "derive %s", alias)
	}
	if acct.Address != common.HexToAddress(rec.Address) {
		return nil, errors.Errorf("key %s derives %s, recorded %s", alias, acct.Address.Hex(), rec.Address)
	}
	key, err := s.wallet.PrivateKey(acct)
	if err != nil {
		return nil, errors.Wrapf(err, "private key of %s", alias)
	}
	return key, nil
}
