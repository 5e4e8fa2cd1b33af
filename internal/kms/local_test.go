package kms

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradecore/pkg/kvstore"
)

const testMnemonic = "tag volcano eight thank tide danger coast health above argue embrace heavy"

func openStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(kvstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newService(t *testing.T) *LocalKeyManagementService {
	t.Helper()
	s, err := NewLocal(openStore(t), testMnemonic, "test", nil)
	require.NoError(t, err)
	return s
}

func TestNewLocal_RequiresMnemonic(t *testing.T) {
	_, err := NewLocal(openStore(t), "", "test", nil)
	assert.Error(t, err)

	_, err = NewLocal(openStore(t), "not a mnemonic", "test", nil)
	assert.Error(t, err)
}

func TestNewLocal_StoredMnemonicWins(t *testing.T) {
	store := openStore(t)
	require.NoError(t, StoreMnemonic(store, testMnemonic, false))
	assert.Error(t, StoreMnemonic(store, testMnemonic, false))

	s, err := NewLocal(store, "", "test", nil)
	require.NoError(t, err)
	id, err := s.CreateNewKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xC49926C4124cEe1cbA0Ea94Ea31a6c12318df947", id.Address)
}

func TestCreateNewKey_DerivesSequentially(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	first, err := s.CreateNewKey(ctx)
	require.NoError(t, err)
	second, err := s.CreateNewKey(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.Address, second.Address)
	assert.NotEqual(t, first.Internal, first.External)
	assert.Contains(t, first.Internal, "test-")

	info, err := s.KeyAliasToKeyInfo(ctx, second.Internal)
	require.NoError(t, err)
	assert.Equal(t, second.Address, info.Address)
	assert.Equal(t, BasePath+"/1", info.DerivationPath)

	aliases, err := s.ListKeyAliases(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.Internal, second.Internal}, aliases)

	pairs, err := s.AllKeyedAddresses(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
}

func TestAddressToKeyAlias(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	id, err := s.CreateNewKey(ctx)
	require.NoError(t, err)

	alias, err := s.AddressToKeyAlias(ctx, id.Address)
	require.NoError(t, err)
	assert.Equal(t, id.Internal, alias)

	_, err = s.AddressToKeyAlias(ctx, "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = s.KeyAliasToKeyInfo(ctx, "test-missing")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestAddressToKeyAlias_FromStore(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	s1, err := NewLocal(store, testMnemonic, "test", nil)
	require.NoError(t, err)
	id, err := s1.CreateNewKey(ctx)
	require.NoError(t, err)

	// A second instance over the same store resolves keys it did not create.
	s2, err := NewLocal(store, "", "test", nil)
	require.NoError(t, err)
	alias, err := s2.AddressToKeyAlias(ctx, id.Address)
	require.NoError(t, err)
	assert.Equal(t, id.Internal, alias)

	// Other stages do not see the key.
	other, err := NewLocal(store, "", "prod", nil)
	require.NoError(t, err)
	aliases, err := other.ListKeyAliases(ctx)
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

func TestSignTransaction_RecoversSender(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	id, err := s.CreateNewKey(ctx)
	require.NoError(t, err)

	chainID := big.NewInt(56)
	tx := types.NewTransaction(3, common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), big.NewInt(0), 100000, big.NewInt(5e9), []byte{0x01})
	signed, err := s.SignTransaction(ctx, tx, common.HexToAddress(id.Address), chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.NewEIP155Signer(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(id.Address), sender)
	assert.Equal(t, uint64(3), signed.Nonce())

	_, err = s.SignTransaction(ctx, tx, common.HexToAddress("0x0000000000000000000000000000000000000001"), chainID)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestSignTransaction_AcceptedBySimulatedChain(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	id, err := s.CreateNewKey(ctx)
	require.NoError(t, err)
	from := common.HexToAddress(id.Address)

	funds := new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether))
	sim := simulated.NewBackend(types.GenesisAlloc{from: {Balance: funds}})
	t.Cleanup(func() { _ = sim.Close() })
	client := sim.Client()

	chainID, err := client.ChainID(ctx)
	require.NoError(t, err)
	price, err := client.SuggestGasPrice(ctx)
	require.NoError(t, err)

	tx := types.NewTransaction(0, common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), big.NewInt(1), 21000, price, nil)
	signed, err := s.SignTransaction(ctx, tx, from, chainID)
	require.NoError(t, err)
	require.NoError(t, client.SendTransaction(ctx, signed))
	sim.Commit()

	receipt, err := client.TransactionReceipt(ctx, signed.Hash())
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}
