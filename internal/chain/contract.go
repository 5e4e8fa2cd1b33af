package chain

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/tradecore/internal/domain"
)

//go:embed abi/*.json
var bundledABIs embed.FS

// Contract is a deployed contract bound to the backend of its chain.
type Contract struct {
	Address common.Address
	ABI     abi.ABI
	backend Backend
}

func NewContract(address common.Address, parsed abi.ABI, backend Backend) *Contract {
	return &Contract{Address: address, ABI: parsed, backend: backend}
}

// Pack encodes a call to method.
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	return data, nil
}

// Call runs a read-only method against the latest block and returns its decoded outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	to := c.Address
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	return values, nil
}

// CallBool runs a read-only method that returns a single bool.
func (c *Contract) CallBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, errors.Errorf("%s returned %d values, want 1", method, len(values))
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, errors.Errorf("%s returned %T, want bool", method, values[0])
	}
	return ok, nil
}

// ABISource resolves contract ABIs, from artifact files when configured and from the
// bundled copies otherwise.
type ABISource struct {
	// ArtifactsDir holds <version>/<ContractName>.json artifacts.
	ArtifactsDir string
	// ToolsPath is the artifact of the tools contract.
	ToolsPath string
}

// TradingABI returns the ABI of the trading contract of the given version.
func (s ABISource) TradingABI(v domain.ContractVersion) (abi.ABI, error) {
	if s.ArtifactsDir != "" {
		return loadArtifact(filepath.Join(s.ArtifactsDir, string(v), v.ContractName()+".json"))
	}
	name := "abi/trading_v1.json"
	if v.SupportsSymbol() {
		name = "abi/trading_v2.json"
	}
	return loadBundled(name)
}

// ToolsABI returns the ABI of the feasibility-check contract.
func (s ABISource) ToolsABI() (abi.ABI, error) {
	if s.ToolsPath != "" {
		return loadArtifact(s.ToolsPath)
	}
	return loadBundled("abi/tools.json")
}

func loadBundled(name string) (abi.ABI, error) {
	raw, err := bundledABIs.ReadFile(name)
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "read bundled abi %s", name)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "parse bundled abi %s", name)
	}
	return parsed, nil
}

// loadArtifact reads a compiler artifact and parses its "abi" member.
func loadArtifact(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "read artifact %s", path)
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return abi.ABI{}, errors.Wrapf(err, "decode artifact %s", path)
	}
	if len(artifact.ABI) == 0 {
		return abi.ABI{}, errors.Errorf("artifact %s has no abi", path)
	}
	parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "parse artifact %s", path)
	}
	return parsed, nil
}
