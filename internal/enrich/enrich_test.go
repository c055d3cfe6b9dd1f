package enrich

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
)

// fakeCaller answers eth_call by method selector.
type fakeCaller struct {
	abi     abi.ABI
	returns map[string]any
	fails   map[string]error
	calls   []string
	blocks  []*big.Int
}

func newFakeCaller(t *testing.T) *fakeCaller {
	t.Helper()

	parsed, err := abi.JSON(strings.NewReader(poolReaderABI))
	require.NoError(t, err)

	return &fakeCaller{
		abi:     parsed,
		returns: make(map[string]any),
		fails:   make(map[string]error),
	}
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}

	f.calls = append(f.calls, method.Name)
	f.blocks = append(f.blocks, blockNumber)

	if err, ok := f.fails[method.Name]; ok {
		return nil, err
	}

	ret, ok := f.returns[method.Name]
	if !ok {
		return nil, errors.New("unexpected call: " + method.Name)
	}

	return method.Outputs.Pack(ret)
}

func poolAddr() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func TestReader_PoolConfig(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns["getPrincipalTokenAddress"] = common.HexToAddress("0x01")
	caller.returns["getCollateralTokenAddress"] = common.HexToAddress("0x02")
	caller.returns["poolSharesToken"] = common.HexToAddress("0x03")
	caller.returns["TELLER_V2"] = common.HexToAddress("0x04")
	caller.returns["SMART_COMMITMENT_FORWARDER"] = common.HexToAddress("0x05")

	r := NewReader(caller, logger.NewNopLogger())

	cfg, err := r.PoolConfig(context.Background(), poolAddr(), 77)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0x01"), cfg.PrincipalToken)
	assert.Equal(t, common.HexToAddress("0x02"), cfg.CollateralToken)
	assert.Equal(t, common.HexToAddress("0x03"), cfg.SharesToken)
	assert.Equal(t, common.HexToAddress("0x04"), cfg.TellerV2)
	assert.Equal(t, common.HexToAddress("0x05"), cfg.SmartCommitmentForwarder)
}

func TestReader_PoolConfig_PartialFailure(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns["getPrincipalTokenAddress"] = common.HexToAddress("0x01")
	caller.fails["getCollateralTokenAddress"] = errors.New("execution reverted")

	r := NewReader(caller, logger.NewNopLogger())

	_, err := r.PoolConfig(context.Background(), poolAddr(), 77)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getCollateralTokenAddress")
}

func TestReader_MinInterestRate(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns["getMinInterestRate"] = big.NewInt(525)

	r := NewReader(caller, logger.NewNopLogger())

	rate, err := r.MinInterestRate(context.Background(), poolAddr(), 77)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(525), rate)
}

func TestReader_MinInterestRate_Failure(t *testing.T) {
	caller := newFakeCaller(t)
	caller.fails["getMinInterestRate"] = errors.New("execution reverted")

	r := NewReader(caller, logger.NewNopLogger())

	_, err := r.MinInterestRate(context.Background(), poolAddr(), 77)
	require.Error(t, err)
}

func TestReader_LiquidationTokenDifference(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns["tokenDifferenceFromLiquidations"] = big.NewInt(-1500)

	r := NewReader(caller, logger.NewNopLogger())

	diff := r.LiquidationTokenDifference(context.Background(), poolAddr(), 77)
	assert.Equal(t, big.NewInt(-1500), diff)
}

func TestReader_CallsPinnedToBlock(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns["getMinInterestRate"] = big.NewInt(525)
	caller.returns["tokenDifferenceFromLiquidations"] = big.NewInt(-1500)

	r := NewReader(caller, logger.NewNopLogger())

	_, err := r.MinInterestRate(context.Background(), poolAddr(), 1234)
	require.NoError(t, err)
	r.LiquidationTokenDifference(context.Background(), poolAddr(), 1234)

	require.Len(t, caller.blocks, 2)
	for _, blk := range caller.blocks {
		require.NotNil(t, blk, "call must not default to the chain head")
		assert.Equal(t, uint64(1234), blk.Uint64())
	}
}

func TestReader_LiquidationTokenDifference_DefaultsToZero(t *testing.T) {
	caller := newFakeCaller(t)
	caller.fails["tokenDifferenceFromLiquidations"] = errors.New("execution reverted")

	r := NewReader(caller, logger.NewNopLogger())

	diff := r.LiquidationTokenDifference(context.Background(), poolAddr(), 77)
	assert.Equal(t, big.NewInt(0).String(), diff.String())
}
