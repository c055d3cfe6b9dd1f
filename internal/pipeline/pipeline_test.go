package pipeline

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teller-protocol/teller-protocol-v2/internal/aggregates"
	"github.com/teller-protocol/teller-protocol-v2/internal/enrich"
	"github.com/teller-protocol/teller-protocol-v2/internal/events"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/internal/projector"
	"github.com/teller-protocol/teller-protocol-v2/internal/registry"
	"github.com/teller-protocol/teller-protocol-v2/pkg/chain"
	"github.com/teller-protocol/teller-protocol-v2/pkg/store"
)

var (
	factoryAddr = ethcommon.HexToAddress("0xFac0000000000000000000000000000000000001")
	managerAddr = ethcommon.HexToAddress("0xc011000000000000000000000000000000000002")
	poolAddr    = ethcommon.HexToAddress("0xAAaa000000000000000000000000000000000003")
	lenderAddr  = ethcommon.HexToAddress("0xbBbB000000000000000000000000000000000004")
)

type fakeConfigSource struct {
	fail bool
}

func (f *fakeConfigSource) PoolConfig(_ context.Context, _ ethcommon.Address, _ uint64) (*enrich.PoolConfig, error) {
	if f.fail {
		return nil, errors.New("rpc unavailable")
	}
	return &enrich.PoolConfig{}, nil
}

type fakeReader struct{}

func (f *fakeReader) MinInterestRate(_ context.Context, _ ethcommon.Address, _ uint64) (*big.Int, error) {
	return big.NewInt(100), nil
}

func (f *fakeReader) LiquidationTokenDifference(_ context.Context, _ ethcommon.Address, _ uint64) *big.Int {
	return new(big.Int)
}

func newTestProcessor(t *testing.T) (*Processor, *aggregates.Stores) {
	t.Helper()

	log := logger.NewNopLogger()
	stores := aggregates.NewStores()
	engine, err := store.NewEngine(stores.All()...)
	require.NoError(t, err)

	reg := registry.New(stores.Registered, log)
	extractor := events.NewExtractor(log, factoryAddr, managerAddr, reg, &fakeConfigSource{})
	applier := aggregates.NewApplier(stores, log)
	proj := projector.New(stores, &fakeReader{}, log)

	return NewProcessor(log, extractor, applier, proj, engine), stores
}

func deployLog(index uint) types.Log {
	return types.Log{
		Address: factoryAddr,
		Topics: []ethcommon.Hash{
			events.FactoryABI().Events["DeployedLenderGroupContract"].ID,
			ethcommon.BytesToHash(ethcommon.LeftPadBytes(poolAddr.Bytes(), 32)),
		},
		BlockNumber: 100,
		TxHash:      ethcommon.Hash{0x01},
		Index:       index,
	}
}

func principalLog(t *testing.T, amount int64, index uint) types.Log {
	t.Helper()

	ev := events.PoolABI().Events["LenderAddedPrincipal"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(amount), big.NewInt(amount), lenderAddr)
	require.NoError(t, err)

	return types.Log{
		Address: poolAddr,
		Topics: []ethcommon.Hash{
			ev.ID,
			ethcommon.BytesToHash(ethcommon.LeftPadBytes(lenderAddr.Bytes(), 32)),
		},
		Data:        data,
		BlockNumber: 100,
		TxHash:      ethcommon.Hash{0x02},
		Index:       index,
	}
}

func TestProcessor_DeployAndCommitInOneBlock(t *testing.T) {
	p, stores := newTestProcessor(t)

	blk := &chain.Block{
		Number: 100,
		Time:   1700000000,
		Logs:   []types.Log{deployLog(0), principalLog(t, 500, 1)},
	}

	tables, err := p.ProcessBlock(context.Background(), blk)
	require.NoError(t, err)
	require.NotNil(t, tables)

	// the pool deployed in this block already aggregates its own events
	pool := "0xaaaa000000000000000000000000000000000003"
	committed := stores.PoolMetrics.GetOrZero(
		aggregates.PoolMetricKey(pool, aggregates.MetricPrincipalCommitted))
	assert.Equal(t, int64(500), committed.Int64())

	assert.Greater(t, tables.Len(), 0)

	p.Commit()
	assert.Empty(t, stores.PoolMetrics.BlockDeltas())
}

func TestProcessor_ExtractionFailureDiscardsBlock(t *testing.T) {
	p, stores := newTestProcessor(t)

	bad := principalLog(t, 500, 1)
	bad.Data = bad.Data[:8] // truncate

	blk := &chain.Block{
		Number: 100,
		Time:   1700000000,
		Logs:   []types.Log{deployLog(0), bad},
	}

	_, err := p.ProcessBlock(context.Background(), blk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 100")

	// nothing leaks out of the failed block, not even the registration
	assert.Empty(t, stores.PoolMetrics.BlockDeltas())
	assert.False(t, stores.Registered.Has(
		store.Key("lender_group_registered", "0xaaaa000000000000000000000000000000000003")))
}

func TestProcessor_UnknownSelectorHash(t *testing.T) {
	p, _ := newTestProcessor(t)

	unknown := types.Log{
		Address:     factoryAddr,
		Topics:      []ethcommon.Hash{crypto.Keccak256Hash([]byte("Unrelated()"))},
		BlockNumber: 100,
		TxHash:      ethcommon.Hash{0x03},
	}

	tables, err := p.ProcessBlock(context.Background(), &chain.Block{
		Number: 100,
		Time:   1700000000,
		Logs:   []types.Log{unknown},
	})
	require.NoError(t, err)
	assert.Zero(t, tables.Len())
}
