package aggregates

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teller-protocol/teller-protocol-v2/internal/events"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
)

var (
	poolAddr     = ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	lenderAddr   = ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")
	borrowerAddr = ethcommon.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenAddr    = ethcommon.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newTestApplier() (*Applier, *Stores) {
	stores := NewStores()
	return NewApplier(stores, logger.NewNopLogger()), stores
}

func poolLog() types.Log {
	return types.Log{Address: poolAddr}
}

func TestApplier_PoolInitializedBaselines(t *testing.T) {
	applier, stores := newTestApplier()

	applier.Apply(100, 1700000000, &events.BlockEvents{
		PoolsInitialized: []events.PoolInitialized{{Raw: poolLog()}},
	})

	pool := "0x1111111111111111111111111111111111111111"
	for _, metric := range PoolMetricNames {
		v, ok := stores.PoolMetrics.Get(PoolMetricKey(pool, metric))
		require.True(t, ok, "metric %s not materialized", metric)
		assert.Zero(t, v.Sign())
	}

	// zero adds still produce deltas so the projector sees the new pool
	assert.Len(t, stores.PoolMetrics.BlockDeltas(), len(PoolMetricNames))
}

func TestApplier_LenderAddedPrincipal(t *testing.T) {
	applier, stores := newTestApplier()

	applier.Apply(100, 1700000000, &events.BlockEvents{
		PrincipalAdded: []events.LenderAddedPrincipal{
			{Lender: lenderAddr, Amount: big.NewInt(500), Raw: poolLog()},
			{Lender: lenderAddr, Amount: big.NewInt(250), Raw: poolLog()},
		},
	})

	pool := "0x1111111111111111111111111111111111111111"
	lender := "0x2222222222222222222222222222222222222222"

	assert.Equal(t, int64(750), stores.PoolMetrics.GetOrZero(PoolMetricKey(pool, MetricPrincipalCommitted)).Int64())
	assert.Equal(t, int64(750), stores.UserMetrics.GetOrZero(UserMetricKey(pool, lender, MetricPrincipalCommitted)).Int64())
	assert.Equal(t, int64(2), stores.UserMetrics.GetOrZero(UserMetricKey(pool, lender, MetricInteractionCount)).Int64())
}

func TestApplier_LoanLifecycle(t *testing.T) {
	applier, stores := newTestApplier()

	applier.Apply(100, 1700000000, &events.BlockEvents{
		FundsAccepted: []events.BorrowerAcceptedFunds{{
			Borrower:         borrowerAddr,
			BidId:            big.NewInt(7),
			PrincipalAmount:  big.NewInt(1000),
			CollateralAmount: big.NewInt(2000),
			Raw:              poolLog(),
		}},
		LoansRepaid: []events.LoanRepaid{{
			BidId:           big.NewInt(7),
			Repayer:         borrowerAddr,
			PrincipalAmount: big.NewInt(400),
			InterestAmount:  big.NewInt(40),
			Raw:             poolLog(),
		}},
		LoansLiquidated: []events.DefaultedLoanLiquidated{{
			BidId:     big.NewInt(7),
			AmountDue: big.NewInt(600),
			Raw:       poolLog(),
		}},
	})

	pool := "0x1111111111111111111111111111111111111111"
	borrower := "0x3333333333333333333333333333333333333333"

	assert.Equal(t, int64(1000), stores.PoolMetrics.GetOrZero(PoolMetricKey(pool, MetricPrincipalBorrowed)).Int64())
	assert.Equal(t, int64(2000), stores.PoolMetrics.GetOrZero(PoolMetricKey(pool, MetricCollateralEscrowed)).Int64())
	// repaid covers both the repayment and the liquidation payout
	assert.Equal(t, int64(1000), stores.PoolMetrics.GetOrZero(PoolMetricKey(pool, MetricPrincipalRepaid)).Int64())
	assert.Equal(t, int64(40), stores.PoolMetrics.GetOrZero(PoolMetricKey(pool, MetricInterestCollected)).Int64())

	assert.Equal(t, int64(2), stores.UserMetrics.GetOrZero(UserMetricKey(pool, borrower, MetricInteractionCount)).Int64())
	assert.Equal(t, int64(400), stores.UserMetrics.GetOrZero(UserMetricKey(pool, borrower, MetricPrincipalRepaid)).Int64())

	origin, ok := stores.BidPools.Get(BidOriginKey("7"))
	require.True(t, ok)
	assert.Equal(t, pool, origin)
}

func TestApplier_EarningsWithdrawn(t *testing.T) {
	applier, stores := newTestApplier()

	applier.Apply(100, 1700000000, &events.BlockEvents{
		EarningsWithdrawn: []events.EarningsWithdrawn{{
			Lender:                   lenderAddr,
			AmountPoolSharesTokens:   big.NewInt(90),
			PrincipalTokensWithdrawn: big.NewInt(100),
			Raw:                      poolLog(),
		}},
	})

	pool := "0x1111111111111111111111111111111111111111"
	lender := "0x2222222222222222222222222222222222222222"

	assert.Equal(t, int64(100), stores.PoolMetrics.GetOrZero(PoolMetricKey(pool, MetricPrincipalWithdrawn)).Int64())
	assert.Equal(t, int64(100), stores.UserMetrics.GetOrZero(UserMetricKey(pool, lender, MetricPrincipalWithdrawn)).Int64())
	assert.Equal(t, int64(1), stores.UserMetrics.GetOrZero(UserMetricKey(pool, lender, MetricInteractionCount)).Int64())
}

func TestApplier_ReconcileCollateral(t *testing.T) {
	applier, stores := newTestApplier()

	// bid 7 originates from the pool in the same block its collateral
	// starts moving; bid 99 has no recorded origin
	applier.Apply(100, 1700000000, &events.BlockEvents{
		FundsAccepted: []events.BorrowerAcceptedFunds{{
			Borrower:         borrowerAddr,
			BidId:            big.NewInt(7),
			PrincipalAmount:  big.NewInt(1000),
			CollateralAmount: big.NewInt(2000),
			Raw:              poolLog(),
		}},
		CollateralWithdrawn: []events.CollateralWithdrawn{
			{BidId: big.NewInt(7), CollateralAddress: tokenAddr, Amount: big.NewInt(300)},
			{BidId: big.NewInt(7), CollateralAddress: tokenAddr, Amount: big.NewInt(200)},
			{BidId: big.NewInt(99), CollateralAddress: tokenAddr, Amount: big.NewInt(50)},
		},
	})
	applier.ReconcileCollateral()

	pool := "0x1111111111111111111111111111111111111111"
	token := "0x4444444444444444444444444444444444444444"

	assert.Equal(t, int64(500), stores.Collateral.GetOrZero(CollateralKey("7", token)).Int64())
	assert.Equal(t, int64(500), stores.PoolCollateral.GetOrZero(PoolCollateralKey(pool)).Int64())

	// the untracked bid keeps its withdrawal but contributes to no pool
	assert.Equal(t, int64(50), stores.Collateral.GetOrZero(CollateralKey("99", token)).Int64())
	assert.Len(t, stores.PoolCollateral.BlockDeltas(), 2)
}

func TestApplier_Globals(t *testing.T) {
	applier, stores := newTestApplier()

	applier.Apply(100, 1700000000, &events.BlockEvents{})
	_, ok := stores.Globals.Get(GlobalLatestBlockNumber)
	assert.False(t, ok, "empty block must not advance globals")

	applier.Apply(101, 1700000012, &events.BlockEvents{
		PrincipalAdded: []events.LenderAddedPrincipal{
			{Lender: lenderAddr, Amount: big.NewInt(1), Raw: poolLog()},
		},
	})

	num, ok := stores.Globals.Get(GlobalLatestBlockNumber)
	require.True(t, ok)
	assert.Equal(t, int64(101), num.Int64())

	ts, ok := stores.Globals.Get(GlobalLatestBlockTime)
	require.True(t, ok)
	assert.Equal(t, int64(1700000012), ts.Int64())
}
