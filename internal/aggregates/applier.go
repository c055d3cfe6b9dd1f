package aggregates

import (
	"math/big"

	"github.com/teller-protocol/teller-protocol-v2/internal/common"
	"github.com/teller-protocol/teller-protocol-v2/internal/events"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/pkg/store"
)

// Applier folds a block's decoded events into the aggregate stores. Events
// are applied kind by kind; within a kind, log order is preserved. The
// final store values do not depend on ordering across kinds because every
// metric is additive and the last-write stores are written at most once
// per block per key.
type Applier struct {
	stores *Stores
	log    *logger.Logger
}

// NewApplier creates an applier over the shared store set.
func NewApplier(stores *Stores, log *logger.Logger) *Applier {
	return &Applier{stores: stores, log: log}
}

// Apply folds the block's events into the stores. It never fails; decoding
// already validated every field.
func (a *Applier) Apply(blockNumber, blockTime uint64, ev *events.BlockEvents) {
	for i := range ev.PoolsInitialized {
		a.applyPoolInitialized(&ev.PoolsInitialized[i])
	}
	for i := range ev.PrincipalAdded {
		a.applyPrincipalAdded(&ev.PrincipalAdded[i])
	}
	for i := range ev.FundsAccepted {
		a.applyFundsAccepted(&ev.FundsAccepted[i])
	}
	for i := range ev.EarningsWithdrawn {
		a.applyEarningsWithdrawn(&ev.EarningsWithdrawn[i])
	}
	for i := range ev.LoansRepaid {
		a.applyLoanRepaid(&ev.LoansRepaid[i])
	}
	for i := range ev.LoansLiquidated {
		a.applyLoanLiquidated(&ev.LoansLiquidated[i])
	}
	for i := range ev.CollateralWithdrawn {
		a.applyCollateralWithdrawn(&ev.CollateralWithdrawn[i])
	}

	if !ev.IsEmpty() {
		a.stores.Globals.Set(GlobalLatestBlockNumber, new(big.Int).SetUint64(blockNumber))
		a.stores.Globals.Set(GlobalLatestBlockTime, new(big.Int).SetUint64(blockTime))
	}
}

// applyPoolInitialized materializes every pool metric at zero so the pool
// row projects a complete set of totals from its first block.
func (a *Applier) applyPoolInitialized(ev *events.PoolInitialized) {
	pool := common.AddressKey(ev.Raw.Address)
	for _, metric := range PoolMetricNames {
		a.stores.PoolMetrics.Add(PoolMetricKey(pool, metric), big.NewInt(0))
	}

	a.log.Debugw("pool metrics initialized", "pool", pool)
}

func (a *Applier) applyPrincipalAdded(ev *events.LenderAddedPrincipal) {
	pool := common.AddressKey(ev.Raw.Address)
	lender := common.AddressKey(ev.Lender)

	a.stores.PoolMetrics.Add(PoolMetricKey(pool, MetricPrincipalCommitted), ev.Amount)

	a.stores.UserMetrics.Add(UserMetricKey(pool, lender, MetricInteractionCount), big.NewInt(1))
	a.stores.UserMetrics.Add(UserMetricKey(pool, lender, MetricPrincipalCommitted), ev.Amount)
}

func (a *Applier) applyFundsAccepted(ev *events.BorrowerAcceptedFunds) {
	pool := common.AddressKey(ev.Raw.Address)
	borrower := common.AddressKey(ev.Borrower)

	a.stores.PoolMetrics.Add(PoolMetricKey(pool, MetricPrincipalBorrowed), ev.PrincipalAmount)
	a.stores.PoolMetrics.Add(PoolMetricKey(pool, MetricCollateralEscrowed), ev.CollateralAmount)

	a.stores.UserMetrics.Add(UserMetricKey(pool, borrower, MetricInteractionCount), big.NewInt(1))
	a.stores.UserMetrics.Add(UserMetricKey(pool, borrower, MetricPrincipalBorrowed), ev.PrincipalAmount)
	a.stores.UserMetrics.Add(UserMetricKey(pool, borrower, MetricCollateralEscrowed), ev.CollateralAmount)

	// remember which pool originated the bid so later collateral
	// withdrawals can be attributed
	a.stores.BidPools.Set(BidOriginKey(ev.BidId.String()), pool)
}

func (a *Applier) applyEarningsWithdrawn(ev *events.EarningsWithdrawn) {
	pool := common.AddressKey(ev.Raw.Address)
	lender := common.AddressKey(ev.Lender)

	a.stores.PoolMetrics.Add(PoolMetricKey(pool, MetricPrincipalWithdrawn), ev.PrincipalTokensWithdrawn)

	a.stores.UserMetrics.Add(UserMetricKey(pool, lender, MetricInteractionCount), big.NewInt(1))
	a.stores.UserMetrics.Add(UserMetricKey(pool, lender, MetricPrincipalWithdrawn), ev.PrincipalTokensWithdrawn)
}

func (a *Applier) applyLoanRepaid(ev *events.LoanRepaid) {
	pool := common.AddressKey(ev.Raw.Address)
	repayer := common.AddressKey(ev.Repayer)

	a.stores.PoolMetrics.Add(PoolMetricKey(pool, MetricPrincipalRepaid), ev.PrincipalAmount)
	a.stores.PoolMetrics.Add(PoolMetricKey(pool, MetricInterestCollected), ev.InterestAmount)

	a.stores.UserMetrics.Add(UserMetricKey(pool, repayer, MetricInteractionCount), big.NewInt(1))
	a.stores.UserMetrics.Add(UserMetricKey(pool, repayer, MetricPrincipalRepaid), ev.PrincipalAmount)
	a.stores.UserMetrics.Add(UserMetricKey(pool, repayer, MetricInterestCollected), ev.InterestAmount)
}

// applyLoanLiquidated treats the liquidation payment as a repayment of the
// pool's principal. Liquidators are not tracked as pool users.
func (a *Applier) applyLoanLiquidated(ev *events.DefaultedLoanLiquidated) {
	pool := common.AddressKey(ev.Raw.Address)

	a.stores.PoolMetrics.Add(PoolMetricKey(pool, MetricPrincipalRepaid), ev.AmountDue)
}

func (a *Applier) applyCollateralWithdrawn(ev *events.CollateralWithdrawn) {
	token := common.AddressKey(ev.CollateralAddress)

	a.stores.Collateral.Add(CollateralKey(ev.BidId.String(), token), ev.Amount)
}

// ReconcileCollateral attributes the block's per-bid collateral withdrawal
// deltas to the originating pools. Withdrawals for bids without a recorded
// origin belong to markets outside the tracked pools and are skipped.
// It must run after Apply so same-block bid origins are visible.
func (a *Applier) ReconcileCollateral() {
	for _, d := range a.stores.Collateral.BlockDeltas() {
		bidID := store.Segment(d.Key, 1)

		pool, ok := a.stores.BidPools.Get(BidOriginKey(bidID))
		if !ok {
			a.log.Debugw("collateral withdrawal for untracked bid", "bidId", bidID)
			continue
		}

		diff := new(big.Int).Sub(d.New, d.Old)
		a.stores.PoolCollateral.Add(PoolCollateralKey(pool), diff)
	}
}
