// Package projector turns a block's decoded events and aggregate deltas
// into row operations. Event rows are immutable and verbatim, aggregate
// rows are created once and updated column by column from deltas, and
// snapshot rows freeze the running pool totals per block, day and week.
package projector

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/teller-protocol/teller-protocol-v2/internal/aggregates"
	"github.com/teller-protocol/teller-protocol-v2/internal/common"
	"github.com/teller-protocol/teller-protocol-v2/internal/events"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/pkg/changeset"
	"github.com/teller-protocol/teller-protocol-v2/pkg/store"
)

// entity kinds of the emitted rows
const (
	KindDeployedPool         = "deployed_lender_group_contract"
	KindPoolInitialized      = "group_pool_initialized"
	KindLenderAddedPrincipal = "group_lender_added_principal"
	KindBorrowerAccepted     = "group_borrower_accepted_funds"
	KindEarningsWithdrawn    = "group_earnings_withdrawn"
	KindLoanRepaid           = "group_loan_repaid"
	KindLoanLiquidated       = "group_defaulted_loan_liquidated"
	KindInitialized          = "group_initialized"
	KindPaused               = "group_paused"
	KindUnpaused             = "group_unpaused"
	KindOwnershipTransferred = "group_ownership_transferred"
	KindCollateralWithdrawn  = "collateral_withdrawn"

	KindPoolMetric         = "group_pool_metric"
	KindUserMetric         = "group_user_metric"
	KindPoolBid            = "group_pool_bid"
	KindPoolSnapshot       = "group_pool_metric_data_point"
	KindPoolSnapshotDaily  = "group_pool_metric_data_point_daily"
	KindPoolSnapshotWeekly = "group_pool_metric_data_point_weekly"
)

// snapshot bucket widths in seconds
const (
	secondsPerDay  = 86400
	secondsPerWeek = 604800
)

// PoolReader is the enrichment surface the projector needs per touched
// pool. Reads are pinned to the processed block so replay is deterministic.
// A min rate read failure skips that column only.
type PoolReader interface {
	MinInterestRate(ctx context.Context, pool ethcommon.Address, blockNumber uint64) (*big.Int, error)
	LiquidationTokenDifference(ctx context.Context, pool ethcommon.Address, blockNumber uint64) *big.Int
}

// Projector builds the block's change-set.
type Projector struct {
	stores *aggregates.Stores
	reader PoolReader
	log    *logger.Logger
}

// New creates a projector over the shared store set.
func New(stores *aggregates.Stores, reader PoolReader, log *logger.Logger) *Projector {
	return &Projector{stores: stores, reader: reader, log: log}
}

// Project emits the row operations for one processed block. It must run
// after the applier so the block's deltas and snapshots are in place.
// Events project before deltas so creates precede their column updates.
func (p *Projector) Project(ctx context.Context, blockNumber, blockTime uint64, ev *events.BlockEvents) *changeset.Tables {
	tables := changeset.NewTables()

	p.projectEvents(tables, blockTime, ev)
	p.projectPoolCreates(tables, ev)

	touched := make(map[string]struct{})
	p.projectPoolDeltas(tables, touched)
	p.projectUserDeltas(tables)
	p.projectCollateralDeltas(tables, touched)

	p.projectTouchedPools(ctx, tables, blockNumber, blockTime, touched)

	return tables
}

// eventRow stages an immutable event row keyed {txHash}-{logIndex} with
// the columns every event row carries.
func (p *Projector) eventRow(tables *changeset.Tables, kind string, raw *types.Log, blockTime uint64) *changeset.Row {
	key := fmt.Sprintf("%s-%d", raw.TxHash.Hex(), raw.Index)

	return tables.Create(kind, key).
		Set("transaction_hash", changeset.Bytes(raw.TxHash.Bytes())).
		Set("log_index", changeset.Uint64(uint64(raw.Index))).
		Set("block_number", changeset.Uint64(raw.BlockNumber)).
		Set("timestamp", changeset.Uint64(blockTime))
}

func (p *Projector) projectEvents(tables *changeset.Tables, blockTime uint64, ev *events.BlockEvents) {
	for i := range ev.Deployed {
		e := &ev.Deployed[i]
		p.eventRow(tables, KindDeployedPool, &e.Raw, blockTime).
			Set("group_contract", changeset.String(common.AddressKey(e.GroupContract)))
	}

	for i := range ev.PoolsInitialized {
		e := &ev.PoolsInitialized[i]
		row := p.eventRow(tables, KindPoolInitialized, &e.Raw, blockTime).
			Set("principal_token_address", changeset.String(common.AddressKey(e.PrincipalTokenAddress))).
			Set("collateral_token_address", changeset.String(common.AddressKey(e.CollateralTokenAddress))).
			Set("market_id", changeset.BigInt(e.MarketId)).
			Set("max_loan_duration", changeset.Uint64(uint64(e.MaxLoanDuration))).
			Set("interest_rate_lower_bound", changeset.Uint64(uint64(e.InterestRateLowerBound))).
			Set("interest_rate_upper_bound", changeset.Uint64(uint64(e.InterestRateUpperBound))).
			Set("liquidity_threshold_percent", changeset.Uint64(uint64(e.LiquidityThresholdPercent))).
			Set("collateral_ratio", changeset.Uint64(uint64(e.LoanToValuePercent))).
			Set("pool_shares_token", changeset.String(common.AddressKey(e.PoolSharesToken)))
		if e.Config != nil {
			row.Set("teller_v2_address", changeset.String(common.AddressKey(e.Config.TellerV2))).
				Set("smart_commitment_forwarder_address", changeset.String(common.AddressKey(e.Config.SmartCommitmentForwarder)))
		}
	}

	for i := range ev.PrincipalAdded {
		e := &ev.PrincipalAdded[i]
		p.eventRow(tables, KindLenderAddedPrincipal, &e.Raw, blockTime).
			Set("lender", changeset.String(common.AddressKey(e.Lender))).
			Set("amount", changeset.BigInt(e.Amount)).
			Set("shares_amount", changeset.BigInt(e.SharesAmount)).
			Set("shares_recipient", changeset.String(common.AddressKey(e.SharesRecipient)))
	}

	for i := range ev.FundsAccepted {
		e := &ev.FundsAccepted[i]
		p.eventRow(tables, KindBorrowerAccepted, &e.Raw, blockTime).
			Set("borrower", changeset.String(common.AddressKey(e.Borrower))).
			Set("bid_id", changeset.BigInt(e.BidId)).
			Set("principal_amount", changeset.BigInt(e.PrincipalAmount)).
			Set("collateral_amount", changeset.BigInt(e.CollateralAmount)).
			Set("loan_duration", changeset.Uint64(uint64(e.LoanDuration))).
			Set("interest_rate", changeset.Uint64(uint64(e.InterestRate)))

		// the bid linkage row, keyed by the pool so the latest accepted
		// bid of the pool wins
		pool := common.AddressKey(e.Raw.Address)
		tables.Create(KindPoolBid, pool).
			Set("group_pool_address", changeset.String(pool)).
			Set("bid_id", changeset.BigInt(e.BidId)).
			Set("borrower", changeset.String(common.AddressKey(e.Borrower))).
			Set("principal_amount", changeset.BigInt(e.PrincipalAmount)).
			Set("collateral_amount", changeset.BigInt(e.CollateralAmount))
	}

	for i := range ev.EarningsWithdrawn {
		e := &ev.EarningsWithdrawn[i]
		p.eventRow(tables, KindEarningsWithdrawn, &e.Raw, blockTime).
			Set("lender", changeset.String(common.AddressKey(e.Lender))).
			Set("amount_pool_shares_tokens", changeset.BigInt(e.AmountPoolSharesTokens)).
			Set("principal_tokens_withdrawn", changeset.BigInt(e.PrincipalTokensWithdrawn)).
			Set("recipient", changeset.String(common.AddressKey(e.Recipient)))
	}

	for i := range ev.LoansRepaid {
		e := &ev.LoansRepaid[i]
		p.eventRow(tables, KindLoanRepaid, &e.Raw, blockTime).
			Set("bid_id", changeset.BigInt(e.BidId)).
			Set("repayer", changeset.String(common.AddressKey(e.Repayer))).
			Set("principal_amount", changeset.BigInt(e.PrincipalAmount)).
			Set("interest_amount", changeset.BigInt(e.InterestAmount)).
			Set("total_principal_repaid", changeset.BigInt(e.TotalPrincipalRepaid)).
			Set("total_interest_collected", changeset.BigInt(e.TotalInterestCollected))
	}

	for i := range ev.LoansLiquidated {
		e := &ev.LoansLiquidated[i]
		p.eventRow(tables, KindLoanLiquidated, &e.Raw, blockTime).
			Set("bid_id", changeset.BigInt(e.BidId)).
			Set("liquidator", changeset.String(common.AddressKey(e.Liquidator))).
			Set("amount_due", changeset.BigInt(e.AmountDue)).
			Set("token_amount_difference", changeset.BigInt(e.TokenAmountDifference))
	}

	for i := range ev.Initialized {
		e := &ev.Initialized[i]
		p.eventRow(tables, KindInitialized, &e.Raw, blockTime).
			Set("version", changeset.Uint64(uint64(e.Version)))
	}

	for i := range ev.Paused {
		e := &ev.Paused[i]
		p.eventRow(tables, KindPaused, &e.Raw, blockTime).
			Set("account", changeset.String(common.AddressKey(e.Account)))
	}

	for i := range ev.Unpaused {
		e := &ev.Unpaused[i]
		p.eventRow(tables, KindUnpaused, &e.Raw, blockTime).
			Set("account", changeset.String(common.AddressKey(e.Account)))
	}

	for i := range ev.OwnershipTransferred {
		e := &ev.OwnershipTransferred[i]
		p.eventRow(tables, KindOwnershipTransferred, &e.Raw, blockTime).
			Set("previous_owner", changeset.String(common.AddressKey(e.PreviousOwner))).
			Set("new_owner", changeset.String(common.AddressKey(e.NewOwner)))
	}

	for i := range ev.CollateralWithdrawn {
		e := &ev.CollateralWithdrawn[i]
		p.eventRow(tables, KindCollateralWithdrawn, &e.Raw, blockTime).
			Set("bid_id", changeset.BigInt(e.BidId)).
			Set("collateral_type", changeset.Uint64(uint64(e.CollateralType))).
			Set("collateral_address", changeset.String(common.AddressKey(e.CollateralAddress))).
			Set("amount", changeset.BigInt(e.Amount)).
			Set("token_id", changeset.BigInt(e.TokenId)).
			Set("recipient", changeset.String(common.AddressKey(e.Recipient)))
	}
}

// projectPoolCreates creates the mutable pool aggregate row with its full
// identity and zeroed totals the block the pool initializes.
func (p *Projector) projectPoolCreates(tables *changeset.Tables, ev *events.BlockEvents) {
	for i := range ev.PoolsInitialized {
		e := &ev.PoolsInitialized[i]
		pool := common.AddressKey(e.Raw.Address)

		row := tables.Create(KindPoolMetric, pool).
			Set("group_pool_address", changeset.String(pool)).
			Set("principal_token_address", changeset.String(common.AddressKey(e.PrincipalTokenAddress))).
			Set("collateral_token_address", changeset.String(common.AddressKey(e.CollateralTokenAddress))).
			Set("market_id", changeset.BigInt(e.MarketId)).
			Set("max_loan_duration", changeset.Uint64(uint64(e.MaxLoanDuration))).
			Set("interest_rate_lower_bound", changeset.Uint64(uint64(e.InterestRateLowerBound))).
			Set("interest_rate_upper_bound", changeset.Uint64(uint64(e.InterestRateUpperBound))).
			Set("liquidity_threshold_percent", changeset.Uint64(uint64(e.LiquidityThresholdPercent))).
			Set("collateral_ratio", changeset.Uint64(uint64(e.LoanToValuePercent))).
			Set("pool_shares_token", changeset.String(common.AddressKey(e.PoolSharesToken))).
			Set("token_difference_from_liquidations", changeset.BigInt(nil)).
			Set("total_collateral_withdrawn", changeset.BigInt(nil))

		if e.Config != nil {
			row.Set("teller_v2_address", changeset.String(common.AddressKey(e.Config.TellerV2))).
				Set("smart_commitment_forwarder_address", changeset.String(common.AddressKey(e.Config.SmartCommitmentForwarder)))
		}

		for _, metric := range aggregates.PoolMetricNames {
			row.Set(metric, changeset.BigInt(nil))
		}
	}
}

// projectPoolDeltas dispatches each pool metric delta to exactly one
// column of exactly one pool row. Metric names outside the known set are
// skipped so a wider key vocabulary never breaks projection.
func (p *Projector) projectPoolDeltas(tables *changeset.Tables, touched map[string]struct{}) {
	for _, d := range p.stores.PoolMetrics.BlockDeltas() {
		pool := store.Segment(d.Key, 1)
		metric := store.Segment(d.Key, 2)

		if !knownPoolMetric(metric) {
			p.log.Debugw("skipping unknown pool metric", "metric", metric, "key", d.Key)
			continue
		}

		tables.Update(KindPoolMetric, pool).Set(metric, changeset.BigInt(d.New))
		touched[pool] = struct{}{}
	}
}

// projectUserDeltas creates a user row on first interaction and updates
// metric columns from the remaining user deltas. A user row exists iff the
// user interacted with the pool at least once.
func (p *Projector) projectUserDeltas(tables *changeset.Tables) {
	for _, d := range p.stores.UserMetrics.BlockDeltas() {
		pool := store.Segment(d.Key, 1)
		user := store.Segment(d.Key, 2)
		metric := store.Segment(d.Key, 3)
		rowKey := pool + "_" + user

		if metric == aggregates.MetricInteractionCount {
			if d.New.Cmp(big.NewInt(1)) == 0 {
				row := tables.Create(KindUserMetric, rowKey).
					Set("group_pool_address", changeset.String(pool)).
					Set("user_address", changeset.String(user))
				for _, m := range aggregates.UserMetricNames {
					row.Set(m, changeset.BigInt(nil))
				}
			}
			continue
		}

		if !knownUserMetric(metric) {
			p.log.Debugw("skipping unknown user metric", "metric", metric, "key", d.Key)
			continue
		}

		tables.Update(KindUserMetric, rowKey).Set(metric, changeset.BigInt(d.New))
	}
}

// projectCollateralDeltas folds the per-pool withdrawal totals into the
// pool rows.
func (p *Projector) projectCollateralDeltas(tables *changeset.Tables, touched map[string]struct{}) {
	for _, d := range p.stores.PoolCollateral.BlockDeltas() {
		pool := store.Segment(d.Key, 1)

		tables.Update(KindPoolMetric, pool).Set("total_collateral_withdrawn", changeset.BigInt(d.New))
		touched[pool] = struct{}{}
	}
}

// projectTouchedPools performs the per-pool enrichment reads and freezes
// the running totals into the block, daily and weekly snapshot rows. Pools
// are visited in sorted order so output is deterministic.
func (p *Projector) projectTouchedPools(ctx context.Context, tables *changeset.Tables, blockNumber, blockTime uint64, touched map[string]struct{}) {
	pools := make([]string, 0, len(touched))
	for pool := range touched {
		pools = append(pools, pool)
	}
	sort.Strings(pools)

	for _, pool := range pools {
		addr := ethcommon.HexToAddress(pool)

		rate, err := p.reader.MinInterestRate(ctx, addr, blockNumber)
		if err != nil {
			p.log.Warnw("failed to read min interest rate, skipping column", "pool", pool, "err", err)
		} else {
			tables.Update(KindPoolMetric, pool).Set("current_min_interest_rate", changeset.BigInt(rate))
		}

		diff := p.reader.LiquidationTokenDifference(ctx, addr, blockNumber)
		tables.Update(KindPoolMetric, pool).Set("token_difference_from_liquidations", changeset.BigInt(diff))

		p.snapshotPool(tables, pool, blockNumber, blockTime, diff)
	}
}

// snapshotPool emits the three snapshot rows for a touched pool, reading
// the post-block totals from the store snapshots.
func (p *Projector) snapshotPool(tables *changeset.Tables, pool string, blockNumber, blockTime uint64, liquidationDiff *big.Int) {
	keys := []struct {
		kind string
		key  string
	}{
		{KindPoolSnapshot, fmt.Sprintf("%s_%d", pool, blockNumber)},
		{KindPoolSnapshotDaily, fmt.Sprintf("%s_%d", pool, blockTime/secondsPerDay)},
		{KindPoolSnapshotWeekly, fmt.Sprintf("%s_%d", pool, blockTime/secondsPerWeek)},
	}

	for _, snap := range keys {
		row := tables.Create(snap.kind, snap.key).
			Set("group_pool_address", changeset.String(pool)).
			Set("block_number", changeset.Uint64(blockNumber)).
			Set("timestamp", changeset.Uint64(blockTime))

		for _, metric := range aggregates.PoolMetricNames {
			row.Set(metric, changeset.BigInt(p.stores.PoolMetrics.GetOrZero(aggregates.PoolMetricKey(pool, metric))))
		}

		row.Set("total_collateral_withdrawn",
			changeset.BigInt(p.stores.PoolCollateral.GetOrZero(aggregates.PoolCollateralKey(pool)))).
			Set("token_difference_from_liquidations", changeset.BigInt(liquidationDiff))
	}
}

func knownPoolMetric(name string) bool {
	for _, m := range aggregates.PoolMetricNames {
		if m == name {
			return true
		}
	}
	return false
}

func knownUserMetric(name string) bool {
	for _, m := range aggregates.UserMetricNames {
		if m == name {
			return true
		}
	}
	return false
}
