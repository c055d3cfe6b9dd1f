// Package aggregates maintains the keyed aggregate state of the lender
// group protocol. Pool and user metrics accumulate additively, bid
// origins and chain position are last-write, and every mutation within a
// block stays pending until the block commits as a whole.
package aggregates

import (
	"github.com/teller-protocol/teller-protocol-v2/pkg/store"
)

// Stores bundles every aggregate store of the pipeline. One instance is
// shared between the applier, the registry and the projector, and all
// member stores are registered with a single engine.
type Stores struct {
	// PoolMetrics holds per-pool additive totals keyed
	// group_pool_metric:{pool}:{metric}.
	PoolMetrics *store.AddStore

	// UserMetrics holds per-pool per-user additive totals keyed
	// group_user_metric:{pool}:{user}:{metric}.
	UserMetrics *store.AddStore

	// BidPools maps bid_originated_from_pool:{bidId} to the pool address
	// the bid was drawn from.
	BidPools *store.StringSetStore

	// Collateral accumulates withdrawals keyed
	// collateral_amount_withdrawn:{bidId}:{collateralToken}.
	Collateral *store.AddStore

	// PoolCollateral accumulates per-pool withdrawal totals keyed
	// total_collateral_amount_withdrawn:{pool}.
	PoolCollateral *store.AddStore

	// Globals tracks latest_block_number and latest_block_time.
	Globals *store.SetStore

	// Registered backs the pool registry, keyed
	// lender_group_registered:{pool}.
	Registered *store.SetStore
}

// NewStores creates the full store set with stable store names. The names
// double as the store_name column in the persistence table, so they must
// not change between runs.
func NewStores() *Stores {
	return &Stores{
		PoolMetrics:    store.NewAddStore("pool_metrics"),
		UserMetrics:    store.NewAddStore("user_metrics"),
		BidPools:       store.NewStringSetStore("bid_pools"),
		Collateral:     store.NewAddStore("collateral_withdrawals"),
		PoolCollateral: store.NewAddStore("pool_collateral_totals"),
		Globals:        store.NewSetStore("globals"),
		Registered:     store.NewSetStore("registered_pools"),
	}
}

// All returns every store for engine registration.
func (s *Stores) All() []store.Store {
	return []store.Store{
		s.PoolMetrics,
		s.UserMetrics,
		s.BidPools,
		s.Collateral,
		s.PoolCollateral,
		s.Globals,
		s.Registered,
	}
}

// PoolMetricKey builds the pool metric key for an already canonical pool
// address.
func PoolMetricKey(pool, metric string) string {
	return store.Key(KindPoolMetric, pool, metric)
}

// UserMetricKey builds the user metric key for canonical pool and user
// addresses.
func UserMetricKey(pool, user, metric string) string {
	return store.Key(KindUserMetric, pool, user, metric)
}

// BidOriginKey builds the bid linkage key for a decimal bid id.
func BidOriginKey(bidID string) string {
	return store.Key(KindBidOrigin, bidID)
}

// CollateralKey builds the per-bid withdrawal key.
func CollateralKey(bidID, collateralToken string) string {
	return store.Key(KindCollateralWithdrawn, bidID, collateralToken)
}

// PoolCollateralKey builds the per-pool withdrawal total key.
func PoolCollateralKey(pool string) string {
	return store.Key(KindPoolCollateralTotals, pool)
}
