package aggregates

// store key kinds, the first segment of every composite key
const (
	KindPoolMetric           = "group_pool_metric"
	KindUserMetric           = "group_user_metric"
	KindBidOrigin            = "bid_originated_from_pool"
	KindCollateralWithdrawn  = "collateral_amount_withdrawn"
	KindPoolCollateralTotals = "total_collateral_amount_withdrawn"
)

// pool and user metric names, the last segment of metric keys
const (
	MetricPrincipalCommitted = "total_principal_tokens_committed"
	MetricPrincipalBorrowed  = "total_principal_tokens_borrowed"
	MetricPrincipalWithdrawn = "total_principal_tokens_withdrawn"
	MetricPrincipalRepaid    = "total_principal_tokens_repaid"
	MetricInterestCollected  = "total_interest_collected"
	MetricCollateralEscrowed = "total_collateral_tokens_escrowed"
	MetricInteractionCount   = "interaction_count"
)

// PoolMetricNames lists every pool metric, in the order rows present them.
var PoolMetricNames = []string{
	MetricPrincipalCommitted,
	MetricPrincipalBorrowed,
	MetricPrincipalWithdrawn,
	MetricPrincipalRepaid,
	MetricInterestCollected,
	MetricCollateralEscrowed,
}

// UserMetricNames lists every user metric column projected into rows.
// The interaction count is used for row-creation gating, not as a column.
var UserMetricNames = []string{
	MetricPrincipalCommitted,
	MetricPrincipalBorrowed,
	MetricPrincipalWithdrawn,
	MetricPrincipalRepaid,
	MetricInterestCollected,
	MetricCollateralEscrowed,
}

// global keys tracking chain position
const (
	GlobalLatestBlockNumber = "latest_block_number"
	GlobalLatestBlockTime   = "latest_block_time"
)
