package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teller-protocol/teller-protocol-v2/internal/events"
)

var (
	// Indexing metrics
	LastIndexedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lendergroups_last_indexed_block",
			Help: "The last block number successfully indexed",
		},
	)

	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lendergroups_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
	)

	BlockProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lendergroups_block_processing_duration_seconds",
			Help:    "Time taken to process one block end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lendergroups_events_decoded_total",
			Help: "Total number of protocol events decoded, by kind",
		},
		[]string{"kind"},
	)

	RowOpsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lendergroups_row_operations_total",
			Help: "Total number of row operations emitted to the sink",
		},
	)

	RegisteredPools = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lendergroups_registered_pools",
			Help: "Number of lender group pools being tracked",
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lendergroups_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lendergroups_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lendergroups_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lendergroups_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lendergroups_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastIndexedBlockSet(blockNum uint64) {
	LastIndexedBlock.Set(float64(blockNum))
}

func BlocksProcessedInc() {
	BlocksProcessed.Inc()
}

func BlockProcessingTimeLog(duration time.Duration) {
	BlockProcessingTime.Observe(duration.Seconds())
}

func RowOpsAdd(count int) {
	RowOpsEmitted.Add(float64(count))
}

func RegisteredPoolsSet(count int) {
	RegisteredPools.Set(float64(count))
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

func ErrorsInc(component string, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

// BlockEventsObserve counts the block's decoded events by kind.
func BlockEventsObserve(ev *events.BlockEvents) {
	counts := map[string]int{
		"deployed_lender_group_contract": len(ev.Deployed),
		"pool_initialized":               len(ev.PoolsInitialized),
		"lender_added_principal":         len(ev.PrincipalAdded),
		"borrower_accepted_funds":        len(ev.FundsAccepted),
		"earnings_withdrawn":             len(ev.EarningsWithdrawn),
		"loan_repaid":                    len(ev.LoansRepaid),
		"defaulted_loan_liquidated":      len(ev.LoansLiquidated),
		"initialized":                    len(ev.Initialized),
		"paused":                         len(ev.Paused),
		"unpaused":                       len(ev.Unpaused),
		"ownership_transferred":          len(ev.OwnershipTransferred),
		"collateral_withdrawn":           len(ev.CollateralWithdrawn),
	}

	for kind, n := range counts {
		if n > 0 {
			EventsDecoded.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
