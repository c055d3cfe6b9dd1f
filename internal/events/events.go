// Package events decodes the raw logs of the lender group protocol into
// typed records. The extractor walks a block's logs in order, keeps only
// logs of the factory, the collateral manager and registered pools, and
// groups the decoded records by event kind.
package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/teller-protocol/teller-protocol-v2/internal/enrich"
)

// DeployedLenderGroupContract announces a new pool deployed by the factory.
type DeployedLenderGroupContract struct {
	GroupContract common.Address

	Raw types.Log
}

// PoolInitialized announces the configuration of a freshly deployed pool.
// Config carries the contract-level identity read at extraction time.
type PoolInitialized struct {
	PrincipalTokenAddress     common.Address
	CollateralTokenAddress    common.Address
	MarketId                  *big.Int
	MaxLoanDuration           uint32
	InterestRateLowerBound    uint16
	InterestRateUpperBound    uint16
	LiquidityThresholdPercent uint16
	LoanToValuePercent        uint16
	PoolSharesToken           common.Address

	Config *enrich.PoolConfig
	Raw    types.Log
}

// LenderAddedPrincipal records a lender committing principal tokens.
type LenderAddedPrincipal struct {
	Lender          common.Address
	Amount          *big.Int
	SharesAmount    *big.Int
	SharesRecipient common.Address

	Raw types.Log
}

// BorrowerAcceptedFunds records a borrower drawing a loan from the pool.
type BorrowerAcceptedFunds struct {
	Borrower         common.Address
	BidId            *big.Int
	PrincipalAmount  *big.Int
	CollateralAmount *big.Int
	LoanDuration     uint32
	InterestRate     uint16

	Raw types.Log
}

// EarningsWithdrawn records a lender burning shares for principal tokens.
type EarningsWithdrawn struct {
	Lender                   common.Address
	AmountPoolSharesTokens   *big.Int
	PrincipalTokensWithdrawn *big.Int
	Recipient                common.Address

	Raw types.Log
}

// LoanRepaid records a repayment against an active bid.
type LoanRepaid struct {
	BidId                  *big.Int
	Repayer                common.Address
	PrincipalAmount        *big.Int
	InterestAmount         *big.Int
	TotalPrincipalRepaid   *big.Int
	TotalInterestCollected *big.Int

	Raw types.Log
}

// DefaultedLoanLiquidated records the liquidation of a defaulted loan.
type DefaultedLoanLiquidated struct {
	BidId                 *big.Int
	Liquidator            common.Address
	AmountDue             *big.Int
	TokenAmountDifference *big.Int

	Raw types.Log
}

// Initialized is the proxy initialization lifecycle event.
type Initialized struct {
	Version uint8

	Raw types.Log
}

// Paused is the pool pause lifecycle event.
type Paused struct {
	Account common.Address

	Raw types.Log
}

// Unpaused is the pool unpause lifecycle event.
type Unpaused struct {
	Account common.Address

	Raw types.Log
}

// OwnershipTransferred is the pool ownership lifecycle event.
type OwnershipTransferred struct {
	PreviousOwner common.Address
	NewOwner      common.Address

	Raw types.Log
}

// CollateralWithdrawn records collateral leaving the collateral manager for
// a bid. Only bids originated from a tracked pool are attributed further
// down the pipeline.
type CollateralWithdrawn struct {
	BidId             *big.Int
	CollateralType    uint8
	CollateralAddress common.Address
	Amount            *big.Int
	TokenId           *big.Int
	Recipient         common.Address

	Raw types.Log
}

// BlockEvents groups the decoded records of one block by event kind. Slices
// preserve log order within each kind.
type BlockEvents struct {
	Deployed             []DeployedLenderGroupContract
	PoolsInitialized     []PoolInitialized
	PrincipalAdded       []LenderAddedPrincipal
	FundsAccepted        []BorrowerAcceptedFunds
	EarningsWithdrawn    []EarningsWithdrawn
	LoansRepaid          []LoanRepaid
	LoansLiquidated      []DefaultedLoanLiquidated
	Initialized          []Initialized
	Paused               []Paused
	Unpaused             []Unpaused
	OwnershipTransferred []OwnershipTransferred
	CollateralWithdrawn  []CollateralWithdrawn
}

// Len returns the total number of decoded events.
func (e *BlockEvents) Len() int {
	return len(e.Deployed) +
		len(e.PoolsInitialized) +
		len(e.PrincipalAdded) +
		len(e.FundsAccepted) +
		len(e.EarningsWithdrawn) +
		len(e.LoansRepaid) +
		len(e.LoansLiquidated) +
		len(e.Initialized) +
		len(e.Paused) +
		len(e.Unpaused) +
		len(e.OwnershipTransferred) +
		len(e.CollateralWithdrawn)
}

// IsEmpty reports whether no event was decoded in the block.
func (e *BlockEvents) IsEmpty() bool {
	return e.Len() == 0
}
