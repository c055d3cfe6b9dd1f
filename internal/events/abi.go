package events

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// factory contract events
const factoryABIJSON = `[
	{"type":"event","name":"DeployedLenderGroupContract","inputs":[
		{"name":"groupContract","type":"address","indexed":true}
	]}
]`

// lender group pool events
const poolABIJSON = `[
	{"type":"event","name":"PoolInitialized","inputs":[
		{"name":"principalTokenAddress","type":"address","indexed":false},
		{"name":"collateralTokenAddress","type":"address","indexed":false},
		{"name":"marketId","type":"uint256","indexed":false},
		{"name":"maxLoanDuration","type":"uint32","indexed":false},
		{"name":"interestRateLowerBound","type":"uint16","indexed":false},
		{"name":"interestRateUpperBound","type":"uint16","indexed":false},
		{"name":"liquidityThresholdPercent","type":"uint16","indexed":false},
		{"name":"loanToValuePercent","type":"uint16","indexed":false},
		{"name":"poolSharesToken","type":"address","indexed":false}
	]},
	{"type":"event","name":"LenderAddedPrincipal","inputs":[
		{"name":"lender","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"sharesAmount","type":"uint256","indexed":false},
		{"name":"sharesRecipient","type":"address","indexed":false}
	]},
	{"type":"event","name":"BorrowerAcceptedFunds","inputs":[
		{"name":"borrower","type":"address","indexed":true},
		{"name":"bidId","type":"uint256","indexed":true},
		{"name":"principalAmount","type":"uint256","indexed":false},
		{"name":"collateralAmount","type":"uint256","indexed":false},
		{"name":"loanDuration","type":"uint32","indexed":false},
		{"name":"interestRate","type":"uint16","indexed":false}
	]},
	{"type":"event","name":"EarningsWithdrawn","inputs":[
		{"name":"lender","type":"address","indexed":true},
		{"name":"amountPoolSharesTokens","type":"uint256","indexed":false},
		{"name":"principalTokensWithdrawn","type":"uint256","indexed":false},
		{"name":"recipient","type":"address","indexed":false}
	]},
	{"type":"event","name":"LoanRepaid","inputs":[
		{"name":"bidId","type":"uint256","indexed":true},
		{"name":"repayer","type":"address","indexed":true},
		{"name":"principalAmount","type":"uint256","indexed":false},
		{"name":"interestAmount","type":"uint256","indexed":false},
		{"name":"totalPrincipalRepaid","type":"uint256","indexed":false},
		{"name":"totalInterestCollected","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"DefaultedLoanLiquidated","inputs":[
		{"name":"bidId","type":"uint256","indexed":true},
		{"name":"liquidator","type":"address","indexed":true},
		{"name":"amountDue","type":"uint256","indexed":false},
		{"name":"tokenAmountDifference","type":"int256","indexed":false}
	]},
	{"type":"event","name":"Initialized","inputs":[
		{"name":"version","type":"uint8","indexed":false}
	]},
	{"type":"event","name":"Paused","inputs":[
		{"name":"account","type":"address","indexed":false}
	]},
	{"type":"event","name":"Unpaused","inputs":[
		{"name":"account","type":"address","indexed":false}
	]},
	{"type":"event","name":"OwnershipTransferred","inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}
	]}
]`

// collateral manager events
const collateralABIJSON = `[
	{"type":"event","name":"CollateralWithdrawn","inputs":[
		{"name":"bidId","type":"uint256","indexed":true},
		{"name":"collateralType","type":"uint8","indexed":false},
		{"name":"collateralAddress","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"tokenId","type":"uint256","indexed":false},
		{"name":"recipient","type":"address","indexed":false}
	]}
]`

var (
	factoryABI    = mustParseABI(factoryABIJSON)
	poolABI       = mustParseABI(poolABIJSON)
	collateralABI = mustParseABI(collateralABIJSON)
)

// FactoryABI returns the factory contract event ABI.
func FactoryABI() abi.ABI { return factoryABI }

// PoolABI returns the lender group pool event ABI.
func PoolABI() abi.ABI { return poolABI }

// CollateralABI returns the collateral manager event ABI.
func CollateralABI() abi.ABI { return collateralABI }

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// unpackLog decodes a log into out, filling non-indexed fields from the data
// section and indexed fields from the topics.
func unpackLog(a abi.ABI, out any, event string, log types.Log) error {
	ev, ok := a.Events[event]
	if !ok {
		return fmt.Errorf("unknown event %s", event)
	}

	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return fmt.Errorf("log topic does not match event %s", event)
	}

	if len(log.Data) > 0 {
		if err := a.UnpackIntoInterface(out, event, log.Data); err != nil {
			return fmt.Errorf("failed to unpack %s data: %w", event, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	if len(indexed) != len(log.Topics)-1 {
		return fmt.Errorf("event %s expects %d indexed topics, log has %d",
			event, len(indexed), len(log.Topics)-1)
	}

	if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return fmt.Errorf("failed to parse %s topics: %w", event, err)
	}

	return nil
}
