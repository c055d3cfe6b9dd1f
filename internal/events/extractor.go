package events

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/teller-protocol/teller-protocol-v2/internal/enrich"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/pkg/chain"
)

// PoolRegistry tracks which addresses are lender group pools. The extractor
// records factory deployments as it walks the block, so a pool becomes
// visible to logs later in the same block.
type PoolRegistry interface {
	IsRegistered(addr common.Address) bool
	Record(addr common.Address)
}

// PoolConfigSource resolves the contract-level identity of a pool when its
// PoolInitialized event is decoded. The reads are pinned to the block of the
// event so replaying the block yields the same identity.
type PoolConfigSource interface {
	PoolConfig(ctx context.Context, pool common.Address, blockNumber uint64) (*enrich.PoolConfig, error)
}

// Extractor turns the raw logs of a block into typed protocol events.
type Extractor struct {
	log               *logger.Logger
	factory           common.Address
	collateralManager common.Address
	registry          PoolRegistry
	poolConfig        PoolConfigSource
}

// NewExtractor creates an extractor for the given protocol contracts.
func NewExtractor(
	log *logger.Logger,
	factory common.Address,
	collateralManager common.Address,
	registry PoolRegistry,
	poolConfig PoolConfigSource,
) *Extractor {
	return &Extractor{
		log:               log,
		factory:           factory,
		collateralManager: collateralManager,
		registry:          registry,
		poolConfig:        poolConfig,
	}
}

// Extract decodes all relevant logs of a block in log order. Logs of
// unmonitored addresses and unknown topics of monitored addresses are
// skipped. A log that matches a known event but cannot be decoded fails the
// whole block.
func (e *Extractor) Extract(ctx context.Context, blk *chain.Block) (*BlockEvents, error) {
	evs := &BlockEvents{}

	for _, lg := range blk.Logs {
		if lg.Removed || len(lg.Topics) == 0 {
			continue
		}

		var err error
		switch {
		case lg.Address == e.factory:
			err = e.extractFactory(lg, evs)
		case lg.Address == e.collateralManager:
			err = e.extractCollateral(lg, evs)
		case e.registry.IsRegistered(lg.Address):
			err = e.extractPool(ctx, lg, evs)
		}

		if err != nil {
			return nil, fmt.Errorf("block %d tx %s log %d: %w", blk.Number, lg.TxHash.Hex(), lg.Index, err)
		}
	}

	return evs, nil
}

func (e *Extractor) extractFactory(lg types.Log, evs *BlockEvents) error {
	if lg.Topics[0] != factoryABI.Events["DeployedLenderGroupContract"].ID {
		return nil
	}

	var ev DeployedLenderGroupContract
	if err := unpackLog(factoryABI, &ev, "DeployedLenderGroupContract", lg); err != nil {
		return err
	}
	ev.Raw = lg

	// The pool is visible to all subsequent logs of this block.
	e.registry.Record(ev.GroupContract)
	evs.Deployed = append(evs.Deployed, ev)

	e.log.Infof("new lender group pool deployed: %s", ev.GroupContract.Hex())

	return nil
}

func (e *Extractor) extractCollateral(lg types.Log, evs *BlockEvents) error {
	if lg.Topics[0] != collateralABI.Events["CollateralWithdrawn"].ID {
		return nil
	}

	var ev CollateralWithdrawn
	if err := unpackLog(collateralABI, &ev, "CollateralWithdrawn", lg); err != nil {
		return err
	}
	ev.Raw = lg

	evs.CollateralWithdrawn = append(evs.CollateralWithdrawn, ev)

	return nil
}

func (e *Extractor) extractPool(ctx context.Context, lg types.Log, evs *BlockEvents) error {
	switch lg.Topics[0] {
	case poolABI.Events["PoolInitialized"].ID:
		var ev PoolInitialized
		if err := unpackLog(poolABI, &ev, "PoolInitialized", lg); err != nil {
			return err
		}
		ev.Raw = lg

		// The pool row cannot exist without its contract identity. If the
		// reads fail the event is dropped and the block carries on.
		cfg, err := e.poolConfig.PoolConfig(ctx, lg.Address, lg.BlockNumber)
		if err != nil {
			e.log.Warnf("dropping PoolInitialized for pool %s, identity reads failed: %v", lg.Address.Hex(), err)
			return nil
		}
		ev.Config = cfg

		evs.PoolsInitialized = append(evs.PoolsInitialized, ev)

	case poolABI.Events["LenderAddedPrincipal"].ID:
		var ev LenderAddedPrincipal
		if err := unpackLog(poolABI, &ev, "LenderAddedPrincipal", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.PrincipalAdded = append(evs.PrincipalAdded, ev)

	case poolABI.Events["BorrowerAcceptedFunds"].ID:
		var ev BorrowerAcceptedFunds
		if err := unpackLog(poolABI, &ev, "BorrowerAcceptedFunds", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.FundsAccepted = append(evs.FundsAccepted, ev)

	case poolABI.Events["EarningsWithdrawn"].ID:
		var ev EarningsWithdrawn
		if err := unpackLog(poolABI, &ev, "EarningsWithdrawn", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.EarningsWithdrawn = append(evs.EarningsWithdrawn, ev)

	case poolABI.Events["LoanRepaid"].ID:
		var ev LoanRepaid
		if err := unpackLog(poolABI, &ev, "LoanRepaid", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.LoansRepaid = append(evs.LoansRepaid, ev)

	case poolABI.Events["DefaultedLoanLiquidated"].ID:
		var ev DefaultedLoanLiquidated
		if err := unpackLog(poolABI, &ev, "DefaultedLoanLiquidated", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.LoansLiquidated = append(evs.LoansLiquidated, ev)

	case poolABI.Events["Initialized"].ID:
		var ev Initialized
		if err := unpackLog(poolABI, &ev, "Initialized", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.Initialized = append(evs.Initialized, ev)

	case poolABI.Events["Paused"].ID:
		var ev Paused
		if err := unpackLog(poolABI, &ev, "Paused", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.Paused = append(evs.Paused, ev)

	case poolABI.Events["Unpaused"].ID:
		var ev Unpaused
		if err := unpackLog(poolABI, &ev, "Unpaused", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.Unpaused = append(evs.Unpaused, ev)

	case poolABI.Events["OwnershipTransferred"].ID:
		var ev OwnershipTransferred
		if err := unpackLog(poolABI, &ev, "OwnershipTransferred", lg); err != nil {
			return err
		}
		ev.Raw = lg
		evs.OwnershipTransferred = append(evs.OwnershipTransferred, ev)

	default:
		e.log.Debugf("skipping unknown topic %s on pool %s", lg.Topics[0].Hex(), lg.Address.Hex())
	}

	return nil
}
