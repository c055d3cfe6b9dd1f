// Package downloader drives the indexing loop: it resolves the chain head
// for the configured finality mode, fetches logs in chunks, assembles them
// into blocks and feeds each block through the pipeline inside a single
// database transaction together with the checkpoint.
package downloader

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/teller-protocol/teller-protocol-v2/internal/events"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/internal/metrics"
	"github.com/teller-protocol/teller-protocol-v2/internal/pipeline"
	irpc "github.com/teller-protocol/teller-protocol-v2/internal/rpc"
	"github.com/teller-protocol/teller-protocol-v2/internal/sink"
	"github.com/teller-protocol/teller-protocol-v2/pkg/chain"
	"github.com/teller-protocol/teller-protocol-v2/pkg/changeset"
	"github.com/teller-protocol/teller-protocol-v2/pkg/config"
	"github.com/teller-protocol/teller-protocol-v2/pkg/rpc"
)

// PoolSource lists the pool addresses known to the registry, used to build
// the log filter.
type PoolSource interface {
	Addresses() []ethcommon.Address
}

// Downloader owns the indexing loop.
type Downloader struct {
	cfg       config.IndexerConfig
	rpc       rpc.EthClient
	db        *sql.DB
	log       *logger.Logger
	processor *pipeline.Processor
	pools     PoolSource
	sink      *sink.SQLiteSink

	factory           ethcommon.Address
	collateralManager ethcommon.Address

	deployedTopic ethcommon.Hash
}

// New creates a downloader.
func New(
	cfg config.IndexerConfig,
	rpcClient rpc.EthClient,
	db *sql.DB,
	log *logger.Logger,
	processor *pipeline.Processor,
	pools PoolSource,
	snk *sink.SQLiteSink,
) *Downloader {
	return &Downloader{
		cfg:               cfg,
		rpc:               rpcClient,
		db:                db,
		log:               log,
		processor:         processor,
		pools:             pools,
		sink:              snk,
		factory:           cfg.Contracts.FactoryAddress(),
		collateralManager: cfg.Contracts.CollateralManagerAddress(),
		deployedTopic:     events.FactoryABI().Events["DeployedLenderGroupContract"].ID,
	}
}

// Run executes the indexing loop until the context is cancelled.
func (d *Downloader) Run(ctx context.Context) error {
	lastProcessed, err := d.sink.LoadCheckpoint(d.db)
	if err != nil {
		return err
	}

	if d.cfg.StartBlock > 0 && lastProcessed < d.cfg.StartBlock-1 {
		lastProcessed = d.cfg.StartBlock - 1
	}

	d.log.Infow("starting indexing loop",
		"last_processed", lastProcessed,
		"finality", d.cfg.Finality,
		"chunk_size", d.cfg.ChunkSize)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("indexing loop stopped")
			return ctx.Err()
		default:
		}

		head, err := d.finalizedHead(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve chain head: %w", err)
		}

		from := lastProcessed + 1
		if from > head {
			d.log.Debugw("caught up, waiting for new blocks", "head", head)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.PollInterval.Duration):
			}
			continue
		}

		to := min(from+d.cfg.ChunkSize-1, head)

		processedTo, err := d.processChunk(ctx, from, to)
		if err != nil {
			return err
		}

		lastProcessed = processedTo
	}
}

// processChunk fetches and processes one chunk of blocks. It returns the
// last block covered, which can be lower than the requested end when the
// log fetch had to narrow the range.
func (d *Downloader) processChunk(ctx context.Context, from, to uint64) (uint64, error) {
	logs, coveredTo, err := d.fetchChunk(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch logs for range %d-%d: %w", from, to, err)
	}

	headers, err := d.rpc.BatchGetBlockHeaders(ctx, chain.BlockNumbers(logs))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch block headers: %w", err)
	}

	blocks, err := chain.Assemble(logs, headers)
	if err != nil {
		return 0, err
	}

	for _, blk := range blocks {
		if err := d.processBlock(ctx, blk); err != nil {
			return 0, err
		}
	}

	// advance the checkpoint over the trailing logless blocks
	if err := d.saveCheckpoint(coveredTo); err != nil {
		return 0, err
	}

	metrics.LastIndexedBlockSet(coveredTo)
	metrics.RegisteredPoolsSet(len(d.pools.Addresses()))

	d.log.Infow("chunk processed",
		"from", from,
		"to", coveredTo,
		"logs", len(logs),
		"blocks_with_logs", len(blocks))

	return coveredTo, nil
}

// processBlock runs one block through the pipeline and persists its
// change-set, store state and checkpoint in a single transaction.
func (d *Downloader) processBlock(ctx context.Context, blk *chain.Block) error {
	start := time.Now()

	tables, err := d.processor.ProcessBlock(ctx, blk)
	if err != nil {
		return err
	}

	tx, err := d.db.Begin()
	if err != nil {
		d.processor.Discard()
		return fmt.Errorf("failed to begin transaction for block %d: %w", blk.Number, err)
	}

	if err := d.persistBlock(tx, blk.Number, tables.Ops()); err != nil {
		tx.Rollback()
		d.processor.Discard()
		return err
	}

	if err := tx.Commit(); err != nil {
		d.processor.Discard()
		return fmt.Errorf("failed to commit block %d: %w", blk.Number, err)
	}

	d.processor.Commit()

	metrics.BlocksProcessedInc()
	metrics.BlockProcessingTimeLog(time.Since(start))

	return nil
}

// persistBlock writes the block's rows, flushes the staged store values
// and advances the checkpoint, all inside the given transaction.
func (d *Downloader) persistBlock(tx *sql.Tx, blockNumber uint64, ops []changeset.RowOp) error {
	if err := d.sink.Apply(tx, blockNumber, ops); err != nil {
		return err
	}

	if err := d.processor.Flush(tx); err != nil {
		return err
	}

	return d.sink.SaveCheckpoint(tx, blockNumber)
}

// saveCheckpoint persists the checkpoint on its own, used when a chunk
// ends with blocks carrying no logs.
func (d *Downloader) saveCheckpoint(blockNumber uint64) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}

	if err := d.sink.SaveCheckpoint(tx, blockNumber); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// fetchChunk fetches the chunk's logs, growing the address filter until it
// covers every pool deployed inside the chunk itself. A factory deployment
// found in the fetched logs means the new pool's own logs in this chunk
// were not matched by the filter, so the chunk is refetched with the
// expanded filter until no unknown pool appears.
func (d *Downloader) fetchChunk(ctx context.Context, from, to uint64) ([]types.Log, uint64, error) {
	addresses := []ethcommon.Address{d.factory, d.collateralManager}
	addresses = append(addresses, d.pools.Addresses()...)

	known := make(map[ethcommon.Address]struct{}, len(addresses))
	for _, a := range addresses {
		known[a] = struct{}{}
	}

	for {
		logs, coveredFrom, coveredTo, err := d.fetchLogsWithRetry(ctx, from, to, addresses)
		if err != nil {
			return nil, 0, err
		}

		// a narrowing retry may lower the end of the range but must never
		// move its start, blocks in front of it would be skipped
		if coveredFrom != from {
			return nil, 0, fmt.Errorf("log fetch moved the range start from %d to %d", from, coveredFrom)
		}

		discovered := d.undiscoveredPools(logs, known)
		if len(discovered) == 0 {
			return logs, coveredTo, nil
		}

		d.log.Infow("pools deployed inside chunk, refetching with expanded filter",
			"new_pools", len(discovered), "from", from, "to", coveredTo)

		for _, addr := range discovered {
			known[addr] = struct{}{}
			addresses = append(addresses, addr)
		}

		// keep the range a narrowing retry may have settled on
		to = coveredTo
	}
}

// undiscoveredPools scans factory deployment events for pool addresses not
// yet in the filter.
func (d *Downloader) undiscoveredPools(logs []types.Log, known map[ethcommon.Address]struct{}) []ethcommon.Address {
	var discovered []ethcommon.Address

	for _, lg := range logs {
		if lg.Removed || lg.Address != d.factory {
			continue
		}
		if len(lg.Topics) < 2 || lg.Topics[0] != d.deployedTopic {
			continue
		}

		pool := ethcommon.BytesToAddress(lg.Topics[1].Bytes()[12:])
		if _, ok := known[pool]; !ok {
			discovered = append(discovered, pool)
		}
	}

	return discovered
}

// fetchLogsWithRetry fetches logs and automatically retries with a smaller
// range when the provider rejects the query for returning too many results.
func (d *Downloader) fetchLogsWithRetry(
	ctx context.Context,
	fromBlock, toBlock uint64,
	addresses []ethcommon.Address,
) ([]types.Log, uint64, uint64, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}

	logs, err := d.rpc.GetLogs(ctx, query)
	if err != nil {
		ok, errData := irpc.IsTooManyResultsError(err)
		if !ok {
			return nil, 0, 0, err
		}

		var newFrom, newTo uint64
		if suggestedFrom, suggestedTo, ok := irpc.ParseSuggestedBlockRange(errData); ok {
			d.log.Infof("too many logs, retrying with suggested block range from %d to %d (original range %d to %d)",
				suggestedFrom, suggestedTo, fromBlock, toBlock)
			newFrom, newTo = suggestedFrom, suggestedTo
		} else {
			mid := (fromBlock + toBlock) / 2
			if mid == fromBlock {
				return nil, 0, 0, fmt.Errorf("cannot split range further, single block %d has too many logs", fromBlock)
			}

			d.log.Infof("too many logs, retrying with smaller block range from %d to %d (original range %d to %d)",
				fromBlock, mid, fromBlock, toBlock)
			newFrom, newTo = fromBlock, mid
		}

		return d.fetchLogsWithRetry(ctx, newFrom, newTo, addresses)
	}

	return logs, fromBlock, toBlock, nil
}

// finalizedHead resolves the highest block the loop may process under the
// configured finality mode.
func (d *Downloader) finalizedHead(ctx context.Context) (uint64, error) {
	var (
		header *types.Header
		err    error
	)

	switch d.cfg.Finality {
	case "finalized":
		header, err = d.rpc.GetFinalizedBlockHeader(ctx)
	case "safe":
		header, err = d.rpc.GetSafeBlockHeader(ctx)
	case "latest":
		header, err = d.rpc.GetLatestBlockHeader(ctx)
		if err == nil && d.cfg.FinalizedLag > 0 {
			headerNum := header.Number.Uint64()
			if headerNum < d.cfg.FinalizedLag {
				return 0, nil
			}
			header, err = d.rpc.GetBlockHeader(ctx, headerNum-d.cfg.FinalizedLag)
		}
	default:
		return 0, fmt.Errorf("invalid finality mode: %s", d.cfg.Finality)
	}

	if err != nil {
		return 0, err
	}

	return header.Number.Uint64(), nil
}
