// Package pipeline ties extraction, aggregation and projection into the
// per-block processing pass. A block either yields a complete change-set
// with all store mutations staged, or it fails and leaves no trace.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/teller-protocol/teller-protocol-v2/internal/aggregates"
	"github.com/teller-protocol/teller-protocol-v2/internal/events"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/internal/metrics"
	"github.com/teller-protocol/teller-protocol-v2/internal/projector"
	"github.com/teller-protocol/teller-protocol-v2/pkg/chain"
	"github.com/teller-protocol/teller-protocol-v2/pkg/changeset"
	"github.com/teller-protocol/teller-protocol-v2/pkg/store"
)

// Processor runs the per-block pass. Blocks must be processed strictly in
// order by a single goroutine; the stores carry mutable running state.
type Processor struct {
	log       *logger.Logger
	extractor *events.Extractor
	applier   *aggregates.Applier
	projector *projector.Projector
	engine    *store.Engine
}

// NewProcessor wires the block processing pass.
func NewProcessor(
	log *logger.Logger,
	extractor *events.Extractor,
	applier *aggregates.Applier,
	proj *projector.Projector,
	engine *store.Engine,
) *Processor {
	return &Processor{
		log:       log,
		extractor: extractor,
		applier:   applier,
		projector: proj,
		engine:    engine,
	}
}

// ProcessBlock runs one block through extract, apply, reconcile and
// project. On success the change-set is returned with all store writes
// staged in the block overlays; the caller persists both in one
// transaction and then calls Commit. On error every staged write is
// discarded and the block can be retried.
func (p *Processor) ProcessBlock(ctx context.Context, blk *chain.Block) (*changeset.Tables, error) {
	ev, err := p.extractor.Extract(ctx, blk)
	if err != nil {
		p.engine.Discard()
		return nil, fmt.Errorf("failed to process block %d: %w", blk.Number, err)
	}

	p.applier.Apply(blk.Number, blk.Time, ev)
	p.applier.ReconcileCollateral()

	tables := p.projector.Project(ctx, blk.Number, blk.Time, ev)

	metrics.BlockEventsObserve(ev)
	metrics.RowOpsAdd(tables.Len())

	p.log.Debugw("block processed",
		"block", blk.Number,
		"events", ev.Len(),
		"rowOps", tables.Len())

	return tables, nil
}

// Flush writes the block's staged store values inside the caller's
// transaction.
func (p *Processor) Flush(tx *sql.Tx) error {
	return p.engine.Flush(tx)
}

// Commit advances the in-memory store state after the block's transaction
// committed.
func (p *Processor) Commit() {
	p.engine.Commit()
}

// Discard drops the staged state of a failed block.
func (p *Processor) Discard() {
	p.engine.Discard()
}
