// Package sink materializes row operations into SQLite. Rows live in a
// single entity_rows table keyed by (entity_kind, row_key) with the column
// map stored as JSON, so new entity kinds need no schema changes. All
// writes of one block share the caller's transaction.
package sink

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/russross/meddler"

	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/pkg/changeset"
)

// entityRow mirrors the entity_rows table.
type entityRow struct {
	ID           int64  `meddler:"id,pk"`
	Kind         string `meddler:"entity_kind"`
	Key          string `meddler:"row_key"`
	Data         string `meddler:"data"`
	UpdatedBlock uint64 `meddler:"updated_block"`
}

// syncState mirrors the single-row sync_state checkpoint table.
type syncState struct {
	ID        int64  `meddler:"id,pk"`
	LastBlock uint64 `meddler:"last_block"`
	UpdatedAt int64  `meddler:"updated_at"`
}

// SQLiteSink writes change-sets and the block checkpoint.
type SQLiteSink struct {
	log *logger.Logger
}

// New creates a sink.
func New(log *logger.Logger) *SQLiteSink {
	return &SQLiteSink{log: log}
}

// Apply writes the block's row operations inside the given transaction.
// Creates replace any existing row wholesale; updates merge columns into
// the stored JSON, falling back to an insert when the row does not exist
// yet (the entity predates this deployment's start block).
func (s *SQLiteSink) Apply(tx *sql.Tx, blockNumber uint64, ops []changeset.RowOp) error {
	for _, op := range ops {
		var err error
		switch op.Op {
		case changeset.OpCreate:
			err = s.create(tx, blockNumber, op)
		case changeset.OpUpdate:
			err = s.update(tx, blockNumber, op)
		default:
			err = fmt.Errorf("unknown row operation %q", op.Op)
		}

		if err != nil {
			return fmt.Errorf("failed to apply %s of %s/%s: %w", op.Op, op.Kind, op.Key, err)
		}
	}

	return nil
}

func (s *SQLiteSink) create(tx *sql.Tx, blockNumber uint64, op changeset.RowOp) error {
	data, err := json.Marshal(op.Columns)
	if err != nil {
		return err
	}

	// a create replaces whatever was there before
	if _, err := tx.Exec(`DELETE FROM entity_rows WHERE entity_kind = ? AND row_key = ?`,
		op.Kind, op.Key); err != nil {
		return err
	}

	return meddler.Insert(tx, "entity_rows", &entityRow{
		Kind:         op.Kind,
		Key:          op.Key,
		Data:         string(data),
		UpdatedBlock: blockNumber,
	})
}

func (s *SQLiteSink) update(tx *sql.Tx, blockNumber uint64, op changeset.RowOp) error {
	var row entityRow
	err := meddler.QueryRow(tx, &row,
		`SELECT * FROM entity_rows WHERE entity_kind = ? AND row_key = ?`, op.Kind, op.Key)
	if errors.Is(err, sql.ErrNoRows) {
		// updates against rows from before the indexer's start block
		// degrade to creates with the columns at hand
		s.log.Debugw("update of unknown row, inserting", "kind", op.Kind, "key", op.Key)
		return s.create(tx, blockNumber, op)
	}
	if err != nil {
		return err
	}

	merged, err := mergeColumns(row.Data, op.Columns)
	if err != nil {
		return err
	}

	row.Data = merged
	row.UpdatedBlock = blockNumber

	return meddler.Update(tx, "entity_rows", &row)
}

// mergeColumns overlays the new column values onto the stored JSON map,
// leaving untouched columns in place.
func mergeColumns(stored string, columns map[string]changeset.Value) (string, error) {
	existing := make(map[string]json.RawMessage)
	if err := json.Unmarshal([]byte(stored), &existing); err != nil {
		return "", fmt.Errorf("corrupt row data: %w", err)
	}

	for name, value := range columns {
		raw, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		existing[name] = raw
	}

	out, err := json.Marshal(existing)
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// SaveCheckpoint records the last fully processed block inside the block's
// transaction.
func (s *SQLiteSink) SaveCheckpoint(tx *sql.Tx, blockNumber uint64) error {
	state := syncState{
		ID:        1,
		LastBlock: blockNumber,
		UpdatedAt: time.Now().Unix(),
	}

	if err := meddler.Update(tx, "sync_state", &state); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// LoadCheckpoint returns the last fully processed block. The migration
// seeds the row at zero, meaning no block has been processed yet.
func (s *SQLiteSink) LoadCheckpoint(db *sql.DB) (uint64, error) {
	var state syncState
	if err := meddler.QueryRow(db, &state, `SELECT * FROM sync_state WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return state.LastBlock, nil
}
