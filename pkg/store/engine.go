package store

import (
	"database/sql"
	"fmt"
)

// Engine owns a set of stores and moves their state between memory and the
// store_values table. The per-block lifecycle is:
//
//	1. stores accumulate writes in their block overlay
//	2. Flush writes the overlay inside the caller's transaction
//	3. after the transaction commits, Commit merges overlays into base state
//	4. on any failure, Discard throws the overlays away
type Engine struct {
	stores []Store
	byName map[string]Store
}

// NewEngine creates an engine managing the given stores. Store names must be
// unique since they namespace rows in the persistence table.
func NewEngine(stores ...Store) (*Engine, error) {
	byName := make(map[string]Store, len(stores))
	for _, s := range stores {
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate store name %q", s.Name())
		}
		byName[s.Name()] = s
	}

	return &Engine{stores: stores, byName: byName}, nil
}

// Load hydrates all stores from the store_values table. It must be called
// once on startup, before any block is processed.
func (e *Engine) Load(db *sql.DB) error {
	rows, err := db.Query(`SELECT store_name, key, value FROM store_values`)
	if err != nil {
		return fmt.Errorf("failed to load store values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, key, value string
		if err := rows.Scan(&name, &key, &value); err != nil {
			return fmt.Errorf("failed to scan store value: %w", err)
		}

		s, ok := e.byName[name]
		if !ok {
			// Rows of stores removed from the engine are left in place.
			continue
		}

		if err := s.load(key, value); err != nil {
			return err
		}
	}

	return rows.Err()
}

// Flush upserts every key written during the in-flight block into the
// store_values table, inside the caller's transaction. In-memory state is
// not advanced; call Commit after the transaction commits.
func (e *Engine) Flush(tx *sql.Tx) error {
	stmt, err := tx.Prepare(`INSERT INTO store_values (store_name, key, value) VALUES (?, ?, ?)
		ON CONFLICT(store_name, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("failed to prepare store flush: %w", err)
	}
	defer stmt.Close()

	for _, s := range e.stores {
		for key, value := range s.flush() {
			if _, err := stmt.Exec(s.Name(), key, value); err != nil {
				return fmt.Errorf("failed to flush store %s key %s: %w", s.Name(), key, err)
			}
		}
	}

	return nil
}

// Commit merges all block overlays into base state and clears delta logs.
func (e *Engine) Commit() {
	for _, s := range e.stores {
		s.commitBlock()
	}
}

// Discard drops all block overlays and delta logs, restoring the state of
// the last committed block.
func (e *Engine) Discard() {
	for _, s := range e.stores {
		s.discardBlock()
	}
}
