// Package progressstore is the SQLite-backed implementation of
// pkg/indexing.ProgressStore: one table per (indexer, contract, event),
// holding one row per network, with a conditional monotonic update.
package progressstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chain-relay/evmindexor/internal/logger"
	"github.com/chain-relay/evmindexor/internal/metrics"
	"github.com/chain-relay/evmindexor/pkg/indexing"
)

const dbLabel = "progressstore"

var validNamePart = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Store is a sql.DB-backed indexing.ProgressStore. Each distinct
// (IndexerName, ContractName, EventName) triple gets its own table, created
// lazily on first use and cached so repeat writes skip the DDL round trip.
type Store struct {
	db  *sql.DB
	log *logger.Logger

	mu      sync.Mutex
	created map[string]bool
}

// New wraps db as a progress store. db is expected to already have the
// pragmas/connection options from internal/db.NewSQLiteDBFromConfig applied.
func New(db *sql.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{
		db:      db,
		log:     log.WithComponent("progress-store"),
		created: make(map[string]bool),
	}
}

var _ indexing.ProgressStore = (*Store)(nil)

// GetLastSynced returns the last synced block for key, and false if no
// record exists yet for key's network in key's table.
func (s *Store) GetLastSynced(ctx context.Context, key indexing.ProgressKey) (uint64, bool, error) {
	const op = "get_last_synced"
	start := time.Now()
	metrics.DBQueryInc(dbLabel, op)
	defer func() { metrics.DBQueryDuration(dbLabel, op, time.Since(start)) }()

	table, err := tableName(key)
	if err != nil {
		metrics.DBErrorsInc(dbLabel, op)
		return 0, false, err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		metrics.DBErrorsInc(dbLabel, op)
		return 0, false, err
	}

	var block uint64
	query := fmt.Sprintf(`SELECT last_synced_block FROM %q WHERE network = ?`, table)
	err = s.db.QueryRowContext(ctx, query, key.Network).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		metrics.DBErrorsInc(dbLabel, op)
		return 0, false, fmt.Errorf("progressstore: reading %s/%s: %w", table, key.Network, err)
	}
	return block, true, nil
}

// SetLastSynced stores block for key if block is greater than the
// currently stored value (or no value is stored yet). The comparison and
// write happen in a single statement, so concurrent writers for the same
// key never race each other into a regression.
func (s *Store) SetLastSynced(ctx context.Context, key indexing.ProgressKey, block uint64) error {
	const op = "set_last_synced"
	start := time.Now()
	metrics.DBQueryInc(dbLabel, op)
	defer func() { metrics.DBQueryDuration(dbLabel, op, time.Since(start)) }()

	table, err := tableName(key)
	if err != nil {
		metrics.DBErrorsInc(dbLabel, op)
		return err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		metrics.DBErrorsInc(dbLabel, op)
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %q (network, last_synced_block) VALUES (?, ?)
		ON CONFLICT(network) DO UPDATE SET last_synced_block = excluded.last_synced_block
		WHERE excluded.last_synced_block > last_synced_block
	`, table)
	if _, err := s.db.ExecContext(ctx, query, key.Network, block); err != nil {
		metrics.DBErrorsInc(dbLabel, op)
		return fmt.Errorf("progressstore: writing %s/%s: %w", table, key.Network, err)
	}

	s.log.Debugw("progress checkpoint", "table", table, "network", key.Network, "block", block)
	return nil
}

// ensureTable creates table if this Store hasn't already created it in this
// process. Safe to call concurrently; the DDL itself is idempotent, and
// the cache is only an optimization, not a correctness requirement.
func (s *Store) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	if s.created[table] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			network TEXT PRIMARY KEY,
			last_synced_block INTEGER NOT NULL
		)
	`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("progressstore: creating table %s: %w", table, err)
	}

	s.mu.Lock()
	s.created[table] = true
	s.mu.Unlock()
	return nil
}

// tableName derives the three-part "{indexer}_{contract}_{event}" table
// name for key, rejecting names that would need escaping. Manifest
// validation is out of scope, so this is the one place that guards
// against building an invalid or unsafe identifier from user-supplied
// names.
func tableName(key indexing.ProgressKey) (string, error) {
	parts := []string{key.IndexerName, key.ContractName, key.EventName}
	for _, p := range parts {
		if !validNamePart.MatchString(p) {
			return "", fmt.Errorf("progressstore: invalid identifier component %q (must match %s)", p, validNamePart.String())
		}
	}
	return strings.Join(parts, "_"), nil
}
