package reorg

import "github.com/chain-relay/evmindexor/internal/db"

// Migrations returns the schema migrations the reorg detector's block-hash
// cache needs. Callers append this slice to whatever other migrations their
// database runs.
func Migrations() []db.Migration {
	return []db.Migration{
		{
			ID:  "0001_block_hashes",
			SQL: migration0001BlockHashes,
		},
	}
}

const migration0001BlockHashes = `
-- +migrate Up
CREATE TABLE IF NOT EXISTS block_hashes (
    block_number INTEGER PRIMARY KEY,
    block_hash   TEXT NOT NULL,
    parent_hash  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_block_hashes_block_number ON block_hashes (block_number);

-- +migrate Down
DROP TABLE IF EXISTS block_hashes;
`
