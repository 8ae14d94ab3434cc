package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/russross/meddler"

	"github.com/chain-relay/evmindexor/internal/logger"
	"github.com/chain-relay/evmindexor/pkg/indexing"
)

const (
	erc20TopicsCount = 3
	erc20DataSize    = 32
)

// ERC20TransferSignature is the canonical Transfer event signature this
// example registers against. A manifest entry using this signature gets
// its logs decoded and persisted by erc20Handler below.
const ERC20TransferSignature = "Transfer(address,address,uint256)"

var erc20TransferTopic = crypto.Keccak256Hash([]byte(ERC20TransferSignature))

// erc20Transfer is one decoded ERC20 Transfer event, persisted with meddler
// the same way the teacher's examples/indexers/erc20 package did.
type erc20Transfer struct {
	ID          int64          `meddler:"id,pk"`
	BlockNumber uint64         `meddler:"block_number"`
	TxHash      common.Hash    `meddler:"tx_hash,hash"`
	LogIndex    uint           `meddler:"log_index"`
	From        common.Address `meddler:"from_address,address"`
	To          common.Address `meddler:"to_address,address"`
	Value       string         `meddler:"value"`
}

func erc20Migration() string {
	return `
-- +migrate Up
CREATE TABLE IF NOT EXISTS erc20_transfers (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    block_number INTEGER NOT NULL,
    tx_hash      TEXT NOT NULL,
    log_index    INTEGER NOT NULL,
    from_address TEXT NOT NULL,
    to_address   TEXT NOT NULL,
    value        TEXT NOT NULL,
    UNIQUE(tx_hash, log_index)
);

-- +migrate Down
DROP TABLE IF EXISTS erc20_transfers;
`
}

// decodeERC20Transfer turns a raw log into an erc20Transfer, or an error if
// the log doesn't have the shape a Transfer event requires. Decode errors
// are isolated per-log by the registry and never abort the batch.
func decodeERC20Transfer(log types.Log) (any, error) {
	if len(log.Topics) != erc20TopicsCount {
		return nil, fmt.Errorf("erc20 transfer: expected %d topics, got %d", erc20TopicsCount, len(log.Topics))
	}
	if len(log.Data) != erc20DataSize {
		return nil, fmt.Errorf("erc20 transfer: expected %d bytes of data, got %d", erc20DataSize, len(log.Data))
	}

	return &erc20Transfer{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		From:        common.BytesToAddress(log.Topics[1].Bytes()),
		To:          common.BytesToAddress(log.Topics[2].Bytes()),
		Value:       new(big.Int).SetBytes(log.Data).String(),
	}, nil
}

// newERC20Handler returns an indexing.Handler that persists every
// successfully decoded Transfer in batch to erc20_transfers, skipping (and
// logging) entries that failed to decode.
func newERC20Handler(db *sql.DB, log *logger.Logger) indexing.Handler {
	return func(ctx context.Context, batch []indexing.DecodedEvent) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("erc20 handler: begin tx: %w", err)
		}

		stored := 0
		for _, item := range batch {
			if item.Err != nil {
				log.Warnw("skipping undecodable transfer log", "tx", item.Log.TxHash.Hex(), "error", item.Err)
				continue
			}
			if err := meddler.Insert(tx, "erc20_transfers", item.Payload.(*erc20Transfer)); err != nil {
				tx.Rollback()
				return fmt.Errorf("erc20 handler: insert: %w", err)
			}
			stored++
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("erc20 handler: commit: %w", err)
		}
		log.Debugw("stored erc20 transfers", "count", stored)
		return nil
	}
}
