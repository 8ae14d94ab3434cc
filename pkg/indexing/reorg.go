package indexing

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
)

// Well-known chain ids for the safe-distance lookup table.
const (
	chainIDMainnet  = 1
	chainIDOptimism = 10
	chainIDPolygon  = 137
	chainIDArbitrum = 42161
	chainIDBase     = 8453
)

// safeDistances maps a chain id to the number of blocks behind head that are
// considered immune to reorganization. Chains absent from the table get 0,
// meaning no reorg buffer is applied.
var safeDistances = map[uint64]uint64{
	chainIDMainnet:  12,
	chainIDOptimism: 5,
	chainIDPolygon:  5,
	chainIDArbitrum: 1,
	chainIDBase:     5,
}

// SafeDistance returns the number of blocks behind head considered immune to
// reorganization for chainID. Unknown chains return 0: no buffer.
func SafeDistance(chainID uint64) uint64 {
	return safeDistances[chainID]
}

// HashChainVerifier is an optional deeper reorg check a NetworkContract can
// opt into via ReorgSafe. It verifies that the headers covering a freshly
// fetched log batch form an unbroken parent-hash chain and match any
// previously recorded hashes for the same block numbers, catching reorgs
// that land between two provider calls rather than only clamping the
// historical end behind a fixed safe distance.
type HashChainVerifier interface {
	VerifyAndRecordBlocks(ctx context.Context, logs []types.Log, fromBlock, toBlock uint64) error
}
