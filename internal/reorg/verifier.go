package reorg

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
)

// Verifier adapts ReorgDetector's richer VerifyAndRecordBlocks (which
// returns the fetched headers for callers that want them) to the
// error-only signature the indexing package's HashChainVerifier expects.
type Verifier struct {
	Detector *ReorgDetector
}

// NewVerifier wraps detector as a HashChainVerifier.
func NewVerifier(detector *ReorgDetector) *Verifier {
	return &Verifier{Detector: detector}
}

// VerifyAndRecordBlocks checks logs against the chain's current state for
// the given range and records new block hashes, discarding the fetched
// headers.
func (v *Verifier) VerifyAndRecordBlocks(ctx context.Context, logs []types.Log, fromBlock, toBlock uint64) error {
	_, err := v.Detector.VerifyAndRecordBlocks(ctx, logs, fromBlock, toBlock)
	return err
}
