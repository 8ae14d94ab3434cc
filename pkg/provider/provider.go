// Package provider defines the JSON-RPC provider contract the indexing
// engine consumes. The concrete go-ethereum-backed implementation lives in
// the ethprovider subpackage; this package only carries the interface and
// the error classification the engine's fetcher branches on.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is the minimal surface the indexing engine needs from a chain
// endpoint: the current head, the chain id, and log retrieval.
type Provider interface {
	// LatestBlock returns the current head block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// ChainID returns the provider's chain id.
	ChainID(ctx context.Context) (uint64, error)

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// RangeTooWideError indicates the provider refused a query because the
// requested block span (or its expected result size) exceeded a limit it
// enforces. Suggested, when the provider's error message carries one, is a
// hint at a range the caller can retry with.
type RangeTooWideError struct {
	Suggested *BlockRange
	Err       error
}

// BlockRange mirrors indexing.BlockRange without importing it, to avoid a
// cycle between provider and indexing.
type BlockRange struct {
	From uint64
	To   uint64
}

func (e *RangeTooWideError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("range too wide: %v", e.Err)
	}
	return "range too wide"
}

func (e *RangeTooWideError) Unwrap() error { return e.Err }

// RateLimitedError indicates the provider rejected the request due to rate
// limiting. RetryAfter, when known, is the provider-suggested wait.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// TransientError wraps a provider failure that is expected to succeed on
// retry: connection resets, timeouts, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalProviderError wraps a provider failure that will not succeed on
// retry: authentication failures, chain-id mismatches, malformed requests.
type FatalProviderError struct {
	Err error
}

func (e *FatalProviderError) Error() string {
	return fmt.Sprintf("fatal provider error: %v", e.Err)
}

func (e *FatalProviderError) Unwrap() error { return e.Err }
