// Package ethprovider implements provider.Provider against a live Ethereum
// JSON-RPC endpoint, classifying raw RPC failures into the typed errors the
// indexing engine branches on.
package ethprovider

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/chain-relay/evmindexor/internal/rpc"
	"github.com/chain-relay/evmindexor/pkg/config"
	"github.com/chain-relay/evmindexor/pkg/provider"
	pkgrpc "github.com/chain-relay/evmindexor/pkg/rpc"
)

// Client adapts internal/rpc.Client to provider.Provider, translating its
// errors into the engine's typed error set.
type Client struct {
	eth pkgrpc.EthClient
}

var _ provider.Provider = (*Client)(nil)

// Dial connects to endpoint and wraps the resulting client.
func Dial(ctx context.Context, endpoint string, retry *config.RetryConfig) (*Client, error) {
	c, err := rpc.NewClient(ctx, endpoint, retry)
	if err != nil {
		return nil, classify(err)
	}
	return &Client{eth: c}, nil
}

// New wraps an already-constructed EthClient, e.g. for tests.
func New(eth pkgrpc.EthClient) *Client {
	return &Client{eth: eth}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := c.eth.GetLatestBlockHeader(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return header.Number.Uint64(), nil
}

// ChainID returns the endpoint's chain id.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// GetLogs retrieves logs matching query, classifying range and rate-limit
// failures so the fetcher can shrink its range or back off instead of
// treating every error as fatal.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.GetLogs(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// classify maps a raw internal/rpc error into one of the engine's typed
// provider errors. Order matters: range-too-wide and rate-limit checks run
// before the generic transient/fatal split.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if tooWide, errData := rpc.IsTooManyResultsError(err); tooWide {
		rangeErr := &provider.RangeTooWideError{Err: err}
		if from, to, ok := rpc.ParseSuggestedBlockRange(errData); ok {
			rangeErr.Suggested = &provider.BlockRange{From: from, To: to}
		}
		return rangeErr
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
		return &provider.RateLimitedError{Err: err}
	}

	if isTransient(err, msg) {
		return &provider.TransientError{Err: err}
	}

	return &provider.FatalProviderError{Err: err}
}

func isTransient(err error, msg string) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		// A well-formed JSON-RPC error response that isn't a known
		// too-many-results shape is treated as fatal (bad params, method
		// not found), not transient.
		return false
	}

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "gateway timeout"):
		return true
	}

	return false
}
