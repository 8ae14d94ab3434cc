// Package indexing implements the block-range indexing engine: planning
// work across contracts, networks and events, fetching logs in adaptive
// ranges, dispatching decoded batches to registered handlers, checkpointing
// progress, and tailing the chain head once backfill completes.
package indexing

import (
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/chain-relay/evmindexor/pkg/provider"
)

// IndexingMode describes how a NetworkContract's filter is constructed.
type IndexingMode int

const (
	// ModeAddress constrains the filter to one or more concrete addresses.
	ModeAddress IndexingMode = iota
	// ModeFilter constrains the filter to topics only, no address.
	ModeFilter
	// ModeFactory behaves like ModeAddress using a factory contract's
	// address; dynamic child-address discovery is a factory adapter's
	// responsibility and happens upstream of this package.
	ModeFactory
)

func (m IndexingMode) String() string {
	switch m {
	case ModeAddress:
		return "address"
	case ModeFilter:
		return "filter"
	case ModeFactory:
		return "factory"
	default:
		return "unknown"
	}
}

var networkContractSeq int64

// nextNetworkContractID returns a process-local, monotonically increasing
// id. Stability only needs to hold within one process run, so a counter is
// simpler than a UUID and keeps unit tests deterministic.
func nextNetworkContractID() string {
	n := atomic.AddInt64(&networkContractSeq, 1)
	return "nc-" + strconv.FormatInt(n, 10)
}

// NetworkContract binds an event to one network: the provider to fetch
// from, the block span to cover, and the filter shape to build. It is
// immutable after construction.
type NetworkContract struct {
	ID      string
	Network string
	ChainID uint64
	Mode    IndexingMode

	// Addresses holds the concrete address set for ModeAddress, or the
	// factory contract address (as its sole element) for ModeFactory.
	Addresses []common.Address

	// IndexedTopics holds additional indexed-topic constraints (topic1..3)
	// used by ModeFilter and, optionally, ModeAddress/ModeFactory.
	IndexedTopics [][]common.Hash

	FactoryEvent string
	FactoryParam string

	StartBlock *uint64
	EndBlock   *uint64
	ReorgSafe  bool

	Provider provider.Provider
}

// NewNetworkContract constructs a NetworkContract with a fresh process-local id.
func NewNetworkContract(network string, chainID uint64, provider provider.Provider, mode IndexingMode) *NetworkContract {
	return &NetworkContract{
		ID:       nextNetworkContractID(),
		Network:  network,
		ChainID:  chainID,
		Mode:     mode,
		Provider: provider,
	}
}

// IsLive reports whether this contract has no configured end block, meaning
// the unit should keep tailing the chain head after backfill completes.
func (nc *NetworkContract) IsLive() bool {
	return nc.EndBlock == nil
}

// EventDescriptor names one event of interest across one or more networks.
// It is immutable once constructed; NetworkContract bindings are appended
// at manifest-resolution time, upstream of this package.
type EventDescriptor struct {
	IndexerName  string
	ContractName string
	EventName    string
	Topic0       common.Hash
	Networks     []*NetworkContract
}

// BlockRange is a closed interval [From, To] of non-negative block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

// Width returns the number of blocks covered by the range, inclusive.
func (r BlockRange) Width() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}
