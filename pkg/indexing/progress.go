package indexing

import "context"

// ProgressKey identifies one (indexer, contract, event, network) progress
// record.
type ProgressKey struct {
	IndexerName  string
	ContractName string
	EventName    string
	Network      string
}

// ProgressStore is the durable checkpoint the supervisor reads on startup
// and writes after each dispatched batch. Implementations must make
// SetLastSynced conditional: a write with a value no greater than the
// stored one is a no-op.
type ProgressStore interface {
	// GetLastSynced returns the last synced block for key, and false if no
	// record exists yet.
	GetLastSynced(ctx context.Context, key ProgressKey) (block uint64, found bool, err error)

	// SetLastSynced stores block for key if block is greater than the
	// currently stored value (or no value is stored yet).
	SetLastSynced(ctx context.Context, key ProgressKey, block uint64) error
}
