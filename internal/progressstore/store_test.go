package progressstore

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/chain-relay/evmindexor/pkg/indexing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil)
}

func TestStore_GetLastSynced_NotFound(t *testing.T) {
	store := newTestStore(t)
	key := indexing.ProgressKey{IndexerName: "erc20", ContractName: "usdc", EventName: "transfer", Network: "mainnet"}

	_, found, err := store.GetLastSynced(context.Background(), key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_SetAndGetLastSynced(t *testing.T) {
	store := newTestStore(t)
	key := indexing.ProgressKey{IndexerName: "erc20", ContractName: "usdc", EventName: "transfer", Network: "mainnet"}

	require.NoError(t, store.SetLastSynced(context.Background(), key, 100))

	block, found, err := store.GetLastSynced(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(100), block)
}

func TestStore_SetLastSynced_ConditionalWrite(t *testing.T) {
	store := newTestStore(t)
	key := indexing.ProgressKey{IndexerName: "erc20", ContractName: "usdc", EventName: "transfer", Network: "mainnet"}

	require.NoError(t, store.SetLastSynced(context.Background(), key, 100))
	require.NoError(t, store.SetLastSynced(context.Background(), key, 50))

	block, found, err := store.GetLastSynced(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(100), block, "a non-increasing write must leave the stored value unchanged")
}

func TestStore_SetLastSynced_EqualValueIsNoop(t *testing.T) {
	store := newTestStore(t)
	key := indexing.ProgressKey{IndexerName: "erc20", ContractName: "usdc", EventName: "transfer", Network: "mainnet"}

	require.NoError(t, store.SetLastSynced(context.Background(), key, 100))
	require.NoError(t, store.SetLastSynced(context.Background(), key, 100))

	block, _, err := store.GetLastSynced(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, uint64(100), block)
}

func TestStore_SeparateNetworksIndependent(t *testing.T) {
	store := newTestStore(t)
	base := indexing.ProgressKey{IndexerName: "erc20", ContractName: "usdc", EventName: "transfer"}
	mainnet := base
	mainnet.Network = "mainnet"
	optimism := base
	optimism.Network = "optimism"

	require.NoError(t, store.SetLastSynced(context.Background(), mainnet, 100))
	require.NoError(t, store.SetLastSynced(context.Background(), optimism, 5))

	mBlock, _, err := store.GetLastSynced(context.Background(), mainnet)
	require.NoError(t, err)
	require.Equal(t, uint64(100), mBlock)

	oBlock, _, err := store.GetLastSynced(context.Background(), optimism)
	require.NoError(t, err)
	require.Equal(t, uint64(5), oBlock)
}

func TestStore_SeparateEventsGetSeparateTables(t *testing.T) {
	store := newTestStore(t)
	transfer := indexing.ProgressKey{IndexerName: "erc20", ContractName: "usdc", EventName: "transfer", Network: "mainnet"}
	approval := indexing.ProgressKey{IndexerName: "erc20", ContractName: "usdc", EventName: "approval", Network: "mainnet"}

	require.NoError(t, store.SetLastSynced(context.Background(), transfer, 100))

	_, found, err := store.GetLastSynced(context.Background(), approval)
	require.NoError(t, err)
	require.False(t, found, "a different event name must not see another event's progress")
}

func TestTableName_RejectsUnsafeIdentifiers(t *testing.T) {
	_, err := tableName(indexing.ProgressKey{IndexerName: "erc20; DROP TABLE x;--", ContractName: "usdc", EventName: "transfer"})
	require.Error(t, err)
}
