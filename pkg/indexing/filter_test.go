package indexing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTopic0 = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

func TestBuildFilter_AddressMode(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	nc := &NetworkContract{Mode: ModeAddress, Addresses: []common.Address{addr}}

	q := BuildFilter(testTopic0, nc, BlockRange{From: 10, To: 20})

	require.Equal(t, big.NewInt(10), q.FromBlock)
	require.Equal(t, big.NewInt(20), q.ToBlock)
	assert.Equal(t, []common.Address{addr}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Equal(t, []common.Hash{testTopic0}, q.Topics[0])
}

func TestBuildFilter_FactoryModeBehavesLikeAddress(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xbbbb")
	nc := &NetworkContract{Mode: ModeFactory, Addresses: []common.Address{addr}}

	q := BuildFilter(testTopic0, nc, BlockRange{From: 1, To: 1})
	assert.Equal(t, []common.Address{addr}, q.Addresses)
}

func TestBuildFilter_FilterModeHasNoAddressConstraint(t *testing.T) {
	t.Parallel()

	nc := &NetworkContract{Mode: ModeFilter, Addresses: []common.Address{common.HexToAddress("0xcccc")}}

	q := BuildFilter(testTopic0, nc, BlockRange{From: 1, To: 1})
	assert.Nil(t, q.Addresses)
}

func TestBuildFilter_IndexedTopicsFollowTopic0(t *testing.T) {
	t.Parallel()

	from := common.HexToAddress("0xfrom")
	nc := &NetworkContract{
		Mode:          ModeFilter,
		IndexedTopics: [][]common.Hash{{from.Hash()}},
	}

	q := BuildFilter(testTopic0, nc, BlockRange{From: 1, To: 1})
	require.Len(t, q.Topics, 2)
	assert.Equal(t, []common.Hash{testTopic0}, q.Topics[0])
	assert.Equal(t, []common.Hash{from.Hash()}, q.Topics[1])
}
