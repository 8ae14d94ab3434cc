package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockRange_Width(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		r     BlockRange
		width uint64
	}{
		{"single block", BlockRange{From: 10, To: 10}, 1},
		{"ten blocks", BlockRange{From: 100, To: 109}, 10},
		{"inverted is empty", BlockRange{From: 10, To: 5}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.width, tc.r.Width())
		})
	}
}

func TestNetworkContract_IsLive(t *testing.T) {
	t.Parallel()

	nc := NewNetworkContract("mainnet", 1, nil, ModeAddress)
	require.True(t, nc.IsLive(), "no end block configured means the unit is live")

	end := uint64(100)
	nc.EndBlock = &end
	require.False(t, nc.IsLive())
}

func TestNewNetworkContract_AssignsDistinctIDs(t *testing.T) {
	t.Parallel()

	a := NewNetworkContract("mainnet", 1, nil, ModeAddress)
	b := NewNetworkContract("mainnet", 1, nil, ModeAddress)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
}

func TestIndexingMode_String(t *testing.T) {
	t.Parallel()

	cases := map[IndexingMode]string{
		ModeAddress:     "address",
		ModeFilter:      "filter",
		ModeFactory:     "factory",
		IndexingMode(99): "unknown",
	}
	for mode, want := range cases {
		assert.Equal(t, want, mode.String())
	}
}
