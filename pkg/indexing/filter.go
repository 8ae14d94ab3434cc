package indexing

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// BuildFilter turns an event's topic hash, a network contract's indexing
// mode, and a block range into a provider filter query. Factory mode is
// treated identically to Address mode: dynamic child-address expansion, if
// any, is expected to have already substituted nc.Addresses upstream.
func BuildFilter(topic0 common.Hash, nc *NetworkContract, r BlockRange) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Topics:    buildTopics(topic0, nc.IndexedTopics),
	}

	switch nc.Mode {
	case ModeFilter:
		// no address constraint
	case ModeAddress, ModeFactory:
		q.Addresses = nc.Addresses
	}

	return q
}

// buildTopics prepends topic0 to the contract's additional indexed-topic
// constraints. go-ethereum's filter topics are positional: index 0 is
// topic0, index 1 is the first indexed parameter, and so on.
func buildTopics(topic0 common.Hash, indexed [][]common.Hash) [][]common.Hash {
	topics := make([][]common.Hash, 0, len(indexed)+1)
	topics = append(topics, []common.Hash{topic0})
	topics = append(topics, indexed...)
	return topics
}
