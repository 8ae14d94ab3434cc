package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chain-relay/evmindexor/pkg/indexing"
	"github.com/chain-relay/evmindexor/pkg/provider"
)

// Manifest is the thin, unvalidated description of what to index: a list
// of logical indexers, each owning one or more contracts, each owning one
// or more events, each bound to one or more networks. Loading it is
// deliberately dumb — no cross-field checks, no defaulting beyond what
// indexing.NetworkContract already does — because manifest validation is
// out of scope; a malformed manifest surfaces as a resolution error or a
// provider dial failure, not a load-time one.
type Manifest struct {
	Indexers []IndexerManifest `toml:"indexers"`
}

// IndexerManifest groups the contracts one logical indexer watches.
type IndexerManifest struct {
	Name      string             `toml:"name"`
	Contracts []ContractManifest `toml:"contracts"`
}

// ContractManifest groups the events of interest on one logical contract.
type ContractManifest struct {
	Name   string          `toml:"name"`
	Events []EventManifest `toml:"events"`
}

// EventManifest names one Solidity event signature and the networks it
// should be indexed on.
type EventManifest struct {
	Name      string            `toml:"name"`
	Signature string            `toml:"signature"`
	Networks  []NetworkManifest `toml:"networks"`
}

// NetworkManifest binds an event to one network: where to dial, what
// address(es) to filter on, and where to start/stop.
type NetworkManifest struct {
	Network    string   `toml:"network"`
	ChainID    uint64   `toml:"chain_id"`
	RPCURL     string   `toml:"rpc_url"`
	Mode       string   `toml:"mode"` // "address" (default), "filter", "factory"
	Addresses  []string `toml:"addresses"`
	StartBlock *uint64  `toml:"start_block"`
	EndBlock   *uint64  `toml:"end_block"`
	ReorgSafe  bool     `toml:"reorg_safe"`
}

// LoadManifest reads and decodes the TOML manifest at path. It performs no
// validation beyond what toml.Decode itself requires.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", path, err)
	}
	return &m, nil
}

func parseMode(s string) indexing.IndexingMode {
	switch s {
	case "filter":
		return indexing.ModeFilter
	case "factory":
		return indexing.ModeFactory
	default:
		return indexing.ModeAddress
	}
}

// eventDescriptors resolves every EventManifest in m into an
// indexing.EventDescriptor. dial is called once per distinct (network,
// rpc_url) pair encountered and its result cached, so contracts sharing a
// network don't each open their own connection.
func eventDescriptors(m *Manifest, dial func(network, rpcURL string, chainID uint64) (provider.Provider, error)) ([]*indexing.EventDescriptor, error) {
	dialed := make(map[string]provider.Provider)
	events := make([]*indexing.EventDescriptor, 0)

	for _, idx := range m.Indexers {
		for _, contract := range idx.Contracts {
			for _, ev := range contract.Events {
				desc := &indexing.EventDescriptor{
					IndexerName:  idx.Name,
					ContractName: contract.Name,
					EventName:    ev.Name,
					Topic0:       crypto.Keccak256Hash([]byte(ev.Signature)),
				}

				for _, net := range ev.Networks {
					key := net.Network + "|" + net.RPCURL
					p, ok := dialed[key]
					if !ok {
						var err error
						p, err = dial(net.Network, net.RPCURL, net.ChainID)
						if err != nil {
							return nil, fmt.Errorf("indexer %s/%s/%s: dialing %s: %w", idx.Name, contract.Name, ev.Name, net.Network, err)
						}
						dialed[key] = p
					}

					nc := indexing.NewNetworkContract(net.Network, net.ChainID, p, parseMode(net.Mode))
					nc.StartBlock = net.StartBlock
					nc.EndBlock = net.EndBlock
					nc.ReorgSafe = net.ReorgSafe
					for _, a := range net.Addresses {
						nc.Addresses = append(nc.Addresses, common.HexToAddress(a))
					}

					desc.Networks = append(desc.Networks, nc)
				}

				events = append(events, desc)
			}
		}
	}

	return events, nil
}
