package indexing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chain-relay/evmindexor/internal/logger"
	"github.com/chain-relay/evmindexor/internal/metrics"
)

// StartIndexingSettings controls the supervisor's concurrency and ordering
// policy.
type StartIndexingSettings struct {
	// MaxConcurrency bounds concurrent in-flight fetch-and-dispatch units
	// across all events. Default 100.
	MaxConcurrency int64

	// ExecuteInEventOrder, if true, runs every (event, network-contract)
	// unit serially in registration order. If false, all units launch
	// together and are joined at the end.
	ExecuteInEventOrder bool

	// ExecuteEventLogsInOrder selects the dispatch mode used for every
	// unit's batches: in-order (true) or detached (false).
	ExecuteEventLogsInOrder bool

	// Fetcher is the template FetcherConfig applied to every unit; its
	// SafeDistance field is overridden per-unit when the unit's contract
	// is reorg-safe, and its Verifier is dropped for units whose contract
	// is not.
	Fetcher FetcherConfig
}

// ApplyDefaults fills zero-valued fields with the package's defaults.
func (s *StartIndexingSettings) ApplyDefaults() {
	if s.MaxConcurrency == 0 {
		s.MaxConcurrency = 100
	}
}

type unit struct {
	event *EventDescriptor
	nc    *NetworkContract
}

// StartIndexing runs every (event, network-contract) unit in registry's
// completed events against store, honoring settings' concurrency and
// ordering policy. It returns when every non-live unit has reached its end
// block, or when ctx is cancelled. Live units terminate only on
// cancellation, so StartIndexing with any live unit present returns only on
// cancellation (or the first unrecoverable unit error, in sequential mode).
func StartIndexing(ctx context.Context, registry *Registry, store ProgressStore, events []*EventDescriptor, settings StartIndexingSettings, log *logger.Logger) error {
	settings.ApplyDefaults()
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithComponent("indexing-supervisor")

	units := make([]unit, 0)
	for _, event := range events {
		for _, nc := range event.Networks {
			units = append(units, unit{event: event, nc: nc})
		}
	}

	sem := semaphore.NewWeighted(settings.MaxConcurrency)

	if settings.ExecuteInEventOrder {
		for _, u := range units {
			if err := runUnit(ctx, u, registry, store, sem, settings, log); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, u := range units {
		u := u
		g.Go(func() error {
			return runUnit(ctx, u, registry, store, sem, settings, log)
		})
	}
	return g.Wait()
}

// runUnit drives one (event, network-contract) unit to completion: resolving
// its start/end, constructing its fetcher, and looping fetch -> dispatch ->
// checkpoint until the fetcher reports done or ctx is cancelled.
func runUnit(ctx context.Context, u unit, registry *Registry, store ProgressStore, sem *semaphore.Weighted, settings StartIndexingSettings, log *logger.Logger) error {
	event, nc := u.event, u.nc
	unitDesc := fmt.Sprintf("%s/%s/%s/%s", event.IndexerName, event.ContractName, event.EventName, nc.Network)
	unitLog := log.WithComponent("unit:" + unitDesc)

	latest, err := nc.Provider.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("unit %s: resolving latest block: %w", unitDesc, err)
	}

	key := ProgressKey{
		IndexerName:  event.IndexerName,
		ContractName: event.ContractName,
		EventName:    event.EventName,
		Network:      nc.Network,
	}

	start := latest
	if nc.StartBlock != nil {
		start = *nc.StartBlock
	}
	if lastSynced, found, err := store.GetLastSynced(ctx, key); err != nil {
		unitLog.Warnw("progress store read failed, treating as no prior progress", "error", err)
	} else if found {
		start = lastSynced + 1
	}

	end := latest
	if nc.EndBlock != nil && *nc.EndBlock < end {
		end = *nc.EndBlock
	}

	fetcherCfg := settings.Fetcher
	if nc.ReorgSafe {
		safe := SafeDistance(nc.ChainID)
		if safe > 0 {
			if end >= safe {
				end -= safe
			} else {
				end = 0
			}
			incReorgClamp(nc.Network)
		}
		fetcherCfg.SafeDistance = safe
	} else {
		fetcherCfg.Verifier = nil
	}

	live := nc.IsLive()

	if start > end && !live {
		unitLog.Debugw("nothing to index, already caught up", "start", start, "end", end)
		return nil
	}

	fetcher := NewFetcher(event.Topic0, nc, nc.Provider, start, end, live, fetcherCfg, log)

	mode := "detached"
	if settings.ExecuteEventLogsInOrder {
		mode = "in-order"
	}

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		permitsInUse.Inc()

		res, done, err := fetcher.Next(ctx)
		if err != nil {
			sem.Release(1)
			permitsInUse.Dec()
			return fmt.Errorf("unit %s: %w", unitDesc, err)
		}
		if done {
			sem.Release(1)
			permitsInUse.Dec()
			return nil
		}

		processingStart := time.Now()

		incDispatch(mode)
		if err := registry.Trigger(ctx, event.Topic0, res.Logs, settings.ExecuteEventLogsInOrder); err != nil {
			unitLog.Errorw("handler returned an error", "range", res.Range, "error", err)
		}

		if err := store.SetLastSynced(ctx, key, res.Range.To); err != nil {
			unitLog.Warnw("progress store write failed, will retry on next batch", "block", res.Range.To, "error", err)
		}

		recordUnitMetrics(unitDesc, len(res.Logs), res.Range, processingStart)

		sem.Release(1)
		permitsInUse.Dec()
	}
}

// recordUnitMetrics reports one unit's dispatched batch to the process-wide
// indexing metrics: blocks/logs processed, the last block checkpointed, and
// the resulting processing rate.
func recordUnitMetrics(unitDesc string, numLogs int, rng BlockRange, processingStart time.Time) {
	blocksProcessed := rng.Width()
	metrics.LogsIndexedInc(unitDesc, numLogs)
	metrics.BlocksProcessedInc(unitDesc, blocksProcessed)
	metrics.LastIndexedBlockInc(unitDesc, rng.To)

	elapsed := time.Since(processingStart)
	metrics.BlockProcessingTimeLog(unitDesc, elapsed)

	seconds := elapsed.Seconds()
	if seconds == 0 {
		seconds = 1
	}
	metrics.IndexingRateLog(unitDesc, float64(blocksProcessed)/seconds)
}
