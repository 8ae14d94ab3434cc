package indexing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"github.com/chain-relay/evmindexor/internal/logger"
	"github.com/chain-relay/evmindexor/pkg/provider"
)

// Phase is a fetcher's position in the Backfilling -> Catching-up -> Tailing
// state machine (spec §4.2a).
type Phase int

const (
	PhaseBackfilling Phase = iota
	PhaseCatchingUp
	PhaseTailing
)

func (p Phase) String() string {
	switch p {
	case PhaseBackfilling:
		return "backfilling"
	case PhaseCatchingUp:
		return "catching-up"
	case PhaseTailing:
		return "tailing"
	default:
		return "unknown"
	}
}

// FetcherConfig controls window sizing, retry behavior, and tailing cadence.
type FetcherConfig struct {
	// MaxRange is the ceiling a window grows back toward after a shrink.
	MaxRange uint64
	// MinRange is the floor a window never shrinks below.
	MinRange uint64

	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// TailInterval is how often Tailing polls the provider for a new head.
	TailInterval time.Duration

	// SafeDistance, when non-zero, is subtracted from latest_block to
	// derive the reorg-safe end in both the catching-up and tailing
	// phases.
	SafeDistance uint64

	// Verifier, when set, is consulted after every successful window fetch
	// for an additional hash-chain continuity check.
	Verifier HashChainVerifier
}

// ApplyDefaults fills zero-valued fields with the package's defaults.
func (c *FetcherConfig) ApplyDefaults() {
	if c.MaxRange == 0 {
		c.MaxRange = 10000
	}
	if c.MinRange == 0 {
		c.MinRange = 1
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.TailInterval == 0 {
		c.TailInterval = 2 * time.Second
	}
}

// FetchResult is one yielded window of the log fetcher's sequence.
type FetchResult struct {
	Logs  []types.Log
	Range BlockRange
}

// Fetcher is a lazy, pull-based sequence of FetchResults for one (event,
// network-contract) unit. Call Next repeatedly until it reports done.
// Cancelling ctx at any call releases the provider connection; Next never
// blocks past ctx.Done().
type Fetcher struct {
	topic0   common.Hash
	nc       *NetworkContract
	provider provider.Provider
	cfg      FetcherConfig
	log      *logger.Logger

	cursor uint64
	end    uint64
	live   bool
	w      uint64
	phase  Phase

	// tailLimiter paces Tailing polls at cfg.TailInterval. A rate limiter
	// generalizes the raw sleep: it also absorbs the time spent on the
	// window fetch itself, so slow fetches don't stack up extra delay on
	// top of the poll interval.
	tailLimiter *rate.Limiter
}

// NewFetcher constructs a Fetcher starting at start (inclusive) through end
// (inclusive). live indicates whether the sequence should continue tailing
// the chain head once the historical span completes.
func NewFetcher(topic0 common.Hash, nc *NetworkContract, p provider.Provider, start, end uint64, live bool, cfg FetcherConfig, log *logger.Logger) *Fetcher {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Fetcher{
		topic0:      topic0,
		nc:          nc,
		provider:    p,
		cfg:         cfg,
		log:         log.WithComponent("log-fetcher"),
		cursor:      start,
		end:         end,
		live:        live,
		w:           cfg.MaxRange,
		phase:       PhaseBackfilling,
		tailLimiter: rate.NewLimiter(rate.Every(cfg.TailInterval), 1),
	}
}

// Phase reports the fetcher's current state-machine phase.
func (f *Fetcher) Phase() Phase { return f.phase }

// Next advances the sequence and returns the next non-empty window, or
// reports done=true once a non-live sequence has exhausted its configured
// end block. Empty windows are consumed internally and never yielded,
// matching the dispatcher's "no empty batches" contract.
func (f *Fetcher) Next(ctx context.Context) (result *FetchResult, done bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		switch f.phase {
		case PhaseBackfilling, PhaseCatchingUp:
			if f.cursor > f.end {
				if !f.live {
					return nil, true, nil
				}
				f.phase = PhaseCatchingUp
				if err := f.catchUp(ctx); err != nil {
					return nil, false, err
				}
				continue
			}

			to := f.end
			if width := to - f.cursor + 1; width > f.w {
				to = f.cursor + f.w - 1
			}

			logs, actualTo, err := f.fetchWindow(ctx, f.cursor, to)
			if err != nil {
				return nil, false, err
			}

			rng := BlockRange{From: f.cursor, To: actualTo}
			f.cursor = actualTo + 1

			if len(logs) == 0 {
				continue
			}
			return &FetchResult{Logs: logs, Range: rng}, false, nil

		case PhaseTailing:
			if err := f.tailLimiter.Wait(ctx); err != nil {
				return nil, false, err
			}

			newEnd, err := f.safeHead(ctx)
			if err != nil {
				return nil, false, err
			}
			if newEnd < f.cursor {
				continue
			}

			to := newEnd
			if width := to - f.cursor + 1; width > f.w {
				to = f.cursor + f.w - 1
			}

			logs, actualTo, err := f.fetchWindow(ctx, f.cursor, to)
			if err != nil {
				return nil, false, err
			}

			rng := BlockRange{From: f.cursor, To: actualTo}
			f.cursor = actualTo + 1

			if len(logs) == 0 {
				continue
			}
			return &FetchResult{Logs: logs, Range: rng}, false, nil

		default:
			return nil, true, fmt.Errorf("indexing: unknown fetcher phase %v", f.phase)
		}
	}
}

// catchUp re-queries the head and either extends the historical end (the
// gap is still open) or transitions into Tailing (the gap has closed).
func (f *Fetcher) catchUp(ctx context.Context) error {
	newEnd, err := f.safeHead(ctx)
	if err != nil {
		return err
	}

	if newEnd <= f.end {
		f.phase = PhaseTailing
		return nil
	}

	f.end = newEnd
	return nil
}

// safeHead resolves the provider's current head and applies the configured
// reorg safe distance.
func (f *Fetcher) safeHead(ctx context.Context) (uint64, error) {
	latest, err := f.provider.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	if f.cfg.SafeDistance == 0 {
		return latest, nil
	}

	incReorgClamp(f.nc.Network)
	if latest <= f.cfg.SafeDistance {
		return 0, nil
	}
	return latest - f.cfg.SafeDistance, nil
}

// fetchWindow issues provider.GetLogs for [from, to], adaptively shrinking
// the window on range-too-wide errors and retrying with backoff on
// transient/rate-limited errors. Returns the logs retrieved and the actual
// "to" used, which may be less than requested if the window had to shrink.
func (f *Fetcher) fetchWindow(ctx context.Context, from, to uint64) ([]types.Log, uint64, error) {
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		start := time.Now()
		query := BuildFilter(f.topic0, f.nc, BlockRange{From: from, To: to})
		logs, err := f.provider.GetLogs(ctx, query)
		observeFetchDuration(f.nc.Network, time.Since(start))

		if err == nil {
			f.growWindow()
			if f.cfg.Verifier != nil {
				if verr := f.cfg.Verifier.VerifyAndRecordBlocks(ctx, logs, from, to); verr != nil {
					return nil, 0, fmt.Errorf("reorg check failed for range [%d,%d]: %w", from, to, verr)
				}
			}
			return logs, to, nil
		}

		var rangeErr *provider.RangeTooWideError
		if errors.As(err, &rangeErr) {
			f.shrinkWindow(rangeErr)
			incRangeShrink(f.nc.Network)
			to = from + f.w - 1
			f.log.Debugw("shrinking fetch window after range-too-wide error", "network", f.nc.Network, "new_width", f.w)
			continue
		}

		var rateErr *provider.RateLimitedError
		if errors.As(err, &rateErr) {
			attempt++
			if attempt > f.cfg.MaxRetries {
				return nil, 0, fmt.Errorf("rate limited after %d attempts: %w", attempt, err)
			}
			wait := rateErr.RetryAfter
			if wait == 0 {
				wait = f.backoff(attempt)
			}
			if sleepErr := f.sleep(ctx, wait); sleepErr != nil {
				return nil, 0, sleepErr
			}
			continue
		}

		var transientErr *provider.TransientError
		if errors.As(err, &transientErr) {
			attempt++
			if attempt > f.cfg.MaxRetries {
				return nil, 0, fmt.Errorf("transient provider error after %d attempts: %w", attempt, err)
			}
			if sleepErr := f.sleep(ctx, f.backoff(attempt)); sleepErr != nil {
				return nil, 0, sleepErr
			}
			continue
		}

		// Fatal or unclassified: surface immediately, no retry.
		return nil, 0, err
	}
}

// shrinkWindow halves the window width, or jumps straight to a
// provider-suggested width when one is given, never going below MinRange.
func (f *Fetcher) shrinkWindow(rangeErr *provider.RangeTooWideError) {
	if rangeErr.Suggested != nil && rangeErr.Suggested.To >= rangeErr.Suggested.From {
		width := rangeErr.Suggested.To - rangeErr.Suggested.From + 1
		if width < f.w {
			f.w = width
		}
	} else {
		f.w /= 2
	}
	if f.w < f.cfg.MinRange {
		f.w = f.cfg.MinRange
	}
}

// growWindow gently grows the window back toward its ceiling after a
// successful fetch, rather than snapping back immediately.
func (f *Fetcher) growWindow() {
	if f.w >= f.cfg.MaxRange {
		f.w = f.cfg.MaxRange
		return
	}
	grown := f.w + f.w/4 + 1
	if grown > f.cfg.MaxRange {
		grown = f.cfg.MaxRange
	}
	f.w = grown
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	d := float64(f.cfg.InitialBackoff) * math.Pow(f.cfg.BackoffMultiplier, float64(attempt-1))
	if d > float64(f.cfg.MaxBackoff) {
		d = float64(f.cfg.MaxBackoff)
	}
	jitterRange := d * 0.25
	d += (rand.Float64()*2 - 1) * jitterRange
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
