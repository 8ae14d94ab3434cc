package indexing

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder turns raw logs into an opaque decoded payload the handler
// registered for the same topic knows how to narrow. A decoder failure on
// one log is isolated: the remaining logs in the batch still reach the
// handler.
type Decoder func(log types.Log) (any, error)

// Handler receives a decoded batch for one fetch window. Handler errors are
// reported to ErrorSink and never abort the pipeline.
type Handler func(ctx context.Context, batch []DecodedEvent) error

// DecodedEvent pairs a raw log with its decoded payload, or the error that
// prevented decoding it.
type DecodedEvent struct {
	Log     types.Log
	Payload any
	Err     error
}

// ErrorSink receives the errors returned by handlers, in both dispatch modes.
type ErrorSink func(topic common.Hash, err error)

type registration struct {
	decoder Decoder
	handler Handler
}

// Registry is the topic-keyed callback table. Registration is write-once at
// startup; after Complete() the registry is read-only and safe for
// concurrent Trigger calls from multiple units.
type Registry struct {
	mu            sync.RWMutex
	entries       map[common.Hash]registration
	completed     bool
	errSink       ErrorSink
}

// NewRegistry constructs an empty, open registry. errSink receives handler
// errors from both dispatch modes; pass nil to discard them.
func NewRegistry(errSink ErrorSink) *Registry {
	if errSink == nil {
		errSink = func(common.Hash, error) {}
	}
	return &Registry{
		entries: make(map[common.Hash]registration),
		errSink: errSink,
	}
}

// Register binds a decoder and handler to topic0. Panics if called after
// Complete(): registering handlers is a startup-time-only operation and a
// late registration is a programmer bug, not a runtime condition to recover
// from.
func (r *Registry) Register(topic0 common.Hash, decoder Decoder, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completed {
		panic("indexing: Register called after Complete()")
	}

	r.entries[topic0] = registration{decoder: decoder, handler: handler}
}

// Complete freezes the registry. Subsequent Register calls panic.
func (r *Registry) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
}

// Trigger decodes and dispatches logs to the handler registered under
// topic0. Logs must already be in provider order; Trigger never reorders or
// splits the batch. A missing registration is a fatal programmer error.
//
// In in-order mode, Trigger blocks until the handler returns. In detached
// mode, the handler runs in its own goroutine and Trigger returns as soon as
// the batch has been handed off. In both modes handler errors reach errSink
// instead of the caller.
func (r *Registry) Trigger(ctx context.Context, topic0 common.Hash, logs []types.Log, inOrder bool) error {
	r.mu.RLock()
	reg, ok := r.entries[topic0]
	errSink := r.errSink
	r.mu.RUnlock()

	if !ok {
		panic(fmt.Sprintf("indexing: no handler registered for topic %s", topic0.Hex()))
	}

	batch := make([]DecodedEvent, len(logs))
	for i, log := range logs {
		payload, err := reg.decoder(log)
		batch[i] = DecodedEvent{Log: log, Payload: payload, Err: err}
	}

	if inOrder {
		if err := reg.handler(ctx, batch); err != nil {
			errSink(topic0, err)
		}
		return nil
	}

	go func() {
		if err := reg.handler(ctx, batch); err != nil {
			errSink(topic0, err)
		}
	}()
	return nil
}
