// Package processor defines the domain-processor contract: the seam a
// concrete deployment (span ingestion, metric aggregation, error
// forwarding) plugs into. This package never imports a concrete domain
// package.
package processor

import (
	"context"
	"time"

	"github.com/gmbyapa/grouphost/stream"
)

// Batch is the slice of decoded events handed to Process for one drain
// of a processor host's queue.
type Batch []interface{}

// Processor consumes decoded events for a single stream. The same
// instance may be shared across streams via a Provider's cache; it
// must not assume it is the only owner of the stream it was asked about.
type Processor interface {
	// StartTimestampOnRebalance is called at most once per stream per
	// rebalance, before the host accepts the assignment. A non-nil
	// return means "resume every newly-assigned partition from the
	// earliest offset whose record timestamp is >= this wall time."
	// A nil return means "resume from the broker's last commit."
	// Must be idempotent within one rebalance.
	StartTimestampOnRebalance(streamName stream.Name) (*time.Time, error)

	// Process consumes a batch of decoded events. It may block; it must
	// observe ctx and return promptly once ctx is done.
	Process(ctx context.Context, batch Batch) error
}

// Provider returns (or creates and caches) the Processor for a stream.
// Not called concurrently by contract.
type Provider interface {
	Get(streamName stream.Name) (Processor, error)
}
