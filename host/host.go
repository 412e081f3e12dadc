// Package host implements the processor host: the per-stream bounded
// queue plus single worker goroutine that batches records and invokes a
// domain Processor.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/gmbyapa/grouphost/codec"
	"github.com/gmbyapa/grouphost/pkg/async"
	"github.com/gmbyapa/grouphost/pkg/errors"
	"github.com/gmbyapa/grouphost/processor"
	"github.com/gmbyapa/grouphost/stream"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Config configures one processor host instance.
type Config struct {
	StreamName    stream.Name
	Processor     processor.Processor
	Codec         codec.Codec
	QueueSize     int
	MaxBatchSize  int
	Cancel        context.Context // fires when the process wants every host to abandon work
	FatalSignal   chan<- error    // buffered(1); a process() failure is reported here
	Logger        log.Logger
	MetricsReport metrics.Reporter
}

// Host owns one stream: a bounded queue with exactly one producer (the
// poll thread) and one consumer (its own worker goroutine).
type Host struct {
	cfg Config

	queue chan *stream.Record

	startOnce sync.Once

	sealOnce sync.Once
	done     chan struct{} // closed when the worker goroutine returns

	logger  log.Logger
	metrics struct {
		queueDepth metrics.Gauge
		batchSize  metrics.Observer
		decodeErrs metrics.Counter
	}
}

// New builds a processor host for one stream. Start must be called
// exactly once before Enqueue.
func New(cfg Config) *Host {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	logger := cfg.Logger.NewLog(log.Prefixed(fmt.Sprintf(`ProcessorHost[%s]`, cfg.StreamName)))
	reporter := cfg.MetricsReport.Reporter(metrics.ReporterConf{
		Subsystem:   `processor_host`,
		ConstLabels: map[string]string{`stream`: string(cfg.StreamName)},
	})

	h := &Host{
		cfg:    cfg,
		queue:  make(chan *stream.Record, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	h.metrics.queueDepth = reporter.Gauge(metrics.MetricConf{Path: `queue_depth`})
	h.metrics.batchSize = reporter.Observer(metrics.MetricConf{Path: `batch_size`})
	h.metrics.decodeErrs = reporter.Counter(metrics.MetricConf{Path: `decode_errors_total`})

	return h
}

// Start spawns the single worker goroutine. Calling it twice is a
// programmer error and returns an error rather than spawning a second
// worker.
func (h *Host) Start() error {
	started := false
	h.startOnce.Do(func() {
		started = true
		go h.run()
	})
	if !started {
		return errors.New(fmt.Sprintf(`processor host for %s already started`, h.cfg.StreamName))
	}
	return nil
}

// Enqueue hands a record to this stream's queue. It blocks while the
// queue is full — the intentional backpressure mechanism — and only
// returns early if the shared cancel token fires first, so a hard
// shutdown can never deadlock the poll thread against a dead worker.
func (h *Host) Enqueue(record *stream.Record) error {
	select {
	case h.queue <- record:
		h.metrics.queueDepth.Count(float64(len(h.queue)), nil)
		return nil
	case <-h.cfg.Cancel.Done():
		return h.cfg.Cancel.Err()
	}
}

// CompleteAdding seals the queue; no further Enqueue calls are accepted
// and the worker goroutine will exit once it has drained what remains.
func (h *Host) CompleteAdding() {
	h.sealOnce.Do(func() {
		close(h.queue)
	})
}

// Join waits for the worker goroutine to exit.
func (h *Host) Join() {
	<-h.done
}

func (h *Host) run() {
	defer close(h.done)
	defer async.LogPanicTrace(h.logger)

	b := newBatcher(h.cfg.MaxBatchSize)

	flush := func() {
		if b.len() == 0 {
			return
		}
		events := b.drain()
		h.metrics.batchSize.Observe(float64(len(events)), nil)
		if err := h.cfg.Processor.Process(h.cfg.Cancel, events); err != nil {
			h.logger.Fatal(fmt.Sprintf(`processor for stream %s failed: %s`, h.cfg.StreamName, err))
			h.reportFatal(errors.Wrap(err, fmt.Sprintf(`process failed for stream %s`, h.cfg.StreamName)))
		}
	}

	decode := func(rec *stream.Record) (interface{}, bool) {
		event, err := h.cfg.Codec.Decode(rec.Stream, rec.Value)
		if err != nil {
			h.metrics.decodeErrs.Count(1, nil)
			h.logger.Error(fmt.Sprintf(`dropping malformed record %s: %s`, rec, err))
			return nil, false
		}
		return event, true
	}

drainLoop:
	for {
		// Priority 1 is checked ahead of the queue on every iteration so a
		// cancellation already in effect always wins, even though a sealed
		// queue with data ready would otherwise make select's case choice
		// nondeterministic.
		select {
		case <-h.cfg.Cancel.Done():
			return
		default:
		}

		select {
		case <-h.cfg.Cancel.Done():
			// Priority 1: discard in-flight batch, exit without flushing.
			return
		case rec, ok := <-h.queue:
			if !ok {
				// Priority 2: sealed and empty. Flush whatever remains and exit.
				flush()
				return
			}
			if event, ok := decode(rec); ok {
				if full := b.add(rec, event); full {
					flush()
					continue drainLoop
				}
			}

			// Opportunistically keep draining without blocking, up to MaxBatchSize.
		fillLoop:
			for b.len() < h.cfg.MaxBatchSize {
				select {
				case <-h.cfg.Cancel.Done():
					return
				case rec2, ok2 := <-h.queue:
					if !ok2 {
						flush()
						return
					}
					if event2, ok2 := decode(rec2); ok2 {
						if full := b.add(rec2, event2); full {
							break fillLoop
						}
					}
				default:
					break fillLoop
				}
			}
			flush()
		}
	}
}

func (h *Host) reportFatal(err error) {
	if h.cfg.FatalSignal == nil {
		return
	}
	select {
	case h.cfg.FatalSignal <- err:
	default:
		// already a fatal error pending; this host has no more to say.
	}
}
