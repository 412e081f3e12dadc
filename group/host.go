package group

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmbyapa/grouphost/codec"
	hosting "github.com/gmbyapa/grouphost/host"
	"github.com/gmbyapa/grouphost/pkg/errors"
	"github.com/gmbyapa/grouphost/processor"
	"github.com/gmbyapa/grouphost/stream"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Config wires the consumer group host together.
type Config struct {
	Filter   stream.Filter
	Provider processor.Provider
	Codec    codec.Codec
	Broker   BrokerClient

	PollingInterval            time.Duration
	UpdateSubscriptionInterval time.Duration
	MaxBatchSize               int
	MaxProcessorQueueSize      int

	Stop          context.Context // fires to request a graceful shutdown
	Cancel        context.Context // fires to abandon in-flight work; a hard-cancel escalation above this host
	FatalSignal   chan<- error    // buffered(1); a structural failure is reported here
	Logger        log.Logger
	MetricsReport metrics.Reporter
}

// Host is the singleton consumer group host: it owns the broker client
// and the single poll thread. Everything in the entries table is read
// and written exclusively from that thread.
type Host struct {
	cfg    Config
	logger log.Logger
	metrics struct {
		assignedStreams metrics.Gauge
		rebalances      metrics.Counter
	}

	entries map[stream.Name]*processorEntry

	startOnce sync.Once
	done      chan struct{}

	snapshotReq chan chan Snapshot
}

// New builds a consumer group host. Start must be called exactly once.
func New(cfg Config) *Host {
	logger := cfg.Logger.NewLog(log.Prefixed(`GroupHost`))
	reporter := cfg.MetricsReport.Reporter(metrics.ReporterConf{Subsystem: `group_host`})

	h := &Host{
		cfg:         cfg,
		logger:      logger,
		entries:     make(map[stream.Name]*processorEntry),
		done:        make(chan struct{}),
		snapshotReq: make(chan chan Snapshot),
	}
	h.metrics.assignedStreams = reporter.Gauge(metrics.MetricConf{Path: `assigned_streams`})
	h.metrics.rebalances = reporter.Counter(metrics.MetricConf{Path: `rebalances_total`})

	return h
}

// Start spawns the poll thread. Calling it twice is a programmer error.
func (h *Host) Start() error {
	started := false
	h.startOnce.Do(func() {
		started = true
		go h.run()
	})
	if !started {
		return errors.New(`group host already started`)
	}
	return nil
}

// Join waits for the poll thread to exit.
func (h *Host) Join() {
	<-h.done
}

// Snapshot returns a point-in-time copy of the assignment table,
// produced by the poll thread itself rather than under a lock shared
// with it.
func (h *Host) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case h.snapshotReq <- reply:
	case <-h.done:
		return nil
	}
	select {
	case snap := <-reply:
		return snap
	case <-h.done:
		return nil
	}
}

func (h *Host) run() {
	defer close(h.done)

	subscribed := h.refreshSubscription()
	lastRefresh := time.Now()

	for {
		if h.cfg.Stop.Err() != nil {
			h.shutdown()
			return
		}

		if subscribed {
			if err := h.pollOnce(h.cfg.PollingInterval); err != nil {
				h.fatal(errors.Wrap(err, `poll thread failed`))
				h.shutdown()
				return
			}
		} else {
			time.Sleep(h.cfg.PollingInterval)
		}

		h.serveSnapshotRequests()

		if time.Since(lastRefresh) >= h.cfg.UpdateSubscriptionInterval {
			subscribed = h.refreshSubscription()
			lastRefresh = time.Now()
		}
	}
}

// serveSnapshotRequests answers whatever Snapshot() calls are pending
// without blocking the poll thread on an idle admin surface.
func (h *Host) serveSnapshotRequests() {
	for {
		select {
		case reply := <-h.snapshotReq:
			reply <- h.snapshot()
		default:
			return
		}
	}
}

func (h *Host) snapshot() Snapshot {
	snap := make(Snapshot, 0, len(h.entries))
	for name, e := range h.entries {
		partitions := make([]stream.PartitionID, 0, len(e.assigned))
		for p := range e.assigned {
			partitions = append(partitions, p)
		}
		snap = append(snap, StreamSnapshot{Stream: name, Partitions: partitions})
	}
	return snap
}

// refreshSubscription re-fetches cluster metadata, filters it down to
// this host's streams, and (re)subscribes if anything matches.
func (h *Host) refreshSubscription() bool {
	meta, err := h.cfg.Broker.GetMetadata()
	if err != nil {
		h.logger.Error(fmt.Sprintf(`metadata fetch failed: %s`, err))
		return len(h.entries) > 0
	}

	var matches []stream.Name
	for _, name := range meta.Streams {
		if h.cfg.Filter.Matches(name) {
			matches = append(matches, name)
		}
	}

	if len(matches) == 0 {
		return false
	}

	if err := h.cfg.Broker.Subscribe(matches); err != nil {
		h.logger.Error(fmt.Sprintf(`subscribe failed: %s`, err))
		return false
	}
	return true
}

// pollOnce drives one Poll call and dispatches its Event by type.
func (h *Host) pollOnce(timeout time.Duration) error {
	ev, err := h.cfg.Broker.Poll(timeout)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}

	switch e := ev.(type) {
	case Record:
		h.dispatch(e.Record)
	case AssignedPartitions:
		h.metrics.rebalances.Count(1, nil)
		if err := h.onAssigned(e.Partitions); err != nil {
			return err
		}
	case RevokedPartitions:
		h.metrics.rebalances.Count(1, nil)
		h.onRevoked(e.Partitions)
	case ConsumeError:
		h.logger.Warn(fmt.Sprintf(`consume error on %s: %s`, e.Partition, e.Err))
	case ClientError:
		h.logger.Error(fmt.Sprintf(`broker client error: %s`, e.Err))
	case Log:
		h.logLevelled(e)
	case Stats:
		h.logger.Info(fmt.Sprintf(`broker stats: %s`, e.JSON))
	case PartitionEOF:
		h.logger.Info(fmt.Sprintf(`partition EOF: %s`, e.Partition))
	case OffsetsCommitted:
		if e.Err != nil {
			h.logger.Warn(fmt.Sprintf(`offset commit failed: %s`, e.Err))
		} else {
			h.logger.Debug(fmt.Sprintf(`offsets committed: %v`, e.Offsets))
		}
	}
	return nil
}

func (h *Host) logLevelled(e Log) {
	switch {
	case e.LevelCode <= 2:
		h.logger.Fatal(e.Message)
	case e.LevelCode == 3:
		h.logger.Error(e.Message)
	case e.LevelCode == 4:
		h.logger.Warn(e.Message)
	case e.LevelCode <= 6:
		h.logger.Info(e.Message)
	default:
		h.logger.Debug(e.Message)
	}
}

// dispatch hands a delivered record to its stream's processor host.
func (h *Host) dispatch(rec *stream.Record) {
	e, ok := h.entries[rec.Stream]
	if !ok {
		err := errors.New(fmt.Sprintf(`dispatched record for unassigned stream %s`, rec.Stream))
		h.logger.Fatal(err.Error())
		h.fatal(err)
		return
	}
	if err := e.host.Enqueue(rec); err != nil {
		h.logger.Warn(fmt.Sprintf(`enqueue abandoned for %s: %s`, rec, err))
	}
}

// onRevoked unassigns unconditionally; entries survive a revoke and are
// only torn down once a subsequent assignment drops their stream.
func (h *Host) onRevoked(partitions []stream.TopicPartition) {
	if err := h.cfg.Broker.Unassign(); err != nil {
		h.logger.Error(fmt.Sprintf(`unassign failed: %s`, err))
	}
}

// onAssigned reconciles the incoming partition assignment against the
// entries table: new streams get a fresh processor host, newly granted
// partitions get a start offset resolved, partitions already held and
// granted again in this round are re-emitted as INVALID, and streams dropped
// entirely are drained and torn down.
func (h *Host) onAssigned(incoming []stream.TopicPartition) error {
	byStream := make(map[stream.Name][]stream.PartitionID)
	for _, tp := range incoming {
		byStream[tp.Stream] = append(byStream[tp.Stream], tp.Partition)
	}

	var toAssign []stream.Assignment

	for name, partitions := range byStream {
		e, ok := h.entries[name]
		if !ok {
			var err error
			e, err = h.createEntry(name)
			if err != nil {
				return err
			}
			h.entries[name] = e
		}

		desired := newPartitionSet(partitions)

		var newPartitions []stream.PartitionID
		for p := range desired {
			if _, held := e.assigned[p]; !held {
				newPartitions = append(newPartitions, p)
			}
		}

		emitted := make(map[stream.PartitionID]struct{}, len(newPartitions))
		if len(newPartitions) > 0 {
			resolved, err := h.resolveStartOffsets(e, name, newPartitions)
			if err != nil {
				return err
			}
			for _, a := range resolved {
				toAssign = append(toAssign, a)
				emitted[a.Partition] = struct{}{}
			}
		}

		for p := range desired {
			if _, done := emitted[p]; !done {
				toAssign = append(toAssign, stream.Assignment{
					TopicPartition: stream.TopicPartition{Stream: name, Partition: p},
					Offset:         stream.OffsetInvalid,
				})
			}
		}

		e.assigned = desired
	}

	// Orphaned entries: held previously, absent from this assignment.
	for name, e := range h.entries {
		if _, present := byStream[name]; !present {
			e.host.CompleteAdding()
			e.host.Join()
			delete(h.entries, name)
		}
	}

	h.metrics.assignedStreams.Count(float64(len(h.entries)), nil)

	if err := h.cfg.Broker.Assign(toAssign); err != nil {
		return errors.Wrap(err, `assign failed`)
	}
	return nil
}

// resolveStartOffsets asks the processor for a rebalance start
// timestamp, and either emits INVALID for every new partition or
// resolves one via OffsetsForTimes.
func (h *Host) resolveStartOffsets(e *processorEntry, name stream.Name, newPartitions []stream.PartitionID) ([]stream.Assignment, error) {
	invalidAll := func() []stream.Assignment {
		out := make([]stream.Assignment, 0, len(newPartitions))
		for _, p := range newPartitions {
			out = append(out, stream.Assignment{
				TopicPartition: stream.TopicPartition{Stream: name, Partition: p},
				Offset:         stream.OffsetInvalid,
			})
		}
		return out
	}

	at, err := e.processor.StartTimestampOnRebalance(name)
	if err != nil {
		h.logger.Error(fmt.Sprintf(`start timestamp lookup failed for %s: %s`, name, err))
		return invalidAll(), nil
	}
	if at == nil {
		return invalidAll(), nil
	}

	queries := make([]TimeQuery, 0, len(newPartitions))
	for _, p := range newPartitions {
		queries = append(queries, TimeQuery{
			Partition: stream.TopicPartition{Stream: name, Partition: p},
			At:        *at,
		})
	}

	results, err := h.cfg.Broker.OffsetsForTimes(queries, 0)
	if err != nil {
		h.logger.Error(fmt.Sprintf(`offsets_for_times failed for %s: %s`, name, err))
		return invalidAll(), nil
	}

	out := make([]stream.Assignment, 0, len(results))
	for _, r := range results {
		offset := r.Offset
		if r.Err != nil {
			h.logger.Error(fmt.Sprintf(`offsets_for_times failed for %s: %s`, r.Partition, r.Err))
			offset = stream.OffsetInvalid
		}
		out = append(out, stream.Assignment{TopicPartition: r.Partition, Offset: offset})
	}
	return out, nil
}

func (h *Host) createEntry(name stream.Name) (*processorEntry, error) {
	proc, err := h.cfg.Provider.Get(name)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf(`processor provider failed for %s`, name))
	}

	ph := hosting.New(hosting.Config{
		StreamName:    name,
		Processor:     proc,
		Codec:         h.cfg.Codec,
		QueueSize:     h.cfg.MaxProcessorQueueSize,
		MaxBatchSize:  h.cfg.MaxBatchSize,
		Cancel:        h.cfg.Cancel,
		FatalSignal:   h.cfg.FatalSignal,
		Logger:        h.cfg.Logger,
		MetricsReport: h.cfg.MetricsReport,
	})
	if err := ph.Start(); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf(`processor host start failed for %s`, name))
	}

	h.logger.Info(fmt.Sprintf(`processor host started for %s`, name))
	return &processorEntry{processor: proc, host: ph, assigned: map[stream.PartitionID]struct{}{}}, nil
}

// shutdown seals and joins every processor host, then disposes the
// broker client.
func (h *Host) shutdown() {
	h.logger.Info(`group host shutting down`)
	for name, e := range h.entries {
		e.host.CompleteAdding()
		e.host.Join()
		delete(h.entries, name)
	}
	if err := h.cfg.Broker.Close(); err != nil {
		h.logger.Error(fmt.Sprintf(`broker close failed: %s`, err))
	}
}

func (h *Host) fatal(err error) {
	if h.cfg.FatalSignal == nil {
		return
	}
	select {
	case h.cfg.FatalSignal <- err:
	default:
	}
}
