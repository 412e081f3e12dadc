package group

import (
	"context"
	"sync"
	"time"

	"github.com/gmbyapa/grouphost/processor"
	"github.com/gmbyapa/grouphost/stream"
)

type fakeBroker struct {
	mu sync.Mutex

	metadata      *Metadata
	metadataErr   error
	subscriptions [][]stream.Name
	assignCalls   [][]stream.Assignment
	unassignCount int
	pollCount     int
	closed        bool

	offsetsFn func([]TimeQuery) ([]OffsetResult, error)

	events chan Event
}

func newFakeBroker(streams ...stream.Name) *fakeBroker {
	return &fakeBroker{
		metadata: &Metadata{Streams: streams},
		events:   make(chan Event, 16),
	}
}

func (f *fakeBroker) GetMetadata() (*Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metadata, f.metadataErr
}

func (f *fakeBroker) Subscribe(streams []stream.Name) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = append(f.subscriptions, streams)
	return nil
}

func (f *fakeBroker) Assign(assignments []stream.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls = append(f.assignCalls, assignments)
	return nil
}

func (f *fakeBroker) Unassign() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unassignCount++
	return nil
}

func (f *fakeBroker) Poll(timeout time.Duration) (Event, error) {
	f.mu.Lock()
	f.pollCount++
	f.mu.Unlock()
	select {
	case ev := <-f.events:
		return ev, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeBroker) OffsetsForTimes(queries []TimeQuery, _ time.Duration) ([]OffsetResult, error) {
	if f.offsetsFn == nil {
		out := make([]OffsetResult, len(queries))
		for i, q := range queries {
			out[i] = OffsetResult{Partition: q.Partition, Offset: stream.OffsetInvalid}
		}
		return out, nil
	}
	return f.offsetsFn(queries)
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBroker) lastAssign() []stream.Assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.assignCalls) == 0 {
		return nil
	}
	return f.assignCalls[len(f.assignCalls)-1]
}

func (f *fakeBroker) pollCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

func (f *fakeBroker) assignCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assignCalls)
}

// fakeProcessor lets each test script its rebalance-start-timestamp reply
// and records every batch it is handed.
type fakeProcessor struct {
	mu        sync.Mutex
	startFunc func(stream.Name) (*time.Time, error)
	batches   []processor.Batch
}

func (p *fakeProcessor) StartTimestampOnRebalance(name stream.Name) (*time.Time, error) {
	if p.startFunc == nil {
		return nil, nil
	}
	return p.startFunc(name)
}

func (p *fakeProcessor) Process(_ context.Context, batch processor.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	return nil
}

type singleProcessorProvider struct{ proc processor.Processor }

func (s singleProcessorProvider) Get(stream.Name) (processor.Processor, error) {
	return s.proc, nil
}

type passthroughCodec struct{}

func (passthroughCodec) Decode(_ stream.Name, value []byte) (interface{}, error) {
	return string(value), nil
}
