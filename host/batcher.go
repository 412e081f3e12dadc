package host

import "github.com/gmbyapa/grouphost/stream"

// batcher accumulates decoded events until it reaches maxSize, at which
// point add reports the batch is ready for a flush. It has no timer:
// the worker loop only ever drains up to maxSize, blocking for at least
// one record — there is no flush-on-interval trigger.
type batcher struct {
	maxSize int
	records []*stream.Record
	events  []interface{}
}

func newBatcher(maxSize int) *batcher {
	return &batcher{maxSize: maxSize}
}

// add appends one decoded event and its source record, returning true if
// the batch has reached maxSize and should be flushed.
func (b *batcher) add(record *stream.Record, event interface{}) bool {
	b.records = append(b.records, record)
	b.events = append(b.events, event)
	return len(b.events) >= b.maxSize
}

func (b *batcher) len() int { return len(b.events) }

// drain returns the accumulated events and resets the batch.
func (b *batcher) drain() []interface{} {
	events := b.events
	b.records = nil
	b.events = nil
	return events
}
