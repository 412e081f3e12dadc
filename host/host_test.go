package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gmbyapa/grouphost/processor"
	"github.com/gmbyapa/grouphost/stream"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type recordingProcessor struct {
	mu      sync.Mutex
	batches [][]interface{}
	sleep   time.Duration
}

func (p *recordingProcessor) StartTimestampOnRebalance(stream.Name) (*time.Time, error) {
	return nil, nil
}

func (p *recordingProcessor) Process(ctx context.Context, batch processor.Batch) error {
	if p.sleep > 0 {
		select {
		case <-time.After(p.sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.batches = append(p.batches, batch)
	p.mu.Unlock()
	return nil
}

func (p *recordingProcessor) flatten() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []interface{}
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

type passthroughCodec struct{}

func (passthroughCodec) Decode(_ stream.Name, value []byte) (interface{}, error) {
	return string(value), nil
}

func newTestHost(t *testing.T, proc *recordingProcessor, queueSize, batchSize int, cancel context.Context) *Host {
	t.Helper()
	h := New(Config{
		StreamName:    "traces-T",
		Processor:     proc,
		Codec:         passthroughCodec{},
		QueueSize:     queueSize,
		MaxBatchSize:  batchSize,
		Cancel:        cancel,
		Logger:        log.NewNoopLogger(),
		MetricsReport: metrics.NoopReporter(),
	})
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return h
}

func TestHost_CompleteAddingDrainsRemaining(t *testing.T) {
	proc := &recordingProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHost(t, proc, 10, 3, ctx)

	for i := 0; i < 7; i++ {
		if err := h.Enqueue(&stream.Record{Stream: "traces-T", Value: []byte{byte(i)}}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	h.CompleteAdding()
	h.Join()

	if got := len(proc.flatten()); got != 7 {
		t.Errorf("processed %d records, want 7", got)
	}
}

func TestHost_StartTwiceFails(t *testing.T) {
	proc := &recordingProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHost(t, proc, 1, 1, ctx)
	if err := h.Start(); err == nil {
		t.Fatal("expected second Start() to fail")
	}
	h.CompleteAdding()
	h.Join()
}

func TestHost_BackpressureBlocksEnqueue(t *testing.T) {
	proc := &recordingProcessor{sleep: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHost(t, proc, 4, 1, ctx)

	start := time.Now()
	for i := 0; i < 20; i++ {
		if err := h.Enqueue(&stream.Record{Stream: "traces-T", Partition: 0, Offset: stream.Offset(i), Value: []byte{byte(i)}}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	h.CompleteAdding()
	h.Join()
	elapsed := time.Since(start)

	// 20 records at 10ms/record ~= 200ms; a healthy margin avoids flakiness
	// while still proving the poll thread was made to wait on the full queue.
	if elapsed < 100*time.Millisecond {
		t.Errorf("elapsed = %s, expected backpressure to slow enqueue toward ~200ms", elapsed)
	}

	got := proc.flatten()
	if len(got) != 20 {
		t.Fatalf("processed %d records, want 20", len(got))
	}
	for i, v := range got {
		if v.(string) != string([]byte{byte(i)}) {
			t.Errorf("record %d out of order: got %q", i, v)
		}
	}
}

func TestHost_CancelDiscardsInFlightBatch(t *testing.T) {
	proc := &recordingProcessor{sleep: time.Hour} // Process only returns once cancelled
	ctx, cancel := context.WithCancel(context.Background())

	h := newTestHost(t, proc, 10, 5, ctx)

	if err := h.Enqueue(&stream.Record{Stream: "traces-T", Value: []byte("x")}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// Give the worker a moment to pull the record into its batch and hand
	// it to Process, then cancel while that batch is still in flight and
	// before CompleteAdding.
	time.Sleep(20 * time.Millisecond)
	cancel()
	h.Join()

	if got := len(proc.flatten()); got != 0 {
		t.Errorf("processed %d records after cancel, want 0 (batch should be discarded)", got)
	}
}

func TestHost_EnqueueUnblocksOnCancelWhenWorkerDead(t *testing.T) {
	proc := &recordingProcessor{sleep: time.Hour} // worker never returns from Process on its own
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHost(t, proc, 1, 1, ctx)

	// First record is pulled into the worker's in-flight batch (which is
	// now blocked inside Process), freeing the queue slot again...
	if err := h.Enqueue(&stream.Record{Stream: "traces-T", Value: []byte("x")}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	// ...so a second record fills the single queue slot, with nobody left
	// to drain it until cancellation.
	if err := h.Enqueue(&stream.Record{Stream: "traces-T", Value: []byte("y")}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- h.Enqueue(&stream.Record{Stream: "traces-T", Value: []byte("z")})
	}()

	select {
	case <-done:
		t.Fatal("Enqueue() returned before cancellation; queue should have been full")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected Enqueue() to return the cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue() did not unblock after cancellation")
	}
}
