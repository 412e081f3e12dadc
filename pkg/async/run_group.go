package async

import (
	"errors"
	"fmt"
	"github.com/tryfix/log"
	"sync"
)

// Fn is one background loop a RunGroup supervises: the poll thread, the
// admin server, a fatal-error watcher, a signal watcher.
type Fn func(*Opts) error

// Opts is handed to each Fn so it can observe shutdown and report its own
// readiness back to the group.
type Opts struct {
	// stopping closes once any Fn in the group has exited with an error,
	// or Stop is called, signalling every other Fn to wind down.
	stopping <-chan struct{}

	// readyOnce guards Ready() so a slow or retrying Fn can't double-close
	// the ready channel.
	readyOnce sync.Once

	// ready closes once the Fn has finished its own startup (connecting a
	// broker, binding a listener) and is actually doing its job.
	ready chan struct{}
}

// Stopping returns the channel a Fn should select on to know when to wind
// down and return.
func (opts *Opts) Stopping() <-chan struct{} {
	return opts.stopping
}

// Ready signals that this Fn has finished starting up.
func (opts *Opts) Ready() {
	opts.readyOnce.Do(func() {
		close(opts.ready)
	})
}

// ErrInterrupted marks a Fn's return as a graceful stop rather than a
// failure (e.g. an OS signal), so the caller can tell the two apart.
var ErrInterrupted = errors.New(`interrupted`)

// RunGroup runs a fixed set of Fns concurrently and keeps them alive as a
// unit: the first to return a non-nil error triggers a shutdown signal to
// all the others, and Run blocks until every Fn has exited.
type RunGroup struct {
	fns          []Fn
	wg           *sync.WaitGroup
	readyWg      *sync.WaitGroup
	stopping     chan struct{}
	stopped      chan struct{}
	shutDownOnce *sync.Once
	err          error
	logger       log.Logger
	shuttingDown bool
}

// NewRunGroup builds a RunGroup around fns; none of them start running
// until Run is called.
func NewRunGroup(logger log.Logger, fns ...Fn) *RunGroup {
	readyWg := new(sync.WaitGroup)
	readyWg.Add(len(fns))
	return &RunGroup{
		fns:          fns,
		wg:           new(sync.WaitGroup),
		readyWg:      readyWg,
		stopping:     make(chan struct{}),
		stopped:      make(chan struct{}),
		shutDownOnce: &sync.Once{},
		logger:       logger.NewLog(log.Prefixed(`RunGroup`)),
	}
}

// Add appends fn to the group. Only meaningful before Run is called; a
// RunGroup does not support adding Fns to an already-running group.
func (tg *RunGroup) Add(fn Fn) *RunGroup {
	tg.readyWg.Add(1)
	tg.fns = append(tg.fns, fn)
	return tg
}

// Run starts every Fn on its own goroutine and blocks until all of them
// have returned. The first non-nil error triggers notifyShutDown, closing
// stopping so the rest of the group unwinds; that first error is also
// what Run returns.
func (tg *RunGroup) Run() error {
	notifyErrOnce := &sync.Once{}

	tg.wg.Add(len(tg.fns))

	for _, fn := range tg.fns {
		ready := make(chan struct{}, 1)

		// Count this Fn as ready once it closes its own ready channel.
		go func() {
			<-ready
			tg.readyWg.Done()
		}()

		go func(fn Fn) {
			defer LogPanicTrace(tg.logger)

			opts := &Opts{
				stopping: tg.stopping,
				ready:    ready,
			}

			if err := fn(opts); err != nil {
				// Only the first error across the group matters.
				notifyErrOnce.Do(func() {
					tg.err = err
				})
				tg.notifyShutDown(err)
			}

			// A returned Fn is done starting up either way.
			opts.Ready()
			tg.wg.Done()
		}(fn)
	}

	tg.wg.Wait()

	close(tg.stopped)

	return tg.err
}

func (tg *RunGroup) notifyShutDown(err error) {
	tg.shutDownOnce.Do(func() {
		if err != nil {
			tg.logger.Error(fmt.Sprintf(`group stopping due to %s`, err))
		} else {
			tg.logger.Info(`group interrupted, stopping...`)
		}

		tg.shuttingDown = true
		close(tg.stopping)
	})
}

// Ready blocks until every Fn in the group has reported itself ready.
func (tg *RunGroup) Ready() error {
	tg.readyWg.Wait()
	if tg.err == nil && tg.shuttingDown {
		return ErrInterrupted
	}
	return tg.err
}

// Stop requests a graceful shutdown of the whole group and waits for
// every Fn to exit.
func (tg *RunGroup) Stop() {
	tg.notifyShutDown(nil)
	defer tg.logger.Info(`group stopped`)

	<-tg.stopped
}
