// Package app wires configuration, the broker adaptor, the group host
// and the admin surface together into a single running process, and
// owns the OS signal handling and shutdown escalation around them.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gmbyapa/grouphost/admin"
	"github.com/gmbyapa/grouphost/codec"
	"github.com/gmbyapa/grouphost/config"
	"github.com/gmbyapa/grouphost/group"
	"github.com/gmbyapa/grouphost/group/adaptors/librd"
	"github.com/gmbyapa/grouphost/pkg/async"
	"github.com/gmbyapa/grouphost/pkg/errors"
	"github.com/gmbyapa/grouphost/processor"
	"github.com/gmbyapa/grouphost/stream"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Exit codes, per the configuration table's contract.
const (
	ExitNormal            = 0
	ExitBackgroundFailure = 1
	ExitMainThreadFailure = 3
)

// Supervisor owns the lifetime of one consumer group host instance: it
// connects the broker, starts the poll thread and the admin surface,
// and tears both down on an OS signal or a fatal background error.
type Supervisor struct {
	cfg             *config.Config
	groupID         string
	processorConfig map[string]string

	filter   stream.Filter
	provider processor.Provider
	codec    codec.Codec

	logger   log.Logger
	reporter metrics.Reporter
}

// New builds a Supervisor. processorConfig is handed to the provider
// untouched; this package never interprets it.
func New(
	cfg *config.Config,
	groupID string,
	processorConfig map[string]string,
	filter stream.Filter,
	provider processor.Provider,
	cdc codec.Codec,
	logger log.Logger,
	reporter metrics.Reporter,
) *Supervisor {
	if reporter == nil {
		reporter = metrics.NoopReporter()
	}
	return &Supervisor{
		cfg:             cfg,
		groupID:         groupID,
		processorConfig: processorConfig,
		filter:          filter,
		provider:        provider,
		codec:           cdc,
		logger:          logger.NewLog(log.Prefixed(`Supervisor`)),
		reporter:        reporter,
	}
}

// Run blocks until the group host stops, either from an OS signal or a
// fatal background error, and returns the process exit code to use.
func (s *Supervisor) Run(ctx context.Context) int {
	broker, err := librd.Connect(ctx, librd.Config{
		BootstrapServers: s.cfg.KafkaBootstrapEndpoints,
		GroupID:          s.groupID,
	}, s.logger, s.reporter)
	if err != nil {
		s.logger.Error(fmt.Sprintf(`broker connect failed: %s`, err))
		return ExitMainThreadFailure
	}

	stopCtx, requestStop := context.WithCancel(context.Background())
	cancelCtx, hardCancel := context.WithCancel(context.Background())
	defer hardCancel()

	fatalSignal := make(chan error, 1)

	groupHost := group.New(group.Config{
		Filter:                     s.filter,
		Provider:                   s.provider,
		Codec:                      s.codec,
		Broker:                     broker,
		PollingInterval:            s.cfg.PollingInterval,
		UpdateSubscriptionInterval: s.cfg.UpdateSubscriptionInterval,
		MaxBatchSize:               s.cfg.MaxBatchSize,
		MaxProcessorQueueSize:      s.cfg.MaxProcessorQueueSize,
		Stop:                       stopCtx,
		Cancel:                     cancelCtx,
		FatalSignal:                fatalSignal,
		Logger:                     s.logger,
		MetricsReport:              s.reporter,
	})
	if err := groupHost.Start(); err != nil {
		s.logger.Error(fmt.Sprintf(`group host start failed: %s`, err))
		return ExitMainThreadFailure
	}

	ready := false
	adminServer := admin.New(s.cfg.AdminListenAddr, groupHost, func() bool { return ready }, s.logger)

	rg := async.NewRunGroup(s.logger,
		s.pollHostFn(groupHost, requestStop, hardCancel, &ready),
		s.adminFn(adminServer),
		s.fatalWatcherFn(fatalSignal),
		s.signalWatcherFn(ctx),
	)

	err = rg.Run()
	if err == nil || errors.Is(err, async.ErrInterrupted) {
		return ExitNormal
	}

	s.logger.Error(fmt.Sprintf(`supervisor stopping due to %s`, err))
	return ExitBackgroundFailure
}

func (s *Supervisor) pollHostFn(host *group.Host, requestStop, hardCancel context.CancelFunc, ready *bool) async.Fn {
	return func(opts *async.Opts) error {
		*ready = true
		opts.Ready()
		return s.drainPollHost(host, requestStop, hardCancel, opts.Stopping())
	}
}

// drainPollHost holds the shutdown-escalation logic on its own so it can
// be exercised with a plain channel in tests, without constructing an
// async.Opts.
func (s *Supervisor) drainPollHost(host *group.Host, requestStop, hardCancel context.CancelFunc, stopping <-chan struct{}) error {
	<-stopping
	requestStop()

	joined := make(chan struct{})
	go func() {
		host.Join()
		close(joined)
	}()

	select {
	case <-joined:
		return nil
	case <-time.After(s.cfg.GracefulDrainTimeout):
		s.logger.Warn(`graceful drain timed out, escalating to hard cancel`)
		hardCancel()
		<-joined
		return nil
	}
}

func (s *Supervisor) adminFn(srv *admin.Server) async.Fn {
	return func(opts *async.Opts) error {
		if err := srv.Start(); err != nil {
			return errors.Wrap(err, `admin server start failed`)
		}
		opts.Ready()
		return s.drainAdmin(srv, opts.Stopping())
	}
}

func (s *Supervisor) drainAdmin(srv *admin.Server, stopping <-chan struct{}) error {
	<-stopping
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func (s *Supervisor) fatalWatcherFn(fatalSignal <-chan error) async.Fn {
	return func(opts *async.Opts) error {
		opts.Ready()
		return watchFatal(fatalSignal, opts.Stopping())
	}
}

func watchFatal(fatalSignal <-chan error, stopping <-chan struct{}) error {
	select {
	case err := <-fatalSignal:
		return err
	case <-stopping:
		return nil
	}
}

func (s *Supervisor) signalWatcherFn(ctx context.Context) async.Fn {
	return func(opts *async.Opts) error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)

		opts.Ready()
		return watchSignal(ctx, sig, opts.Stopping())
	}
}

func watchSignal(ctx context.Context, sig <-chan os.Signal, stopping <-chan struct{}) error {
	select {
	case <-sig:
		return async.ErrInterrupted
	case <-ctx.Done():
		return async.ErrInterrupted
	case <-stopping:
		return nil
	}
}
