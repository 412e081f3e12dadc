// Command grouphost runs a demo consumer group host: a single processor
// that logs every decoded event for streams matching the "-events"
// suffix. It exists to wire the library together end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gmbyapa/grouphost/app"
	"github.com/gmbyapa/grouphost/codec"
	"github.com/gmbyapa/grouphost/config"
	"github.com/gmbyapa/grouphost/processor"
	"github.com/gmbyapa/grouphost/stream"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

var envPrefix = flag.String(`env-prefix`, config.DefaultPrefix,
	`prefix used to discover GroupHost configuration from the environment`)

func main() {
	flag.Parse()

	logger := log.Constructor.Log(log.WithLevel(log.INFO))

	cfg, groupID, procConf, err := config.Load(`grouphost-demo`, *envPrefix)
	if err != nil {
		logger.Error(fmt.Sprintf(`config load failed: %s`, err))
		os.Exit(app.ExitMainThreadFailure)
	}

	filter := stream.SuffixFilter(`-events`)
	provider := processor.NewCachingProvider(func(name stream.Name) (processor.Processor, string, error) {
		return &loggingProcessor{name: name, logger: logger, procConf: procConf}, string(name), nil
	})
	jsonCodec := codec.JSON{New: func() interface{} { return &map[string]interface{}{} }}

	supervisor := app.New(cfg, groupID, procConf, filter, provider, jsonCodec, logger, metrics.NoopReporter())

	os.Exit(supervisor.Run(context.Background()))
}

// loggingProcessor logs every decoded event it receives; it always
// resumes from the broker's last committed offset.
type loggingProcessor struct {
	name     stream.Name
	logger   log.Logger
	procConf map[string]string
}

func (p *loggingProcessor) StartTimestampOnRebalance(stream.Name) (*time.Time, error) {
	return nil, nil
}

func (p *loggingProcessor) Process(_ context.Context, batch processor.Batch) error {
	for _, event := range batch {
		encoded, err := json.Marshal(event)
		if err != nil {
			p.logger.Warn(fmt.Sprintf(`failed to encode event for logging: %s`, err))
			continue
		}
		p.logger.Info(fmt.Sprintf(`%s: %s`, p.name, encoded))
	}
	return nil
}
