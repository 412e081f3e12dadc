package librd

import (
	"context"
	"sync"
	"time"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/grouphost/group"
	"github.com/gmbyapa/grouphost/pkg/backoff"
	"github.com/gmbyapa/grouphost/pkg/errors"
	"github.com/gmbyapa/grouphost/stream"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// client implements group.BrokerClient against a single confluent-kafka-go
// Consumer. Every method is called from the group host's own poll thread;
// client adds no locking of its own beyond what's needed for Close to be
// safe alongside the background log-forwarding goroutine.
type client struct {
	consumer *librdKafka.Consumer
	config   Config
	logger   log.Logger

	closeOnce sync.Once
	logsDone  chan struct{}
}

// Connect dials the broker, retrying the initial handle construction
// with exponential back-off. This guards only against a broker that
// isn't reachable yet at process start; steady-state poll errors are
// logged and the poll loop continues instead of retrying here.
func Connect(ctx context.Context, cfg Config, logger log.Logger, reporter metrics.Reporter) (group.BrokerClient, error) {
	logger = logger.NewLog(log.Prefixed(`BrokerClient`))

	confMap, err := cfg.toLibrdConfigMap()
	if err != nil {
		return nil, errors.Wrap(err, `invalid librdkafka configuration`)
	}

	var consumer *librdKafka.Consumer
	err = backoff.Execute(ctx, backoff.Config{}, logger, reporter, func(ctx context.Context) error {
		c, err := librdKafka.NewConsumer(confMap)
		if err != nil {
			return err
		}
		consumer = c
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, `broker connect failed`)
	}

	c := &client{
		consumer: consumer,
		config:   cfg,
		logger:   logger,
		logsDone: make(chan struct{}),
	}
	go c.forwardLogs()

	return c, nil
}

func (c *client) GetMetadata() (*group.Metadata, error) {
	timeout := c.config.MetadataTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	meta, err := c.consumer.GetMetadata(nil, true, int(timeout.Milliseconds()))
	if err != nil {
		return nil, errors.Wrap(err, `metadata fetch failed`)
	}

	names := make([]stream.Name, 0, len(meta.Topics))
	for topic, t := range meta.Topics {
		if t.Error.Code() != librdKafka.ErrNoError {
			continue
		}
		names = append(names, stream.Name(topic))
	}
	return &group.Metadata{Streams: names}, nil
}

// Subscribe passes a nil rebalance callback so librdkafka delivers
// AssignedPartitions/RevokedPartitions through Poll instead of
// intercepting them: go.application.rebalance.enable=true then means
// Poll returns those events for the caller to Assign/Unassign itself,
// rather than requiring a callback that does so.
func (c *client) Subscribe(streams []stream.Name) error {
	topics := make([]string, len(streams))
	for i, s := range streams {
		topics[i] = string(s)
	}
	return c.consumer.SubscribeTopics(topics, nil)
}

func (c *client) Assign(assignments []stream.Assignment) error {
	tps := make([]librdKafka.TopicPartition, len(assignments))
	for i, a := range assignments {
		topic := string(a.Stream)
		tps[i] = librdKafka.TopicPartition{
			Topic:     &topic,
			Partition: int32(a.Partition),
			Offset:    toLibrdOffset(a.Offset),
		}
	}
	return c.consumer.Assign(tps)
}

func (c *client) Unassign() error {
	return c.consumer.Unassign()
}

func (c *client) Poll(timeout time.Duration) (group.Event, error) {
	ev := c.consumer.Poll(int(timeout.Milliseconds()))
	if ev == nil {
		return nil, nil
	}

	switch e := ev.(type) {
	case *librdKafka.Message:
		if e.TopicPartition.Error != nil {
			return group.ConsumeError{Partition: toTopicPartition(e.TopicPartition), Err: e.TopicPartition.Error}, nil
		}
		return group.Record{Record: toRecord(e)}, nil
	case librdKafka.AssignedPartitions:
		return group.AssignedPartitions{Partitions: toTopicPartitions(e.Partitions)}, nil
	case librdKafka.RevokedPartitions:
		return group.RevokedPartitions{Partitions: toTopicPartitions(e.Partitions)}, nil
	case librdKafka.PartitionEOF:
		return group.PartitionEOF{Partition: toTopicPartition(librdKafka.TopicPartition(e))}, nil
	case librdKafka.Stats:
		return group.Stats{JSON: e.String()}, nil
	case librdKafka.OffsetsCommitted:
		return group.OffsetsCommitted{Offsets: toTopicPartitions(e.Offsets), Err: e.Error}, nil
	case librdKafka.Error:
		return group.ClientError{Err: e}, nil
	default:
		return nil, nil
	}
}

func (c *client) OffsetsForTimes(queries []group.TimeQuery, timeout time.Duration) ([]group.OffsetResult, error) {
	tps := make([]librdKafka.TopicPartition, len(queries))
	for i, q := range queries {
		topic := string(q.Partition.Stream)
		tps[i] = librdKafka.TopicPartition{
			Topic:     &topic,
			Partition: int32(q.Partition.Partition),
			Offset:    librdKafka.Offset(q.At.UnixMilli()),
		}
	}

	timeoutMs := int(timeout.Milliseconds())
	if timeout <= 0 {
		// Start-offset resolution calls for an infinite wait here, but
		// librdkafka's binding wants a concrete millisecond bound, so
		// this stands in for "as long as it takes" without blocking
		// forever on a wedged broker connection.
		timeoutMs = int((10 * time.Minute).Milliseconds())
	}

	resolved, err := c.consumer.OffsetsForTimes(tps, timeoutMs)
	if err != nil {
		return nil, errors.Wrap(err, `offsets_for_times failed`)
	}

	out := make([]group.OffsetResult, len(resolved))
	for i, r := range resolved {
		res := group.OffsetResult{Partition: toTopicPartition(r)}
		if r.Error != nil {
			res.Err = r.Error
		} else {
			res.Offset = stream.Offset(r.Offset)
		}
		out[i] = res
	}
	return out, nil
}

func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.logsDone)
		err = c.consumer.Close()
	})
	return err
}

// forwardLogs drains librdkafka's log channel independently of Poll,
// since confluent-kafka-go delivers these on their own channel rather
// than as a Poll-able Event. It applies the same level mapping the poll
// loop uses directly, rather than round-tripping through group.Event,
// because the log channel has no natural place in a synchronous Poll
// call.
func (c *client) forwardLogs() {
	logger := c.logger.NewLog(log.Prefixed(`librdkafka`))
	for {
		select {
		case <-c.logsDone:
			return
		case lg, ok := <-c.consumer.Logs():
			if !ok {
				return
			}
			switch {
			case lg.Level <= 2:
				logger.Fatal(lg.String())
			case lg.Level == 3:
				logger.Error(lg.String())
			case lg.Level == 4:
				logger.Warn(lg.String())
			case lg.Level <= 6:
				logger.Info(lg.String())
			default:
				logger.Debug(lg.String())
			}
		}
	}
}

func toLibrdOffset(o stream.Offset) librdKafka.Offset {
	if o == stream.OffsetInvalid {
		return librdKafka.OffsetStored
	}
	return librdKafka.Offset(o)
}

func toTopicPartition(tp librdKafka.TopicPartition) stream.TopicPartition {
	topic := ``
	if tp.Topic != nil {
		topic = *tp.Topic
	}
	return stream.TopicPartition{Stream: stream.Name(topic), Partition: stream.PartitionID(tp.Partition)}
}

func toTopicPartitions(tps []librdKafka.TopicPartition) []stream.TopicPartition {
	out := make([]stream.TopicPartition, len(tps))
	for i, tp := range tps {
		out[i] = toTopicPartition(tp)
	}
	return out
}

func toRecord(m *librdKafka.Message) *stream.Record {
	topic := ``
	if m.TopicPartition.Topic != nil {
		topic = *m.TopicPartition.Topic
	}
	return &stream.Record{
		Stream:    stream.Name(topic),
		Partition: stream.PartitionID(m.TopicPartition.Partition),
		Offset:    stream.Offset(m.TopicPartition.Offset),
		Timestamp: m.Timestamp,
		Key:       m.Key,
		Value:     m.Value,
	}
}
