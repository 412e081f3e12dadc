package librd

import (
	"testing"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/grouphost/stream"
)

func TestToLibrdOffset(t *testing.T) {
	if got := toLibrdOffset(stream.OffsetInvalid); got != librdKafka.OffsetStored {
		t.Errorf("toLibrdOffset(OffsetInvalid) = %v, want OffsetStored", got)
	}
	if got := toLibrdOffset(stream.Offset(42)); got != librdKafka.Offset(42) {
		t.Errorf("toLibrdOffset(42) = %v, want 42", got)
	}
}

func TestToTopicPartition(t *testing.T) {
	topic := "traces-T"
	got := toTopicPartition(librdKafka.TopicPartition{Topic: &topic, Partition: 3})
	want := stream.TopicPartition{Stream: "traces-T", Partition: 3}
	if got != want {
		t.Errorf("toTopicPartition() = %+v, want %+v", got, want)
	}
}

func TestToTopicPartitions(t *testing.T) {
	topicA, topicB := "a-T", "b-T"
	got := toTopicPartitions([]librdKafka.TopicPartition{
		{Topic: &topicA, Partition: 0},
		{Topic: &topicB, Partition: 1},
	})
	if len(got) != 2 || got[0].Stream != "a-T" || got[1].Stream != "b-T" {
		t.Errorf("toTopicPartitions() = %+v", got)
	}
}

func TestConfigToLibrdConfigMap(t *testing.T) {
	cfg := Config{BootstrapServers: []string{"broker1:9092", "broker2:9092"}, GroupID: "my-group"}
	cm, err := cfg.toLibrdConfigMap()
	if err != nil {
		t.Fatalf("toLibrdConfigMap() error = %v", err)
	}
	if (*cm)["bootstrap.servers"] != "broker1:9092,broker2:9092" {
		t.Errorf("bootstrap.servers = %v", (*cm)["bootstrap.servers"])
	}
	if (*cm)["group.id"] != "my-group" {
		t.Errorf("group.id = %v", (*cm)["group.id"])
	}
}
