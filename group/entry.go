package group

import (
	"github.com/gmbyapa/grouphost/host"
	"github.com/gmbyapa/grouphost/processor"
	"github.com/gmbyapa/grouphost/stream"
)

// processorEntry tracks one stream's processor host and the partitions
// currently assigned to it. It is touched only by the poll thread, so
// it needs no lock of its own.
type processorEntry struct {
	processor processor.Processor
	host      *host.Host
	assigned  map[stream.PartitionID]struct{}
}

func newPartitionSet(ids []stream.PartitionID) map[stream.PartitionID]struct{} {
	set := make(map[stream.PartitionID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// StreamSnapshot is one row of a point-in-time Snapshot.
type StreamSnapshot struct {
	Stream     stream.Name
	Partitions []stream.PartitionID
}

// Snapshot is a read-only copy of the assignment table, produced on the
// poll thread and handed to callers (e.g. the admin surface) so they
// never need a lock on the live table either.
type Snapshot []StreamSnapshot
