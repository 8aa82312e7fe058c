package kafka_service

import (
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

type partitionKey struct {
	topic     string
	partition int32
}

type partitionOffsets struct {
	order  []int64
	done   map[int64]*kgo.Record
	failed bool
}

// offsetTracker releases a record for commit only once every earlier
// record polled from its partition has finished. A record that failed
// ingestion halts commits on its partition, so the committed offset never
// moves past it and it is redelivered after a restart.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[partitionKey]*partitionOffsets)}
}

func keyOf(rec *kgo.Record) partitionKey {
	return partitionKey{topic: rec.Topic, partition: rec.Partition}
}

// track registers rec in poll order.
func (t *offsetTracker) track(rec *kgo.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[keyOf(rec)]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]*kgo.Record)}
		t.parts[keyOf(rec)] = p
	}
	if p.failed {
		return
	}
	p.order = append(p.order, rec.Offset)
}

// complete records the outcome of rec and returns the highest record that
// may now be committed, or nil.
func (t *offsetTracker) complete(rec *kgo.Record, ok bool) *kgo.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, found := t.parts[keyOf(rec)]
	if !found || p.failed {
		return nil
	}
	if !ok {
		p.failed = true
		p.order = nil
		clear(p.done)
		return nil
	}
	p.done[rec.Offset] = rec

	var commit *kgo.Record
	for len(p.order) > 0 {
		r, finished := p.done[p.order[0]]
		if !finished {
			break
		}
		commit = r
		delete(p.done, p.order[0])
		p.order = p.order[1:]
	}
	return commit
}

// forget drops state for partitions this member no longer owns. They are
// fetched again from the committed offset if reassigned.
func (t *offsetTracker) forget(partitions map[string][]int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, ids := range partitions {
		for _, id := range ids {
			delete(t.parts, partitionKey{topic: topic, partition: id})
		}
	}
}
