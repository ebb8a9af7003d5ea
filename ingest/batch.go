package ingest

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/message"
	"github.com/opd-ai/meshcore/policy"
)

type batchKey struct {
	comm community.ID
	meta string
}

type batch struct {
	id       uuid.UUID // correlates this window's log lines end to end
	comm     *community.Community
	metaDef  community.MetaMessage
	messages []*message.Message
	timer    *time.Timer
}

// BatchScheduler groups decoded messages by (community, meta-message) into
// a bounded time window, then commits each batch through a Tracker in
// deterministic order (spec §4.3). A meta-message with no configured window
// or size commits every message immediately.
type BatchScheduler struct {
	tracker *Tracker

	mu      sync.Mutex
	batches map[batchKey]*batch

	// commitMu serialises every commit, so each community has one writer.
	commitMu sync.Mutex

	logger *logrus.Entry
}

// NewBatchScheduler creates a scheduler that commits through tracker.
func NewBatchScheduler(tracker *Tracker) *BatchScheduler {
	return &BatchScheduler{
		tracker: tracker,
		batches: make(map[batchKey]*batch),
		logger:  logrus.WithField("component", "ingest"),
	}
}

// Submit enqueues m for batched commit under meta's window/size policy, or
// commits it immediately when batching is disabled (MaxWindowSeconds and
// MaxSize both zero).
func (s *BatchScheduler) Submit(comm *community.Community, meta community.MetaMessage, m *message.Message) {
	if meta.MaxWindowSeconds <= 0 && meta.MaxSize <= 0 {
		s.commit(comm, meta, []*message.Message{m})
		return
	}

	key := batchKey{comm.ID, meta.Name}

	s.mu.Lock()
	b, exists := s.batches[key]
	if !exists {
		b = &batch{id: uuid.New(), comm: comm, metaDef: meta}
		s.batches[key] = b
		if meta.MaxWindowSeconds > 0 {
			window := time.Duration(meta.MaxWindowSeconds * float64(time.Second))
			b.timer = time.AfterFunc(window, func() { s.flush(key) })
		}
	}
	b.messages = append(b.messages, m)
	full := meta.MaxSize > 0 && len(b.messages) >= meta.MaxSize
	s.mu.Unlock()

	if full {
		s.flush(key)
	}
}

// flush commits and removes the batch at key, if it still exists. Safe to
// call more than once (a size-triggered flush racing a timer-triggered one).
func (s *BatchScheduler) flush(key batchKey) {
	s.mu.Lock()
	b, ok := s.batches[key]
	if ok {
		delete(s.batches, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	s.logger.WithFields(logrus.Fields{"batch": b.id, "meta": b.metaDef.Name, "size": len(b.messages)}).Debug("ingest: flushing batch")
	s.commit(b.comm, b.metaDef, b.messages)
}

// Shutdown finalises every in-flight batch (spec §4.3: "cancellation of a
// batch happens only on shutdown; an in-flight batch is finalised
// (write-through) before the store closes").
func (s *BatchScheduler) Shutdown() {
	s.mu.Lock()
	keys := make([]batchKey, 0, len(s.batches))
	for k := range s.batches {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.flush(k)
	}
}

// Pending reports how many messages are currently queued for a
// (community, meta-message) batch, for test observation of the "N2 observes
// 0 stored before the window elapses" scenario.
func (s *BatchScheduler) Pending(comm community.ID, metaName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchKey{comm, metaName}]
	if !ok {
		return 0
	}
	return len(b.messages)
}

func (s *BatchScheduler) commit(comm *community.Community, meta community.MetaMessage, msgs []*message.Message) {
	ordered := orderForCommit(meta.Combo.Dist, msgs)
	deduped := collapseDuplicates(meta.Combo.Dist, ordered)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	ctx := context.Background()
	for _, m := range deduped {
		if _, err := s.tracker.Admit(ctx, comm, meta, m); err != nil {
			s.logger.WithFields(logrus.Fields{"meta": meta.Name, "error": err}).Error("ingest: batch commit failed")
		}
	}
}

// orderForCommit sorts a batch into the order spec §4.3 requires: ascending
// (member, sequence_number, global_time) for FullSync, ascending
// global_time for everything else.
func orderForCommit(dist policy.Distribution, msgs []*message.Message) []*message.Message {
	out := make([]*message.Message, len(msgs))
	copy(out, msgs)

	if dist == policy.DistFullSync {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if len(a.Signers) > 0 && len(b.Signers) > 0 {
				if c := bytes.Compare(a.Signers[0][:], b.Signers[0][:]); c != 0 {
					return c < 0
				}
			}
			if a.Header.SequenceNumber != b.Header.SequenceNumber {
				return a.Header.SequenceNumber < b.Header.SequenceNumber
			}
			return a.Header.GlobalTime < b.Header.GlobalTime
		})
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Header.GlobalTime < out[j].Header.GlobalTime
	})
	return out
}

// collapseDuplicates removes duplicate messages within a single batch
// before store application (spec §4.3). FullSync collapses by
// (member, sequence_number), keeping the lowest global_time per spec §4.5;
// everything else collapses exact duplicate packets.
func collapseDuplicates(dist policy.Distribution, msgs []*message.Message) []*message.Message {
	if dist == policy.DistFullSync {
		type seqKey struct {
			signer string
			seq    uint32
		}
		best := make(map[seqKey]*message.Message)
		order := make([]seqKey, 0, len(msgs))
		for _, m := range msgs {
			var signer string
			if len(m.Signers) > 0 {
				signer = string(m.Signers[0][:])
			}
			k := seqKey{signer, m.Header.SequenceNumber}
			if existing, ok := best[k]; !ok {
				best[k] = m
				order = append(order, k)
			} else if m.Header.GlobalTime < existing.Header.GlobalTime {
				best[k] = m
			}
		}
		out := make([]*message.Message, 0, len(order))
		for _, k := range order {
			out = append(out, best[k])
		}
		return out
	}

	seen := make(map[string]bool, len(msgs))
	out := make([]*message.Message, 0, len(msgs))
	for _, m := range msgs {
		sig := string(m.Packet)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, m)
	}
	return out
}
