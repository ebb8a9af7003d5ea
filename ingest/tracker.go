// Package ingest implements the windowed batch scheduler and the per
// (member, meta-message) sequence tracker that together turn a stream of
// decoded messages into ordered, deduplicated store commits (spec §4.3,
// §4.4, §4.5).
package ingest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
	"github.com/opd-ai/meshcore/policy"
	"github.com/opd-ai/meshcore/ratelimit"
	"github.com/opd-ai/meshcore/store"
)

// AdmitResult reports what happened to a message passed to Tracker.Admit.
type AdmitResult uint8

const (
	// Accepted means the message was newly stored.
	Accepted AdmitResult = iota
	// DuplicateDropped means an identical or stale message was discarded.
	DuplicateDropped
	// ConflictReplaced means a lower-global-time message replaced a
	// previously stored one at the same sequence number (spec §4.5).
	ConflictReplaced
	// NotSynced means the message's Distribution policy (Relay/Direct)
	// never persists to the store.
	NotSynced
)

// Tracker owns the store-backed sequence state and retention enforcement
// for every community it is given. It implements decode.SequenceChecker and
// decode.ProofChecker.
type Tracker struct {
	store        store.Store
	communities  *community.Registry
	proofLimiter *ratelimit.KeyedLimiter
	logger       *logrus.Entry
}

// NewTracker creates a Tracker backed by s. communities is consulted to
// resolve a meta-message's configured retention depth for proof checks; it
// may be nil, in which case CheckProof always reports not-superseded.
func NewTracker(s store.Store, communities *community.Registry) *Tracker {
	return &Tracker{
		store:        s,
		communities:  communities,
		proofLimiter: ratelimit.New(ratelimit.DefaultRate, ratelimit.DefaultBurst),
		logger:       logrus.WithField("component", "ingest"),
	}
}

// NextExpected reports the next sequence number a FullSync (member,
// meta-message) pair expects, per spec §4.4 ("stored_max + 1, initially 1").
func (t *Tracker) NextExpected(comm community.ID, mem member.ID, meta string) uint32 {
	sqlStore, ok := t.store.(*store.SQLStore)
	if !ok {
		return 1
	}
	max, found, err := sqlStore.MaxSequence(context.Background(), comm, mem, meta)
	if err != nil {
		t.logger.WithError(err).Warn("ingest: failed to read max sequence, assuming empty")
		return 1
	}
	if !found {
		return 1
	}
	return max + 1
}

// Admit applies m to the store under meta's Distribution policy, enforcing
// sequence contiguity and conflict resolution for FullSync (spec §4.4,
// §4.5) and cardinality for LastSync (spec I5, P3). Relay/Direct messages
// are never persisted.
func (t *Tracker) Admit(ctx context.Context, comm *community.Community, meta community.MetaMessage, m *message.Message) (AdmitResult, error) {
	sqlStore, ok := t.store.(*store.SQLStore)
	if !ok {
		return 0, fmt.Errorf("ingest: admit requires a *store.SQLStore")
	}

	switch meta.Combo.Dist {
	case policy.DistRelay, policy.DistDirect:
		return NotSynced, nil
	case policy.DistFullSync:
		return t.admitFullSync(ctx, sqlStore, comm, meta, m)
	case policy.DistLastSync:
		return t.admitLastSync(ctx, sqlStore, comm, meta, m)
	default:
		return 0, fmt.Errorf("ingest: unknown distribution %v", meta.Combo.Dist)
	}
}

func (t *Tracker) admitFullSync(ctx context.Context, s *store.SQLStore, comm *community.Community, meta community.MetaMessage, m *message.Message) (AdmitResult, error) {
	signer := m.Signers[0]
	seq := m.Header.SequenceNumber

	existing, found, err := s.FetchBySequence(ctx, comm.ID, signer, meta.Name, seq)
	if err != nil {
		return 0, err
	}

	if found {
		if m.Header.GlobalTime >= existing.GlobalTime {
			return DuplicateDropped, nil
		}
		// Lower global_time wins (spec §4.5): replace, and evict later
		// sequence entries whose ordering is now inconsistent — they will
		// be re-requested via missing-sequence.
		if err := s.DeleteSyncByID(ctx, existing.ID); err != nil {
			return 0, err
		}
		if err := s.DeleteSequenceAfter(ctx, comm.ID, signer, meta.Name, seq); err != nil {
			return 0, err
		}
		if _, err := t.insert(ctx, s, comm, meta, m); err != nil {
			return 0, err
		}
		return ConflictReplaced, nil
	}

	nextExpected := t.NextExpected(comm.ID, signer, meta.Name)
	if seq != nextExpected {
		// The decoder is responsible for parking out-of-order packets as
		// Delay(MissingSequence); anything reaching here out of order is
		// stale.
		return DuplicateDropped, nil
	}

	if seq > 1 {
		prev, found, err := s.FetchBySequence(ctx, comm.ID, signer, meta.Name, seq-1)
		if err != nil {
			return 0, err
		}
		if found && m.Header.GlobalTime <= prev.GlobalTime {
			// Monotonicity violation (spec I3, §4.4): global_time must
			// strictly increase with sequence_number.
			return DuplicateDropped, nil
		}
	}

	if _, err := t.insert(ctx, s, comm, meta, m); err != nil {
		return 0, err
	}
	return Accepted, nil
}

func (t *Tracker) admitLastSync(ctx context.Context, s *store.SQLStore, comm *community.Community, meta community.MetaMessage, m *message.Message) (AdmitResult, error) {
	id, err := t.insert(ctx, s, comm, meta, m)
	if err != nil {
		return 0, err
	}

	if len(m.Signers) == 2 {
		a, b := m.Signers[0], m.Signers[1]
		if string(b[:]) < string(a[:]) {
			a, b = b, a
		}
		if err := s.InsertDoubleSigned(ctx, id, a, b); err != nil {
			return 0, err
		}
	}

	history := meta.History
	if history < 1 {
		history = 1
	}

	key := m.Key()
	rows, err := s.RetentionRows(ctx, comm.ID, meta.Name, key)
	if err != nil {
		return 0, err
	}
	for len(rows) > history {
		evict := rows[0]
		rows = rows[1:]
		if err := s.DeleteDoubleSignedBySyncID(ctx, evict.ID); err != nil {
			return 0, err
		}
		if err := s.DeleteSyncByID(ctx, evict.ID); err != nil {
			return 0, err
		}
	}

	return Accepted, nil
}

// CheckProof implements decode.ProofChecker: it reports whether a LastSync
// message arriving at meta/key with incomingGlobalTime would be evicted the
// instant it was admitted (its retention key already holds History entries
// all no older than it), and if so, the packet of the message whose
// existence proves it (design note (iii), scenario 4). Retransmission of
// the proof itself is rate-limited per retention key.
func (t *Tracker) CheckProof(comm community.ID, meta, key string, incomingGlobalTime uint64) ([]byte, bool) {
	sqlStore, ok := t.store.(*store.SQLStore)
	if !ok {
		return nil, false
	}

	history, ok := t.history(comm, meta)
	if !ok {
		return nil, false
	}

	rows, err := sqlStore.RetentionRows(context.Background(), comm, meta, key)
	if err != nil {
		t.logger.WithError(err).Warn("ingest: failed to read retention rows for proof check")
		return nil, false
	}
	if len(rows) < history {
		return nil, false
	}
	if incomingGlobalTime > rows[0].GlobalTime {
		return nil, false
	}
	if !t.proofLimiter.Allow(key) {
		return nil, false
	}
	winner := rows[len(rows)-1]
	return winner.Packet, true
}

// history returns the configured retention depth for a (community,
// meta-message) pair, defaulting to 1 (spec §4.5).
func (t *Tracker) history(comm community.ID, metaName string) (int, bool) {
	if t.communities == nil {
		return 0, false
	}
	c, ok := t.communities.Lookup(comm)
	if !ok {
		return 0, false
	}
	meta, err := c.Meta(metaName)
	if err != nil {
		return 0, false
	}
	if meta.History < 1 {
		return 1, true
	}
	return meta.History, true
}

func (t *Tracker) insert(ctx context.Context, s *store.SQLStore, comm *community.Community, meta community.MetaMessage, m *message.Message) (int64, error) {
	var signer member.ID
	if len(m.Signers) > 0 {
		signer = m.Signers[0]
	}
	return s.InsertSync(ctx, store.SyncRow{
		Community:      comm.ID,
		Member:         signer,
		RetentionKey:   m.Key(),
		MetaMessage:    meta.Name,
		GlobalTime:     m.Header.GlobalTime,
		SequenceNumber: m.Header.SequenceNumber,
		Packet:         m.Packet,
	})
}
