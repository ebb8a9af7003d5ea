package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
	"github.com/opd-ai/meshcore/policy"
	"github.com/opd-ai/meshcore/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.SQLStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewTracker(s, nil), s
}

func fullSyncMeta(history int) community.MetaMessage {
	return community.MetaMessage{
		Name:  "text",
		Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistFullSync, Dest: policy.DestCommunity},
	}
}

func lastSyncMeta(history int) community.MetaMessage {
	return community.MetaMessage{
		Name:    "last1",
		Combo:   policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistLastSync, Dest: policy.DestCommunity},
		History: history,
	}
}

func msgFullSync(comm community.ID, mid member.ID, gt uint64, seq uint32) *message.Message {
	return &message.Message{
		Community: comm,
		MetaName:  "text",
		Payload:   message.Permit{Data: []byte("x")},
		Signers:   []member.ID{mid},
		Header:    message.DistributionHeader{GlobalTime: gt, SequenceNumber: seq},
		Packet:    []byte{byte(gt), byte(seq)},
	}
}

func TestSequenceConflictResolution(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	var comm community.ID
	comm[0] = 1
	var mid member.ID
	mid[0] = 2
	c := community.New(mid, mid)
	c.ID = comm
	meta := fullSyncMeta(0)

	// admit M@6#1
	res, err := tracker.Admit(ctx, c, meta, msgFullSync(comm, mid, 6, 1))
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	// admit M@5#1 — lower global_time wins, replaces
	res, err = tracker.Admit(ctx, c, meta, msgFullSync(comm, mid, 5, 1))
	require.NoError(t, err)
	require.Equal(t, ConflictReplaced, res)

	row, found, err := storeFetch(t, tracker, comm, mid, "text", 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(5), row.GlobalTime)

	// M@4#2 and M@5#2 both rejected: seq 2 is next-expected, but neither
	// global_time exceeds the stored seq-1 global_time of 5 (monotonicity).
	res, err = tracker.Admit(ctx, c, meta, msgFullSync(comm, mid, 4, 2))
	require.NoError(t, err)
	require.Equal(t, DuplicateDropped, res)
	res, err = tracker.Admit(ctx, c, meta, msgFullSync(comm, mid, 5, 2))
	require.NoError(t, err)
	require.Equal(t, DuplicateDropped, res)

	comm2 := community.ID{9}
	mid2 := member.ID{9}
	c2 := community.New(mid2, mid2)
	c2.ID = comm2

	require.NoError(t, admitAll(ctx, tracker, c2, meta,
		msgFullSync(comm2, mid2, 6, 1),
		msgFullSync(comm2, mid2, 5, 1), // replaces #1
	))
	res, err = tracker.Admit(ctx, c2, meta, msgFullSync(comm2, mid2, 6, 2))
	require.NoError(t, err)
	require.Equal(t, Accepted, res)
	res, err = tracker.Admit(ctx, c2, meta, msgFullSync(comm2, mid2, 8, 3))
	require.NoError(t, err)
	require.Equal(t, Accepted, res)
	res, err = tracker.Admit(ctx, c2, meta, msgFullSync(comm2, mid2, 9, 4))
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	// M@7#3 accepted (lower global_time than stored #3@8), evicting #4 (now inconsistent)
	res, err = tracker.Admit(ctx, c2, meta, msgFullSync(comm2, mid2, 7, 3))
	require.NoError(t, err)
	require.Equal(t, ConflictReplaced, res)

	_, found, err = storeFetch(t, tracker, comm2, mid2, "text", 4)
	require.NoError(t, err)
	require.False(t, found, "sequence 4 should have been evicted after its predecessor's replacement")
}

func admitAll(ctx context.Context, tracker *Tracker, c *community.Community, meta community.MetaMessage, msgs ...*message.Message) error {
	for _, m := range msgs {
		if _, err := tracker.Admit(ctx, c, meta, m); err != nil {
			return err
		}
	}
	return nil
}

func storeFetch(t *testing.T, tracker *Tracker, comm community.ID, mid member.ID, meta string, seq uint32) (store.SyncRow, bool, error) {
	t.Helper()
	s := tracker.store.(*store.SQLStore)
	return s.FetchBySequence(context.Background(), comm, mid, meta, seq)
}

func TestLastSyncReplacement(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	var comm community.ID
	comm[0] = 3
	var mid member.ID
	mid[0] = 4
	c := community.New(mid, mid)
	c.ID = comm
	meta := lastSyncMeta(1)

	m10 := &message.Message{Community: comm, MetaName: "last1", Payload: message.Permit{Data: []byte("a")}, Signers: []member.ID{mid}, Header: message.DistributionHeader{GlobalTime: 10}, Packet: []byte{10}}
	m11 := &message.Message{Community: comm, MetaName: "last1", Payload: message.Permit{Data: []byte("b")}, Signers: []member.ID{mid}, Header: message.DistributionHeader{GlobalTime: 11}, Packet: []byte{11}}
	m9 := &message.Message{Community: comm, MetaName: "last1", Payload: message.Permit{Data: []byte("c")}, Signers: []member.ID{mid}, Header: message.DistributionHeader{GlobalTime: 9}, Packet: []byte{9}}

	require.NoError(t, admitAll(ctx, tracker, c, meta, m10, m11, m9))

	s := tracker.store.(*store.SQLStore)
	rows, err := s.RetentionRows(ctx, comm, "last1", m10.Key())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, uint64(11), rows[0].GlobalTime)
}

func TestNextExpectedDefaultsToOne(t *testing.T) {
	tracker, _ := newTestTracker(t)
	var comm community.ID
	var mid member.ID
	require.Equal(t, uint32(1), tracker.NextExpected(comm, mid, "text"))
}
