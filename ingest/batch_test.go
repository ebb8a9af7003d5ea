package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
	"github.com/opd-ai/meshcore/policy"
	"github.com/opd-ai/meshcore/store"
)

func TestBatchOfTenCommitsAfterWindow(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tracker := NewTracker(s, nil)
	scheduler := NewBatchScheduler(tracker)

	var comm community.ID
	comm[0] = 1
	var mid member.ID
	mid[0] = 2
	c := community.New(mid, mid)
	c.ID = comm

	meta := community.MetaMessage{
		Name:             "batched-text",
		Combo:            policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistFullSync, Dest: policy.DestCommunity},
		MaxWindowSeconds: 0.05,
		MaxSize:          1000, // large enough that only the timer flushes
	}

	for i := 0; i < 10; i++ {
		seq := uint32(i + 1)
		gt := uint64(10 + i)
		m := &message.Message{
			Community: comm,
			MetaName:  "batched-text",
			Payload:   message.Permit{Data: []byte("x")},
			Signers:   []member.ID{mid},
			Header:    message.DistributionHeader{GlobalTime: gt, SequenceNumber: seq},
			Packet:    []byte{byte(gt), byte(seq)},
		}
		scheduler.Submit(c, meta, m)
	}

	n, err := s.Count(context.Background(), "sync", "community = ?", comm[:])
	require.NoError(t, err)
	require.Equal(t, int64(0), n, "nothing should be stored before the window elapses")

	require.Eventually(t, func() bool {
		n, err := s.Count(context.Background(), "sync", "community = ?", comm[:])
		return err == nil && n == 10
	}, time.Second, 10*time.Millisecond)
}

func TestBatchCollapsesDuplicateSequenceKeepingLowerGlobalTime(t *testing.T) {
	var comm community.ID
	var a member.ID
	a[0] = 1

	m1 := &message.Message{Community: comm, MetaName: "text", Signers: []member.ID{a}, Header: message.DistributionHeader{GlobalTime: 10, SequenceNumber: 1}, Packet: []byte{1}}
	m2 := &message.Message{Community: comm, MetaName: "text", Signers: []member.ID{a}, Header: message.DistributionHeader{GlobalTime: 5, SequenceNumber: 1}, Packet: []byte{2}}

	out := collapseDuplicates(policy.DistFullSync, []*message.Message{m1, m2})
	require.Len(t, out, 1)
	require.Equal(t, uint64(5), out[0].Header.GlobalTime)
}
