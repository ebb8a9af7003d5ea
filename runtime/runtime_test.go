package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/decode"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/store"
)

func setupRuntime(t *testing.T) (*Runtime, *community.Community) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rt := New(s, 2)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	masterID := member.IDFromPublicKey(kp.Public)
	comm := community.New(masterID, masterID)
	comm.ID = community.ID(masterID)

	require.NoError(t, rt.Boot(comm))
	return rt, comm
}

func TestBootRegistersReservedMetaMessagesBeforeUserMeta(t *testing.T) {
	rt, comm := setupRuntime(t)
	_ = rt

	names := comm.MetaNames()
	require.Contains(t, names, community.MetaIdentity)
	require.Contains(t, names, community.MetaDestroyCommunity)
	require.Contains(t, names, community.MetaSignatureRequest)
	require.Len(t, names, 7)
}

func TestSuspendStoreOpRunsOnWorkerPool(t *testing.T) {
	rt, _ := setupRuntime(t)

	var ran bool
	err := rt.SuspendStoreOp(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestSuspendStoreOpHonorsContextCancellation(t *testing.T) {
	rt, _ := setupRuntime(t)

	// Saturate the one-slot pool with a blocked op, then confirm a second
	// call returns promptly once its context is cancelled rather than
	// waiting for a free slot.
	rt.pool = make(chan struct{}, 1)
	rt.pool <- struct{}{}
	defer func() { <-rt.pool }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rt.SuspendStoreOp(ctx, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownIsIdempotent(t *testing.T) {
	rt, _ := setupRuntime(t)

	rt.Shutdown()
	rt.Shutdown() // must not panic or block a second time
}

func TestRecordOutcomeUpdatesStats(t *testing.T) {
	rt, _ := setupRuntime(t)

	rt.RecordOutcome(decode.Outcome{Kind: decode.KindOK})
	rt.RecordOutcome(decode.Outcome{Kind: decode.KindDrop})
	rt.RecordOutcome(decode.Outcome{Kind: decode.KindDrop})
	rt.RecordOutcome(decode.Outcome{Kind: decode.KindDelay})

	snap := rt.Stats()
	require.Equal(t, uint64(1), snap.Admitted)
	require.Equal(t, uint64(2), snap.Dropped)
	require.Equal(t, uint64(1), snap.Delayed)
}
