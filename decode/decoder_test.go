package decode

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/ingest"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
	"github.com/opd-ai/meshcore/policy"
	"github.com/opd-ai/meshcore/store"
)

type fakeSequences struct {
	next uint32
}

func (f *fakeSequences) NextExpected(comm community.ID, mem member.ID, meta string) uint32 {
	return f.next
}

func setupCommunity(t *testing.T) (*community.Registry, *community.Community, member.ID, [32]byte, [32]byte) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	masterID := member.IDFromPublicKey(kp.Public)
	comm := community.New(masterID, masterID)
	comm.ID = community.ID(masterID)

	err = comm.RegisterMeta(community.MetaMessage{
		Name:  "text",
		Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistFullSync, Dest: policy.DestCommunity},
	})
	require.NoError(t, err)

	reg := community.NewRegistry()
	reg.Join(comm)

	return reg, comm, masterID, kp.Public, kp.Private
}

func signedMessage(t *testing.T, comm community.ID, metaName string, mid member.ID, priv [32]byte, seq uint32) *message.Message {
	t.Helper()
	m := &message.Message{
		Community: comm,
		MetaName:  metaName,
		Payload:   message.Permit{Data: []byte("hello")},
		Signers:   []member.ID{mid},
		Header:    message.DistributionHeader{GlobalTime: 100, SequenceNumber: seq},
	}
	require.NoError(t, m.Sign(priv))
	_, err := m.Encode()
	require.NoError(t, err)
	return m
}

func TestDecodeAdmitsWellFormedMessage(t *testing.T) {
	reg, comm, masterID, pub, priv := setupCommunity(t)
	dir := member.NewDirectory(0)
	dir.Register(pub, 1)

	d := New(reg, dir, &fakeSequences{next: 1}, nil)

	m := signedMessage(t, comm.ID, "text", masterID, priv, 1)
	outcome := d.Decode(m.Packet)

	require.Equal(t, KindOK, outcome.Kind)
	require.Equal(t, "text", outcome.Message.MetaName)
}

func TestDecodeDelaysOnMissingMember(t *testing.T) {
	reg, comm, masterID, _, priv := setupCommunity(t)
	dir := member.NewDirectory(0) // signer never registered

	d := New(reg, dir, &fakeSequences{next: 1}, nil)

	m := signedMessage(t, comm.ID, "text", masterID, priv, 1)
	outcome := d.Decode(m.Packet)

	require.Equal(t, KindDelay, outcome.Kind)
	require.Equal(t, DelayMissingMember, outcome.DelayReason)
	require.Equal(t, masterID, outcome.MissingMember)
}

func TestDecodeDropsOnBadSignature(t *testing.T) {
	reg, comm, masterID, pub, _ := setupCommunity(t)
	dir := member.NewDirectory(0)
	dir.Register(pub, 1)

	otherKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	d := New(reg, dir, &fakeSequences{next: 1}, nil)

	// Sign with the wrong key but claim to be masterID.
	m := signedMessage(t, comm.ID, "text", masterID, otherKP.Private, 1)
	outcome := d.Decode(m.Packet)

	require.Equal(t, KindDrop, outcome.Kind)
	require.Equal(t, DropBadSignature, outcome.DropReason)
}

func TestDecodeDelaysOnMissingSequence(t *testing.T) {
	reg, comm, masterID, pub, priv := setupCommunity(t)
	dir := member.NewDirectory(0)
	dir.Register(pub, 1)

	d := New(reg, dir, &fakeSequences{next: 1}, nil)

	m := signedMessage(t, comm.ID, "text", masterID, priv, 5)
	outcome := d.Decode(m.Packet)

	require.Equal(t, KindDelay, outcome.Kind)
	require.Equal(t, DelayMissingSequence, outcome.DelayReason)
	require.Equal(t, uint32(1), outcome.MissingSeqLow)
	require.Equal(t, uint32(4), outcome.MissingSeqHigh)
}

func TestDecodeDropsUnregisteredMetaMessage(t *testing.T) {
	reg, comm, masterID, pub, priv := setupCommunity(t)
	dir := member.NewDirectory(0)
	dir.Register(pub, 1)

	d := New(reg, dir, &fakeSequences{next: 1}, nil)

	m := signedMessage(t, comm.ID, "unregistered", masterID, priv, 1)
	outcome := d.Decode(m.Packet)

	require.Equal(t, KindDrop, outcome.Kind)
	require.Equal(t, DropForbiddenPolicy, outcome.DropReason)
}

func TestDecodeDelaysOnMissingProofForLinearResolution(t *testing.T) {
	reg, comm, masterID, pub, _ := setupCommunity(t)

	signerKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signerID := member.IDFromPublicKey(signerKP.Public)

	require.NoError(t, comm.RegisterMeta(community.MetaMessage{
		Name:    "linear-text",
		Combo:   policy.Combination{Auth: policy.AuthMember, Res: policy.ResLinear, Dist: policy.DistLastSync, Dest: policy.DestCommunity},
		History: 1,
	}))

	dir := member.NewDirectory(0)
	dir.Register(pub, 1)
	dir.Register(signerKP.Public, 2)

	d := New(reg, dir, &fakeSequences{next: 1}, nil)

	m := signedMessage(t, comm.ID, "linear-text", signerID, signerKP.Private, 0)
	outcome := d.Decode(m.Packet)
	require.Equal(t, KindDelay, outcome.Kind)
	require.Equal(t, DelayMissingProof, outcome.DelayReason)

	comm.Grant("linear-text", signerID)
	outcome = d.Decode(m.Packet)
	require.Equal(t, KindOK, outcome.Kind)

	_ = masterID
}

// TestDecodeDropsByProofForSupersededLastSync wires a real ingest.Tracker in
// as the decoder's ProofChecker and confirms a stale LastSync message is
// rejected with the winning message's packet attached (design note (iii),
// scenario 4), rather than being re-admitted and immediately evicted.
func TestDecodeDropsByProofForSupersededLastSync(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	masterID := member.IDFromPublicKey(kp.Public)

	comm := community.New(masterID, masterID)
	comm.ID = community.ID(masterID)
	require.NoError(t, comm.RegisterMeta(community.MetaMessage{
		Name:    "last1",
		Combo:   policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistLastSync, Dest: policy.DestCommunity},
		History: 1,
	}))

	reg := community.NewRegistry()
	reg.Join(comm)

	dir := member.NewDirectory(0)
	dir.Register(kp.Public, 1)

	s, err := store.Open(filepath.Join(t.TempDir(), "proof.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tracker := ingest.NewTracker(s, reg)

	winner := &message.Message{
		Community: comm.ID,
		MetaName:  "last1",
		Payload:   message.Permit{Data: []byte("winner")},
		Signers:   []member.ID{masterID},
		Header:    message.DistributionHeader{GlobalTime: 100},
	}
	require.NoError(t, winner.Sign(kp.Private))
	_, err = winner.Encode()
	require.NoError(t, err)

	meta, err := comm.Meta("last1")
	require.NoError(t, err)
	_, err = tracker.Admit(context.Background(), comm, meta, winner)
	require.NoError(t, err)

	d := New(reg, dir, &fakeSequences{next: 1}, tracker)

	stale := &message.Message{
		Community: comm.ID,
		MetaName:  "last1",
		Payload:   message.Permit{Data: []byte("stale")},
		Signers:   []member.ID{masterID},
		Header:    message.DistributionHeader{GlobalTime: 50},
	}
	require.NoError(t, stale.Sign(kp.Private))
	_, err = stale.Encode()
	require.NoError(t, err)

	outcome := d.Decode(stale.Packet)
	require.Equal(t, KindDrop, outcome.Kind)
	require.Equal(t, DropByProof, outcome.DropReason)
	require.Equal(t, winner.Packet, outcome.ProofPacket)
}
