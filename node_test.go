package meshcore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/endpoint"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
	"github.com/opd-ai/meshcore/policy"
	"github.com/opd-ai/meshcore/store"
)

func newTestNode(t *testing.T, addr endpoint.Address, newPeer func(endpoint.Address) *endpoint.Manual) (*Node, *community.Community, crypto.KeyPair) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ep, err := endpoint.New(true, newPeer, addr)
	require.NoError(t, err)

	node := New(s, ep, 2)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	masterID := member.IDFromPublicKey(kp.Public)
	comm := community.New(masterID, masterID)
	comm.ID = community.ID(masterID)

	require.NoError(t, node.Join(comm))
	require.NoError(t, comm.RegisterMeta(community.MetaMessage{
		Name:  "chat",
		Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistDirect, Dest: policy.DestMember},
	}))

	node.Directory.Register(kp.Public, 1)

	return node, comm, *kp
}

func TestNodeRunAdmitsDirectMessageFromWire(t *testing.T) {
	newPeer := endpoint.NewManualNetwork()
	sender, _, senderKey := newTestNode(t, endpoint.Address{Host: "sender", Port: 1}, newPeer)
	receiver, recvComm, _ := newTestNode(t, endpoint.Address{Host: "receiver", Port: 1}, newPeer)
	t.Cleanup(func() { sender.Close(); receiver.Close() })

	recvComm.RegisterMeta(community.MetaMessage{
		Name:  "chat",
		Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistDirect, Dest: policy.DestMember},
	})

	senderID := member.IDFromPublicKey(senderKey.Public)
	receiver.Directory.Register(senderKey.Public, 1)

	msg := &message.Message{
		Community: recvComm.ID,
		MetaName:  "chat",
		Payload:   message.Permit{Data: []byte("hello")},
		Signers:   []member.ID{senderID},
	}
	require.NoError(t, msg.Sign(senderKey.Private))
	packet, err := msg.Encode()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go receiver.Run(ctx)
	defer cancel()

	require.NoError(t, sender.endpoint.Send([]endpoint.Address{receiver.LocalAddress()}, packet))

	require.Eventually(t, func() bool {
		return receiver.Runtime.Stats().Admitted >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestNodeDestroyRejectsUnauthorizedSigner(t *testing.T) {
	newPeer := endpoint.NewManualNetwork()
	node, comm, _ := newTestNode(t, endpoint.Address{Host: "solo", Port: 1}, newPeer)
	t.Cleanup(func() { node.Close() })

	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	otherID := member.IDFromPublicKey(other.Public)

	err = node.Destroy(context.Background(), comm, otherID, 0)
	require.Error(t, err)
}
