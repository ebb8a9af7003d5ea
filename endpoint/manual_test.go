package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualDeliversDeterministically(t *testing.T) {
	newPeer := NewManualNetwork()
	n1 := newPeer(Address{Host: "n1", Port: 1})
	n2 := newPeer(Address{Host: "n2", Port: 1})
	t.Cleanup(func() { n1.Close(); n2.Close() })

	require.NoError(t, n1.Send([]Address{n2.LocalAddress()}, []byte("hello")))

	select {
	case pkt := <-n2.Inbound():
		require.Equal(t, "hello", string(pkt.Payload))
		require.Equal(t, n1.LocalAddress(), pkt.From)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestManualSendToUnknownPeerReturnsError(t *testing.T) {
	newPeer := NewManualNetwork()
	n1 := newPeer(Address{Host: "n1", Port: 1})
	t.Cleanup(func() { n1.Close() })

	err := n1.Send([]Address{{Host: "ghost", Port: 9}}, []byte("x"))
	require.ErrorIs(t, err, ErrPeerUnknown)
}
