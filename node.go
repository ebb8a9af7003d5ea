package meshcore

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/decode"
	"github.com/opd-ai/meshcore/destroy"
	"github.com/opd-ai/meshcore/endpoint"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/runtime"
	"github.com/opd-ai/meshcore/store"
	"github.com/opd-ai/meshcore/syncresp"
)

// Node is the assembled, runnable core: one Runtime, one transport
// Endpoint, and the decode/sync/destroy handlers that sit between them.
// Node itself holds no admission or sync logic — it only decodes inbound
// packets and routes the result to the subsystem that owns that outcome.
type Node struct {
	Runtime   *runtime.Runtime
	Directory *member.Directory
	Decoder   *decode.Decoder
	Responder *syncresp.Responder
	Destroyer *destroy.Handler

	endpoint endpoint.Endpoint
	logger   *logrus.Entry
}

// New assembles a Node around an already-open store and transport. workers
// bounds the Runtime's store-op worker pool (see runtime.New).
func New(s *store.SQLStore, ep endpoint.Endpoint, workers int) *Node {
	rt := runtime.New(s, workers)
	dir := member.NewDirectory(0)

	return &Node{
		Runtime:   rt,
		Directory: dir,
		Decoder:   decode.New(rt.Communities, dir, rt.Tracker, rt.Tracker),
		Responder: syncresp.New(s),
		Destroyer: destroy.New(s),
		endpoint:  ep,
		logger:    logrus.WithField("component", "node"),
	}
}

// Join installs the reserved meta-messages on comm and admits it into the
// Node's community registry. Callers register their own meta-messages on
// comm only after Join returns (spec §6).
func (n *Node) Join(comm *community.Community) error {
	return n.Runtime.Boot(comm)
}

// Run drains the Node's endpoint for inbound packets and dispatches each
// one until ctx is cancelled. It returns only when ctx is done or the
// endpoint's inbound channel closes.
func (n *Node) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-n.endpoint.Inbound():
			if !ok {
				return
			}
			n.dispatch(ctx, pkt)
		}
	}
}

// dispatch classifies one inbound packet and routes it to the subsystem
// that owns its outcome: an admitted message goes to the ingest batch
// scheduler, a delayed packet is logged pending its missing dependency
// (the member/sequence/proof request flow is driven by the caller's own
// meta-message handlers, not by Node), and a dropped packet is logged with
// its reason.
func (n *Node) dispatch(ctx context.Context, pkt endpoint.Packet) {
	outcome := n.Decoder.Decode(pkt.Payload)
	n.Runtime.RecordOutcome(outcome)

	switch outcome.Kind {
	case decode.KindOK:
		n.admit(outcome)
	case decode.KindDelay:
		n.logger.WithFields(logrus.Fields{"from": pkt.From.String(), "reason": outcome.DelayReason}).Debug("meshcore: packet delayed")
	case decode.KindDrop:
		n.logger.WithFields(logrus.Fields{"from": pkt.From.String(), "reason": outcome.DropReason}).Debug("meshcore: packet dropped")
	}
}

func (n *Node) admit(outcome decode.Outcome) {
	m := outcome.Message
	comm, ok := n.Runtime.Communities.Lookup(m.Community)
	if !ok {
		n.logger.WithField("community", m.Community).Warn("meshcore: admitted message for unknown community")
		return
	}
	meta, err := comm.Meta(m.MetaName)
	if err != nil {
		n.logger.WithError(err).Warn("meshcore: admitted message names unregistered meta")
		return
	}

	n.Runtime.Batch.Submit(comm, meta, m)
}

// Respond answers a sync request against comm, returning the wire packets
// to send back to the requester (spec §4.6).
func (n *Node) Respond(ctx context.Context, comm *community.Community, req syncresp.Request) ([][]byte, error) {
	return n.Responder.Respond(ctx, comm, req)
}

// Destroy applies a hard or soft kill to comm on behalf of signer,
// returning destroy.ErrNotAuthorized if signer lacks the
// dispersy-destroy-community grant (spec §4.8).
func (n *Node) Destroy(ctx context.Context, comm *community.Community, signer member.ID, degree destroy.Degree) error {
	return n.Destroyer.Apply(ctx, comm, signer, degree)
}

// LocalAddress reports the address peers should use to reach this Node.
func (n *Node) LocalAddress() endpoint.Address {
	return n.endpoint.LocalAddress()
}

// Close shuts down the Runtime (draining batches and pending signature
// requests) and closes the transport endpoint.
func (n *Node) Close() error {
	n.Runtime.Shutdown()
	if err := n.endpoint.Close(); err != nil {
		return fmt.Errorf("meshcore: close endpoint: %w", err)
	}
	return nil
}
