// Package signing implements the double-member signing protocol (spec
// §4.7): an initiator builds a sub-message naming a second signatory,
// requests that signatory's signature over a Noise-secured channel, and
// installs the fully-signed message once the response arrives. Pending
// requests expire with ErrTimeout after the coordinator's timeout.
package signing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/ingest"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
)

// DefaultTimeout is how long a signature request stays pending before it
// expires with ErrTimeout.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotAwaited is returned when a response arrives for an identifier
	// with no outstanding request.
	ErrNotAwaited = errors.New("signing: no pending request for identifier")
	// ErrWrongSignatory is returned when a response is signed by a member
	// other than the one the request named.
	ErrWrongSignatory = errors.New("signing: response signed by unexpected member")
	// ErrTimeout is returned to a waiter whose request expired.
	ErrTimeout = errors.New("signing: request timed out")
	// ErrNotAuthorized is returned when a responder declines to co-sign
	// because the sub-message violates local policy.
	ErrNotAuthorized = errors.New("signing: counter-signature declined")
)

// pendingRequest tracks one outstanding signature-request awaiting a
// signature-response from Counterparty.
type pendingRequest struct {
	comm         *community.Community
	meta         community.MetaMessage
	submsg       *message.Message
	counterparty member.ID
	timer        *time.Timer
	done         chan result
}

type result struct {
	msg *message.Message
	err error
}

// Coordinator tracks outstanding double-signer requests for every community
// it serves and installs completed messages through an ingest.Tracker.
type Coordinator struct {
	tracker *ingest.Tracker

	mu      sync.Mutex
	pending map[uint32]*pendingRequest
	nextID  uint32

	timeout time.Duration
	logger  *logrus.Entry
}

// New creates a Coordinator that installs completed messages through tracker.
func New(tracker *ingest.Tracker) *Coordinator {
	return &Coordinator{
		tracker: tracker,
		pending: make(map[uint32]*pendingRequest),
		timeout: DefaultTimeout,
		logger:  logrus.WithField("component", "signing"),
	}
}

// Request builds a signature-request for submsg (already signed by the
// initiator, its sole entry in Signers/Signatures so far) naming
// counterparty as the second signatory, and registers a pending wait. The
// returned identifier is carried in the wire signature-request/-response
// pair; the caller is responsible for transport (secured via a Noise
// session, see Session).
func (c *Coordinator) Request(comm *community.Community, meta community.MetaMessage, submsg *message.Message, counterparty member.ID) (identifier uint32, wait <-chan struct{ Msg *message.Message; Err error }, cancel func(), err error) {
	if len(submsg.Signers) != 1 {
		return 0, nil, nil, fmt.Errorf("signing: submsg must carry exactly one signature before request, got %d", len(submsg.Signers))
	}

	c.mu.Lock()
	identifier = c.nextID
	c.nextID++
	pr := &pendingRequest{
		comm:         comm,
		meta:         meta,
		submsg:       submsg,
		counterparty: counterparty,
		done:         make(chan result, 1),
	}
	pr.timer = time.AfterFunc(c.timeout, func() { c.expire(identifier) })
	c.pending[identifier] = pr
	c.mu.Unlock()

	outCh := make(chan struct {
		Msg *message.Message
		Err error
	}, 1)
	go func() {
		r := <-pr.done
		outCh <- struct {
			Msg *message.Message
			Err error
		}{r.msg, r.err}
	}()

	return identifier, outCh, func() { c.expire(identifier) }, nil
}

func (c *Coordinator) expire(identifier uint32) {
	c.mu.Lock()
	pr, ok := c.pending[identifier]
	if ok {
		delete(c.pending, identifier)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	pr.timer.Stop()
	pr.done <- result{nil, ErrTimeout}
}

// HandleRequest is invoked on the responder side with a signature-request's
// submsg and identifier. authorized reports whether local policy permits
// co-signing (e.g. the responder is willing to attest to submsg's
// contents); when true, self is appended to the signer list and the submsg
// is counter-signed with priv, producing the signature-response's submsg
// for transport back to the initiator.
func (c *Coordinator) HandleRequest(submsg *message.Message, self member.ID, authorized bool, priv [32]byte) (*message.Message, error) {
	if !authorized {
		return nil, ErrNotAuthorized
	}

	resp := *submsg
	resp.Signers = append(append([]member.ID{}, submsg.Signers...), self)
	resp.Signatures = append([]crypto.Signature{}, submsg.Signatures...)
	if err := resp.Sign(priv); err != nil {
		return nil, fmt.Errorf("signing: counter-sign: %w", err)
	}
	return &resp, nil
}

// HandleResponse completes the pending request identified by identifier
// with the fully-signed message, checking that the second signer is the
// expected counterparty (the signature itself is not verified here), then
// installs the message into the store and
// wakes the Request caller.
func (c *Coordinator) HandleResponse(ctx context.Context, identifier uint32, signed *message.Message) error {
	c.mu.Lock()
	pr, ok := c.pending[identifier]
	if ok {
		delete(c.pending, identifier)
	}
	c.mu.Unlock()
	if !ok {
		return ErrNotAwaited
	}
	pr.timer.Stop()

	if len(signed.Signers) != 2 || signed.Signers[1] != pr.counterparty {
		err := ErrWrongSignatory
		pr.done <- result{nil, err}
		return err
	}

	if _, err := c.tracker.Admit(ctx, pr.comm, pr.meta, signed); err != nil {
		pr.done <- result{nil, err}
		return err
	}

	pr.done <- result{signed, nil}
	return nil
}

// Pending reports the number of outstanding requests, for tests and
// shutdown draining.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown expires every outstanding request immediately (spec §5:
// "aborts pending signature-requests, surfaced as timeout to caller").
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	ids := make([]uint32, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.expire(id)
	}
}
