package runtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
)

// SuspendStoreOp runs fn on the bounded worker pool, the first of the three
// named suspension points (spec §5: "store op"). fn runs on the calling
// goroutine once a pool slot is free. ctx cancellation (or shutdown) is
// honoured only while waiting for a slot; once fn starts, the call returns
// when fn returns. Each call is tagged with a fresh
// token purely for log correlation across the suspend/resume boundary.
func (rt *Runtime) SuspendStoreOp(ctx context.Context, fn func(context.Context) error) error {
	token := uuid.New()
	logger := rt.logger.WithField("suspend_token", token)

	select {
	case <-rt.shuttingDown:
		return ErrShuttingDown
	default:
	}

	select {
	case rt.pool <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.shuttingDown:
		return ErrShuttingDown
	}
	defer func() { <-rt.pool }()

	rt.wg.Add(1)
	defer rt.wg.Done()

	logger.Debug("runtime: store op suspended")
	err := fn(ctx)
	if err != nil {
		logger.WithError(err).Debug("runtime: store op resumed with error")
	} else {
		logger.Debug("runtime: store op resumed")
	}
	return err
}

// AwaitSignature issues a double-signature request through rt.Signing and
// blocks on its outcome, the third named suspension point (spec §5:
// "pending signature-response"). Cancelling ctx aborts the wait and
// expires the pending entry at once through the request's cancel func;
// it does not un-send a request already on the wire.
func (rt *Runtime) AwaitSignature(ctx context.Context, comm *community.Community, meta community.MetaMessage, submsg *message.Message, counterparty member.ID) (*message.Message, error) {
	_, wait, cancel, err := rt.Signing.Request(comm, meta, submsg, counterparty)
	if err != nil {
		return nil, fmt.Errorf("runtime: signature request: %w", err)
	}

	select {
	case result := <-wait:
		return result.Msg, result.Err
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case <-rt.shuttingDown:
		cancel()
		return nil, ErrShuttingDown
	}
}
