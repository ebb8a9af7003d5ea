// Package runtime implements the Runtime handle from Design Note "Global
// reactor": constructed once at boot and passed to every component, it owns
// the bounded worker pool blocking store I/O runs on and exposes the three
// suspension points named in spec §5 — a store operation, a batch window
// timer, and a pending signature response — as context-cancellable awaits.
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/ingest"
	"github.com/opd-ai/meshcore/policy"
	"github.com/opd-ai/meshcore/signing"
	"github.com/opd-ai/meshcore/store"
)

// ErrShuttingDown is returned by operations submitted after Shutdown starts.
var ErrShuttingDown = errors.New("runtime: shutting down")

// DefaultWorkers bounds the store-op worker pool when New is given workers
// <= 0, matching the teacher's sized-pool discipline (no goroutine-per-
// request fan-out).
const DefaultWorkers = 8

// Runtime is the cooperative event-loop handle. Handlers take a
// context.Context and must not stash pointers across an await; the only
// places they may await are the three suspension points this type exposes
// (spec §5).
type Runtime struct {
	Store       store.Store
	Communities *community.Registry
	Tracker     *ingest.Tracker
	Batch       *ingest.BatchScheduler
	Signing     *signing.Coordinator

	stats *stats

	pool chan struct{}
	wg   sync.WaitGroup

	shutdownOnce sync.Once
	shuttingDown chan struct{}

	logger *logrus.Entry
}

// New constructs a Runtime backed by s. workers bounds the number of store
// operations that may run concurrently through SuspendStoreOp; a value <= 0
// uses DefaultWorkers.
func New(s store.Store, workers int) *Runtime {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	communities := community.NewRegistry()
	tracker := ingest.NewTracker(s, communities)

	return &Runtime{
		Store:        s,
		Communities:  communities,
		Tracker:      tracker,
		Batch:        ingest.NewBatchScheduler(tracker),
		Signing:      signing.New(tracker),
		stats:        &stats{},
		pool:         make(chan struct{}, workers),
		shuttingDown: make(chan struct{}),
		logger:       logrus.WithField("component", "runtime"),
	}
}

// Boot joins comm into the Runtime's community registry after installing
// the reserved meta-messages on it (spec §6: "registered by runtime.Runtime
// at boot before any user meta-message"). Callers register their own
// meta-messages on comm only after Boot returns.
func (rt *Runtime) Boot(comm *community.Community) error {
	if err := registerReserved(comm); err != nil {
		return err
	}
	rt.Communities.Join(comm)
	return nil
}

// Shutdown drains in-flight batches and aborts pending signature requests
// as timeouts (spec §5's cancellation semantics), then waits for every
// outstanding SuspendStoreOp call to finish. Safe to call more than once.
func (rt *Runtime) Shutdown() {
	rt.shutdownOnce.Do(func() {
		close(rt.shuttingDown)
		rt.Batch.Shutdown()
		rt.Signing.Shutdown()
		rt.logger.Info("runtime: shutdown drained batches and pending signature requests")
	})
	rt.wg.Wait()
}

var reservedCombos = []community.MetaMessage{
	{Name: community.MetaMissingSequence, Combo: policy.Combination{Auth: policy.AuthNone, Res: policy.ResPublic, Dist: policy.DistDirect, Dest: policy.DestAddress}},
	{Name: community.MetaMissingProof, Combo: policy.Combination{Auth: policy.AuthNone, Res: policy.ResPublic, Dist: policy.DistDirect, Dest: policy.DestAddress}},
	{Name: community.MetaSignatureRequest, Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistDirect, Dest: policy.DestMember}},
	{Name: community.MetaSignatureResponse, Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistDirect, Dest: policy.DestMember}},
	{Name: community.MetaDestroyCommunity, Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResLinear, Dist: policy.DistFullSync, Dest: policy.DestCommunity}},
	{Name: community.MetaIntroductionReq, Combo: policy.Combination{Auth: policy.AuthNone, Res: policy.ResPublic, Dist: policy.DistDirect, Dest: policy.DestAddress}},
	{Name: community.MetaIdentity, Combo: policy.Combination{Auth: policy.AuthMember, Res: policy.ResPublic, Dist: policy.DistFullSync, Dest: policy.DestCommunity}},
}

// registerReserved installs the seven reserved meta-message names (spec §6)
// on comm. Their policy combinations are an Open Question resolution (see
// DESIGN.md): the source text names the seven reserved identifiers but does
// not pin their axes, so each was chosen to be the least restrictive
// combination that matches its role (the identity and destroy-community
// messages flow through the normal sync path; everything else is a direct
// one-shot exchange between two known peers).
func registerReserved(comm *community.Community) error {
	for _, m := range reservedCombos {
		if err := comm.RegisterMeta(m); err != nil {
			return fmt.Errorf("runtime: register reserved meta %s: %w", m.Name, err)
		}
	}
	return nil
}
