// Package community implements the per-community namespace: the registered
// set of meta-messages, the master/my-member identities, and the
// Lamport-style global time clock shared by every message the community
// accepts or originates.
package community

import (
	"crypto/sha1"
	"errors"
	"sort"
	"sync"

	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/policy"
)

// ErrUnknownMetaMessage is returned when an operation names a meta-message
// the community never registered.
var ErrUnknownMetaMessage = errors.New("community: unknown meta-message")

// Reserved meta-message names used internally by the core (spec §6).
const (
	MetaMissingSequence   = "dispersy-missing-sequence"
	MetaMissingProof      = "dispersy-missing-proof"
	MetaSignatureRequest  = "dispersy-signature-request"
	MetaSignatureResponse = "dispersy-signature-response"
	MetaDestroyCommunity  = "dispersy-destroy-community"
	MetaIntroductionReq   = "dispersy-introduction-request"
	MetaIdentity          = "dispersy-identity"
)

// ID identifies a community: the SHA-1 digest of its master member's public key.
type ID [20]byte

// IDFromMasterKey derives a community id from its master member's public key.
func IDFromMasterKey(masterPublicKey [32]byte) ID {
	return ID(sha1.Sum(masterPublicKey[:]))
}

// MetaMessage is the immutable template for a message type: a name plus the
// four policy axes and optional batch/priority/ordering attributes.
type MetaMessage struct {
	Name     string
	Combo    policy.Combination
	Ordering policy.Ordering

	// MaxWindowSeconds and MaxSize configure the ingestion batch window
	// (0 disables that trigger: no window timer, or no size-based flush);
	// both zero disables batching and commits each message immediately.
	MaxWindowSeconds float64
	MaxSize          int

	// Priority orders this meta-message's output relative to others when
	// the sync responder concatenates multiple meta-messages (§4.6).
	Priority int

	// History is the retention depth N for DistLastSync meta-messages.
	History int
}

// Community is a namespace of cooperating peers: its registered schema, its
// own (my) member identity, the community's master member, and its global
// time clock.
type Community struct {
	ID           ID
	MasterMember member.ID
	MyMember     member.ID

	Registry *policy.Registry

	mu        sync.Mutex
	metas     map[string]MetaMessage
	metaOrder []string // declaration order, for sync responder concatenation (spec §4.6)

	clockMu    sync.Mutex
	globalTime uint64

	destroyed bool // hard-killed
	frozen    bool // soft-killed: admission frozen, reads still served

	grantsMu sync.Mutex
	grants   map[string]map[member.ID]bool // meta name -> authorized signer set
}

// New creates a community rooted at masterMember, operated locally as
// myMember. The global time clock starts at 0; the first message created
// locally observes time 1 (Lamport: max observed, +1 on creation, §3).
func New(masterMember, myMember member.ID) *Community {
	return &Community{
		ID:           ID(masterMember),
		MasterMember: masterMember,
		MyMember:     myMember,
		Registry:     policy.NewRegistry(),
		metas:        make(map[string]MetaMessage),
		grants:       make(map[string]map[member.ID]bool),
	}
}

// Grant authorizes mid to originate Resolution-Linear messages of the named
// meta-message, recording an Authorize payload's effect (spec §3). The
// master member is always implicitly authorized and never needs a grant.
func (c *Community) Grant(metaName string, mid member.ID) {
	c.grantsMu.Lock()
	defer c.grantsMu.Unlock()
	if c.grants[metaName] == nil {
		c.grants[metaName] = make(map[member.ID]bool)
	}
	c.grants[metaName][mid] = true
}

// Revoke withdraws a previously granted authorization, recording a Revoke
// payload's effect.
func (c *Community) Revoke(metaName string, mid member.ID) {
	c.grantsMu.Lock()
	defer c.grantsMu.Unlock()
	delete(c.grants[metaName], mid)
}

// IsAuthorized reports whether mid may originate a Resolution-Linear
// message of the named meta-message: the master member always qualifies,
// otherwise an explicit Grant is required.
func (c *Community) IsAuthorized(metaName string, mid member.ID) bool {
	if mid == c.MasterMember {
		return true
	}
	c.grantsMu.Lock()
	defer c.grantsMu.Unlock()
	return c.grants[metaName][mid]
}

// RegisterMeta validates and records a meta-message's policy combination,
// then stores its full definition. Registering a name already present with
// the identical combination succeeds and replaces the stored definition's
// other attributes (ordering, batch window, priority, history) while keeping
// its original declaration position; a different combination for the same
// name fails with policy.ErrPolicyMismatch.
func (c *Community) RegisterMeta(m MetaMessage) error {
	if err := c.Registry.Register(m.Name, m.Combo); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.metas[m.Name]; !exists {
		c.metaOrder = append(c.metaOrder, m.Name)
	}
	c.metas[m.Name] = m
	return nil
}

// Meta returns the registered definition for a meta-message name.
func (c *Community) Meta(name string) (MetaMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.metas[name]
	if !ok {
		return MetaMessage{}, ErrUnknownMetaMessage
	}
	return m, nil
}

// MetaNames returns every registered meta-message name in declaration order.
func (c *Community) MetaNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.metaOrder))
	copy(names, c.metaOrder)
	return names
}

// OrderedMetas returns every registered meta-message definition ordered by
// descending priority, then by declaration order within equal priority
// (spec §4.6: sync responses concatenate matching meta-messages in this
// order).
func (c *Community) OrderedMetas() []MetaMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MetaMessage, 0, len(c.metaOrder))
	for _, n := range c.metaOrder {
		out = append(out, c.metas[n])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Observe folds an externally-seen global time value into the clock: the
// clock becomes max(clock, seen) (Lamport merge; does not advance further).
func (c *Community) Observe(seen uint64) {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	if seen > c.globalTime {
		c.globalTime = seen
	}
}

// Next advances the clock by one and returns the new value, for a message
// this peer originates. Global time values this peer produces never
// decrease (spec I6).
func (c *Community) Next() uint64 {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	c.globalTime++
	return c.globalTime
}

// Now returns the current global time without advancing it.
func (c *Community) Now() uint64 {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	return c.globalTime
}

// HardKill marks the community destroyed: all stored data is expected to
// have been wiped by the caller (destroy package) before this is set.
func (c *Community) HardKill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

// SoftKill freezes admission of new messages while leaving existing data in
// place.
func (c *Community) SoftKill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Destroyed reports whether a hard-kill has been applied.
func (c *Community) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// AdmissionFrozen reports whether new-message admission is frozen (soft-kill
// or hard-kill).
func (c *Community) AdmissionFrozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen || c.destroyed
}

// Registry is the process-wide map from community id to the joined
// Community instance, shared by the decoder, ingestion pipeline and sync
// responder so each can resolve a packet's community without its own
// bookkeeping.
type Registry struct {
	mu         sync.RWMutex
	communities map[ID]*Community
}

// NewRegistry creates an empty community registry.
func NewRegistry() *Registry {
	return &Registry{communities: make(map[ID]*Community)}
}

// Join registers a community so it can be resolved by id.
func (r *Registry) Join(c *Community) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.communities[c.ID] = c
}

// Leave removes a community from the registry, used when a hard-kill
// retires it permanently.
func (r *Registry) Leave(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.communities, id)
}

// Lookup returns the joined community for id, if any.
func (r *Registry) Lookup(id ID) (*Community, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.communities[id]
	return c, ok
}
