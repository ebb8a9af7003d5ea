// Package policy implements the Authentication x Resolution x Distribution x
// Destination composition model that governs every message type in a
// community, and the compatibility matrix that decides which combinations
// are legal.
package policy

import "errors"

// ErrPolicyMismatch is returned when a meta-message's policy combination
// violates the compatibility matrix.
var ErrPolicyMismatch = errors.New("policy: illegal axis combination")

// Authentication identifies who may be a legitimate signer of a message.
type Authentication uint8

const (
	// AuthNone means no signature is required.
	AuthNone Authentication = iota
	// AuthMember requires a single signer.
	AuthMember
	// AuthMultiMember requires k signers (this package only models k=2).
	AuthMultiMember
)

// Resolution identifies who may originate a message of this type.
type Resolution uint8

const (
	// ResPublic allows any member to send.
	ResPublic Resolution = iota
	// ResLinear requires an Authorize chain anchored at the community's master member.
	ResLinear
)

// Distribution identifies the retention and sync behavior of a message type.
type Distribution uint8

const (
	// DistRelay is point-to-point; never synced.
	DistRelay Distribution = iota
	// DistDirect is a one-shot broadcast; never synced.
	DistDirect
	// DistFullSync retains every accepted message and carries a sequence number.
	DistFullSync
	// DistLastSync retains the last N messages per retention key.
	DistLastSync
)

// Destination identifies how a message is addressed on the wire.
type Destination uint8

const (
	// DestAddress targets explicit UDP endpoints.
	DestAddress Destination = iota
	// DestMember targets specific member ids.
	DestMember
	// DestCommunity floods the whole community.
	DestCommunity
	// DestSimilarity filters recipients by a feature-vector similarity test.
	DestSimilarity
)

// Ordering is the intra-priority ordering a FullSync/LastSync meta-message
// advertises to the sync responder (§4.6).
type Ordering uint8

const (
	// OrderASC emits messages in ascending global_time order.
	OrderASC Ordering = iota
	// OrderDESC emits messages in descending global_time order.
	OrderDESC
	// OrderRandom shuffles the result set.
	OrderRandom
	// OrderPriority sorts by MetaMessage.Priority descending, falling back to ASC.
	OrderPriority
)

// Combination is the four-axis policy tuple a MetaMessage carries.
type Combination struct {
	Auth Authentication
	Res  Resolution
	Dist Distribution
	Dest Destination
}

// axisAllowed[auth] holds, per axis, which values that authentication level
// permits. Built once from the compatibility table in spec §4.1.
type axisAllowed struct {
	res  map[Resolution]bool
	dist map[Distribution]bool
	dest map[Destination]bool
}

var allowedByAuth = map[Authentication]axisAllowed{
	AuthNone: {
		res:  map[Resolution]bool{ResPublic: true},
		dist: map[Distribution]bool{DistRelay: true, DistDirect: true},
		dest: map[Destination]bool{DestAddress: true, DestMember: true, DestCommunity: true},
	},
	AuthMember: {
		res:  map[Resolution]bool{ResPublic: true, ResLinear: true},
		dist: map[Distribution]bool{DistRelay: true, DistDirect: true, DistFullSync: true, DistLastSync: true},
		dest: map[Destination]bool{DestAddress: true, DestMember: true, DestCommunity: true, DestSimilarity: true},
	},
	AuthMultiMember: {
		res:  map[Resolution]bool{ResPublic: true, ResLinear: true},
		dist: map[Distribution]bool{DistRelay: true, DistDirect: true, DistLastSync: true},
		dest: map[Destination]bool{DestAddress: true, DestMember: true, DestCommunity: true, DestSimilarity: true},
	},
}

// Validate checks a combination against the compatibility matrix and the
// additional cross-axis rules named in spec §4.1. It returns the bare
// ErrPolicyMismatch sentinel (not wrapped) when the combination is illegal.
func Validate(c Combination) error {
	allowed, ok := allowedByAuth[c.Auth]
	if !ok {
		return ErrPolicyMismatch
	}
	if !allowed.res[c.Res] {
		return ErrPolicyMismatch
	}
	if !allowed.dist[c.Dist] {
		return ErrPolicyMismatch
	}
	if !allowed.dest[c.Dest] {
		return ErrPolicyMismatch
	}

	// FullSync forces MemberAuthentication.
	if c.Dist == DistFullSync && c.Auth != AuthMember {
		return ErrPolicyMismatch
	}
	// FullSync/LastSync require a Community or Similarity destination.
	if (c.Dist == DistFullSync || c.Dist == DistLastSync) &&
		c.Dest != DestCommunity && c.Dest != DestSimilarity {
		return ErrPolicyMismatch
	}
	// Relay destinations must be Address or Member.
	if c.Dist == DistRelay && c.Dest != DestAddress && c.Dest != DestMember {
		return ErrPolicyMismatch
	}
	return nil
}

// Registry enumerates the meta-message policy combinations a community has
// registered and enforces that no two registrations disagree.
type Registry struct {
	combos map[string]Combination
}

// NewRegistry creates an empty policy registry.
func NewRegistry() *Registry {
	return &Registry{combos: make(map[string]Combination)}
}

// Register validates and records the policy combination for a meta-message
// name. Registering the same name twice with the same combination is a
// no-op; with a different combination it fails, since combinations are
// immutable after registration (spec §3).
func (r *Registry) Register(name string, c Combination) error {
	if err := Validate(c); err != nil {
		return err
	}
	if existing, ok := r.combos[name]; ok {
		if existing != c {
			return ErrPolicyMismatch
		}
		return nil
	}
	r.combos[name] = c
	return nil
}

// Lookup returns the registered combination for a meta-message name.
func (r *Registry) Lookup(name string) (Combination, bool) {
	c, ok := r.combos[name]
	return c, ok
}
