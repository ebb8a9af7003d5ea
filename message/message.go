// Package message implements the Message and Payload types: an instance of
// a community's MetaMessage carrying application data (or a permission-graph
// mutation), its signature(s), distribution header, destination list, and a
// canonical packet form used both for signing and for wire transfer.
package message

import (
	"bytes"
	"errors"
	"sort"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/member"
)

// Errors returned while building or validating a Message.
var (
	ErrNoSignature    = errors.New("message: missing required signature")
	ErrTooManySigners = errors.New("message: more signatures than authentication allows")
)

// PayloadKind tags the three payload variants a Message may carry.
type PayloadKind uint8

const (
	// PayloadPermit carries application data (or, for the reserved
	// destroy-community meta-message, the hard/soft kill directive).
	PayloadPermit PayloadKind = iota
	// PayloadAuthorize grants a member the right to originate a
	// Resolution-Linear meta-message.
	PayloadAuthorize
	// PayloadRevoke withdraws a previously granted Authorize.
	PayloadRevoke
)

// Payload is the content carried by a Message. Permit/Authorize/Revoke are
// the only implementations (spec §3); application code supplies Permit's
// Data.
type Payload interface {
	Kind() PayloadKind
	// Encode returns the payload's canonical byte form for inclusion in the
	// signed packet.
	Encode() []byte
}

// Permit carries application-defined data.
type Permit struct {
	Data []byte
}

// Kind implements Payload.
func (Permit) Kind() PayloadKind { return PayloadPermit }

// Encode implements Payload.
func (p Permit) Encode() []byte { return p.Data }

// Authorize grants Subject the right to originate OfMeta.
type Authorize struct {
	Subject member.ID
	OfMeta  string
}

// Kind implements Payload.
func (Authorize) Kind() PayloadKind { return PayloadAuthorize }

// Encode implements Payload.
func (a Authorize) Encode() []byte {
	out := make([]byte, 0, 20+len(a.OfMeta))
	out = append(out, a.Subject[:]...)
	out = append(out, a.OfMeta...)
	return out
}

// Revoke withdraws a previously granted Authorize.
type Revoke struct {
	Subject member.ID
	OfMeta  string
}

// Kind implements Payload.
func (Revoke) Kind() PayloadKind { return PayloadRevoke }

// Encode implements Payload.
func (r Revoke) Encode() []byte {
	out := make([]byte, 0, 20+len(r.OfMeta))
	out = append(out, r.Subject[:]...)
	out = append(out, r.OfMeta...)
	return out
}

// DistributionHeader carries the fields a Distribution policy attaches to a
// message: its global time and, for FullSync, its sequence number.
type DistributionHeader struct {
	GlobalTime     uint64
	SequenceNumber uint32 // 0 when the distribution policy doesn't carry one
}

// Message is an instance of a community MetaMessage.
type Message struct {
	Community community.ID
	MetaName  string
	Payload   Payload

	// Signers holds one entry for AuthMember, two for AuthMultiMember (in
	// signing order; Key sorts a copy), none for AuthNone.
	Signers    []member.ID
	Signatures []crypto.Signature

	Header      DistributionHeader
	Destination []member.ID // used destination is DestMember/DestCommunity scope

	// Packet is the canonical encoded form, populated by Encode and used
	// both for signing and for wire transfer.
	Packet []byte
}

// Key returns the per-member retention key used by LastSync eviction
// (spec I5): the sole signer for MemberAuthentication, or the
// sorted signer tuple for MultiMemberAuthentication, serialized to a
// comparable string. Sorting the tuple means a message co-signed by A then
// B retains under the same key as one co-signed by B then A.
func (m *Message) Key() string {
	signers := make([]member.ID, len(m.Signers))
	copy(signers, m.Signers)
	sort.Slice(signers, func(i, j int) bool {
		return bytes.Compare(signers[i][:], signers[j][:]) < 0
	})

	out := make([]byte, 0, 20*len(signers))
	for _, s := range signers {
		out = append(out, s[:]...)
	}
	return string(out)
}
