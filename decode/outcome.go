// Package decode turns opaque wire packets into structured Messages,
// classifying every packet it cannot immediately admit as a recoverable
// Delay or a terminal Drop instead of raising an exception (Design Note
// "Delay/Drop exceptions").
package decode

import (
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
)

// Kind is the top-level classification of a decode attempt.
type Kind uint8

const (
	// KindOK means the packet decoded into a fully verified, admissible
	// Message.
	KindOK Kind = iota
	// KindDelay means the packet is parked pending a missing dependency.
	KindDelay
	// KindDrop means the packet is terminally rejected.
	KindDrop
)

// DelayReason names why a packet was parked rather than admitted or
// rejected (spec §4.2).
type DelayReason uint8

const (
	// DelayMissingMember means the signer's mid is unknown to the member
	// directory; a missing-member request has been issued.
	DelayMissingMember DelayReason = iota
	// DelayUnspecifiedMember means the mid resolves to more than one
	// candidate key but none currently verifies the signature — a future
	// candidate registration may still resolve the collision.
	DelayUnspecifiedMember
	// DelayMissingSequence means the packet's sequence number is ahead of
	// this signer's next-expected sequence; the gap must be backfilled.
	DelayMissingSequence
	// DelayMissingProof means the packet's meta-message requires
	// Resolution-Linear authorization this peer has not yet observed.
	DelayMissingProof
)

// DropReason names why a packet was terminally rejected (spec §4.2).
type DropReason uint8

const (
	// DropMalformed means the packet failed to parse or exceeded a size
	// limit.
	DropMalformed DropReason = iota
	// DropBadSignature means a resolved candidate key failed to verify.
	DropBadSignature
	// DropForbiddenPolicy means the packet's meta-message, destroyed/frozen
	// state, or missing registration makes it inadmissible regardless of
	// signature.
	DropForbiddenPolicy
	// DropByProof means a previously-admitted message demonstrates the new
	// packet is invalid (spec §4.5 conflict resolution can surface this via
	// the ingestion layer); the proof packet is surfaced to the caller so a
	// counter-message can be sent to the offending origin.
	DropByProof
)

// Outcome is the sum type every Decode call returns: exactly one of
// KindOK/KindDelay/KindDrop, with the fields relevant to that kind
// populated.
type Outcome struct {
	Kind Kind

	Message *message.Message // KindOK only

	DelayReason    DelayReason // KindDelay only
	MissingMember  member.ID   // DelayMissingMember, DelayUnspecifiedMember
	MissingSeqLow  uint32      // DelayMissingSequence
	MissingSeqHigh uint32      // DelayMissingSequence

	DropReason  DropReason // KindDrop only
	ProofPacket []byte     // DropByProof only
}

func ok(m *message.Message) Outcome {
	return Outcome{Kind: KindOK, Message: m}
}

func delayMissingMember(mid member.ID) Outcome {
	return Outcome{Kind: KindDelay, DelayReason: DelayMissingMember, MissingMember: mid}
}

func delayUnspecifiedMember(mid member.ID) Outcome {
	return Outcome{Kind: KindDelay, DelayReason: DelayUnspecifiedMember, MissingMember: mid}
}

func delayMissingSequence(low, high uint32) Outcome {
	return Outcome{Kind: KindDelay, DelayReason: DelayMissingSequence, MissingSeqLow: low, MissingSeqHigh: high}
}

func delayMissingProof() Outcome {
	return Outcome{Kind: KindDelay, DelayReason: DelayMissingProof}
}

func drop(reason DropReason) Outcome {
	return Outcome{Kind: KindDrop, DropReason: reason}
}

func dropByProof(proof []byte) Outcome {
	return Outcome{Kind: KindDrop, DropReason: DropByProof, ProofPacket: proof}
}
