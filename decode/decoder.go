package decode

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/limits"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/message"
	"github.com/opd-ai/meshcore/policy"
)

// SequenceChecker reports the next sequence number a (community, member,
// meta-message) tuple expects, letting the decoder raise
// DelayMissingSequence without owning sequence state itself. ingest.Tracker
// implements this.
type SequenceChecker interface {
	NextExpected(comm community.ID, mem member.ID, meta string) uint32
}

// ProofChecker reports whether a LastSync message would be superseded the
// instant it was admitted (its retention key already holds History entries,
// none of them older than it), letting the decoder raise DropByProof without owning
// retention state itself. ingest.Tracker implements this.
type ProofChecker interface {
	CheckProof(comm community.ID, meta, key string, incomingGlobalTime uint64) (proof []byte, superseded bool)
}

// Decoder parses wire packets into verified, policy-admissible Messages.
type Decoder struct {
	communities *community.Registry
	directory   *member.Directory
	sequences   SequenceChecker
	proofs      ProofChecker
	logger      *logrus.Entry
}

// New creates a Decoder. communities resolves a packet's declared community;
// directory resolves signer public keys; sequences reports FullSync gap
// state; proofs reports LastSync supersession.
func New(communities *community.Registry, directory *member.Directory, sequences SequenceChecker, proofs ProofChecker) *Decoder {
	return &Decoder{
		communities: communities,
		directory:   directory,
		sequences:   sequences,
		proofs:      proofs,
		logger:      logrus.WithField("component", "decode"),
	}
}

// Decode classifies a single inbound packet (spec §4.2).
func (d *Decoder) Decode(packet []byte) Outcome {
	if err := limits.ValidatePacket(packet); err != nil {
		d.logger.WithError(err).Debug("decode: packet failed size validation")
		return drop(DropMalformed)
	}

	m, err := message.Decode(packet)
	if err != nil {
		d.logger.WithError(err).Debug("decode: packet failed to parse")
		return drop(DropMalformed)
	}

	comm, ok := d.communities.Lookup(m.Community)
	if !ok {
		return drop(DropForbiddenPolicy)
	}
	if comm.Destroyed() {
		return drop(DropForbiddenPolicy)
	}

	meta, err := comm.Meta(m.MetaName)
	if err != nil {
		return drop(DropForbiddenPolicy)
	}

	if comm.AdmissionFrozen() && m.MetaName != community.MetaDestroyCommunity {
		return drop(DropForbiddenPolicy)
	}

	if len(m.Signatures) != len(m.Signers) {
		return drop(DropMalformed)
	}

	if outcome, done := d.verifyAuthentication(m, meta.Combo.Auth); !done {
		return outcome
	}

	if meta.Combo.Res == policy.ResLinear {
		signer := m.Signers[0]
		if !comm.IsAuthorized(m.MetaName, signer) {
			return delayMissingProof()
		}
	}

	if meta.Combo.Dist == policy.DistFullSync {
		next := d.sequences.NextExpected(comm.ID, m.Signers[0], m.MetaName)
		if m.Header.SequenceNumber > next {
			return delayMissingSequence(next, m.Header.SequenceNumber-1)
		}
	}

	if meta.Combo.Dist == policy.DistLastSync && d.proofs != nil {
		if proof, superseded := d.proofs.CheckProof(comm.ID, m.MetaName, m.Key(), m.Header.GlobalTime); superseded {
			return dropByProof(proof)
		}
	}

	comm.Observe(m.Header.GlobalTime)
	return ok(m)
}

// verifyAuthentication checks the Message's signer count and signatures
// against the Authentication policy. The bool result reports whether
// verification completed (true) or an Outcome must be returned immediately
// (false).
func (d *Decoder) verifyAuthentication(m *message.Message, auth policy.Authentication) (Outcome, bool) {
	switch auth {
	case policy.AuthNone:
		if len(m.Signers) != 0 {
			return drop(DropForbiddenPolicy), false
		}
		return Outcome{}, true

	case policy.AuthMember:
		if len(m.Signers) != 1 {
			return drop(DropForbiddenPolicy), false
		}
		return d.verifySigner(m, 0)

	case policy.AuthMultiMember:
		if len(m.Signers) != 2 {
			return drop(DropForbiddenPolicy), false
		}
		for i := range m.Signers {
			if outcome, done := d.verifySigner(m, i); !done {
				return outcome, false
			}
		}
		return Outcome{}, true

	default:
		return drop(DropForbiddenPolicy), false
	}
}

// verifySigner resolves and verifies the i'th signer of m.
func (d *Decoder) verifySigner(m *message.Message, i int) (Outcome, bool) {
	mid := m.Signers[i]
	recs, found := d.directory.Resolve(mid)
	if !found {
		return delayMissingMember(mid), false
	}

	signed := m.SignedPortion()
	for _, rec := range recs {
		valid, err := crypto.Verify(signed, m.Signatures[i], rec.PublicKey)
		if err == nil && valid {
			return Outcome{}, true
		}
	}

	if len(recs) > 1 {
		return delayUnspecifiedMember(mid), false
	}
	return drop(DropBadSignature), false
}
