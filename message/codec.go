// Codec implements the canonical binary layout for a Message: the bytes
// that are signed, and the bytes that travel on the wire. Adapted from the
// teacher's type-prefixed packet layout (transport/packet.go in the
// original toxcore tree), generalized from a single-byte packet type to a
// length-prefixed meta-message name and variable-arity signer list.
package message

import (
	"encoding/binary"
	"errors"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/limits"
	"github.com/opd-ai/meshcore/member"
)

// wireVersion is the canonical packet format version.
const wireVersion = 1

// Errors returned while parsing a wire packet.
var (
	ErrPacketTooShort  = errors.New("message: packet too short")
	ErrUnknownVersion  = errors.New("message: unknown wire version")
	ErrUnknownPayload  = errors.New("message: unknown payload kind")
	ErrMalformedPacket = errors.New("message: malformed packet")
)

// SignedPortion returns the canonical bytes that must be signed: everything
// in the packet except the signature list itself.
func (m *Message) SignedPortion() []byte {
	buf := make([]byte, 0, 64+len(m.MetaName)+len(m.Payload.Encode()))
	buf = append(buf, wireVersion)
	buf = append(buf, m.Community[:]...)

	buf = appendUint16Prefixed(buf, []byte(m.MetaName))

	buf = append(buf, byte(m.Payload.Kind()))
	buf = appendUint32Prefixed(buf, m.Payload.Encode())

	var timeBuf [8]byte
	binary.BigEndian.PutUint64(timeBuf[:], m.Header.GlobalTime)
	buf = append(buf, timeBuf[:]...)

	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], m.Header.SequenceNumber)
	buf = append(buf, seqBuf[:]...)

	buf = append(buf, byte(len(m.Destination)))
	for _, d := range m.Destination {
		buf = append(buf, d[:]...)
	}

	return buf
}

// Encode builds the final wire packet, including the signature list, and
// caches it on m.Packet. Callers must have already populated m.Signatures
// (see Sign).
func (m *Message) Encode() ([]byte, error) {
	if err := limits.ValidatePayload(m.Payload.Encode()); err != nil {
		return nil, err
	}

	signed := m.SignedPortion()
	buf := make([]byte, 0, len(signed)+1+len(m.Signers)*(20+crypto.SignatureSize))
	buf = append(buf, signed...)

	buf = append(buf, byte(len(m.Signers)))
	for i, s := range m.Signers {
		buf = append(buf, s[:]...)
		if i < len(m.Signatures) {
			buf = append(buf, m.Signatures[i][:]...)
		} else {
			buf = append(buf, make([]byte, crypto.SignatureSize)...)
		}
	}

	m.Packet = buf
	return buf, nil
}

// Sign signs the message's signed portion with priv and appends the result
// to m.Signatures, in the position matching m.Signers[len(m.Signatures)].
// Used once for AuthMember, twice (by two different parties) for
// AuthMultiMember.
func (m *Message) Sign(priv [32]byte) error {
	sig, err := crypto.Sign(m.SignedPortion(), priv)
	if err != nil {
		return err
	}
	m.Signatures = append(m.Signatures, sig)
	return nil
}

// Decode parses a wire packet produced by Encode. It does not verify
// signatures or policy — that is the decoder package's job, since it needs
// the community's registered MetaMessage and the member directory to do so.
func Decode(packet []byte) (*Message, error) {
	if len(packet) < 1+20+2 {
		return nil, ErrPacketTooShort
	}
	if packet[0] != wireVersion {
		return nil, ErrUnknownVersion
	}
	pos := 1

	var commID community.ID
	copy(commID[:], packet[pos:pos+20])
	pos += 20

	metaName, pos, err := readUint16Prefixed(packet, pos)
	if err != nil {
		return nil, err
	}

	if pos >= len(packet) {
		return nil, ErrPacketTooShort
	}
	kind := PayloadKind(packet[pos])
	pos++

	payloadBytes, pos, err := readUint32Prefixed(packet, pos)
	if err != nil {
		return nil, err
	}

	if pos+8+4+1 > len(packet) {
		return nil, ErrPacketTooShort
	}
	globalTime := binary.BigEndian.Uint64(packet[pos : pos+8])
	pos += 8
	seq := binary.BigEndian.Uint32(packet[pos : pos+4])
	pos += 4

	destCount := int(packet[pos])
	pos++
	dest := make([]member.ID, 0, destCount)
	for i := 0; i < destCount; i++ {
		if pos+20 > len(packet) {
			return nil, ErrPacketTooShort
		}
		var id member.ID
		copy(id[:], packet[pos:pos+20])
		dest = append(dest, id)
		pos += 20
	}

	if pos >= len(packet) {
		return nil, ErrPacketTooShort
	}
	signerCount := int(packet[pos])
	pos++

	signers := make([]member.ID, 0, signerCount)
	sigs := make([]crypto.Signature, 0, signerCount)
	for i := 0; i < signerCount; i++ {
		if pos+20+crypto.SignatureSize > len(packet) {
			return nil, ErrPacketTooShort
		}
		var id member.ID
		copy(id[:], packet[pos:pos+20])
		pos += 20

		var sig crypto.Signature
		copy(sig[:], packet[pos:pos+crypto.SignatureSize])
		pos += crypto.SignatureSize

		signers = append(signers, id)
		sigs = append(sigs, sig)
	}

	payload, err := decodePayload(kind, payloadBytes)
	if err != nil {
		return nil, err
	}

	m := &Message{
		Community:   commID,
		MetaName:    string(metaName),
		Payload:     payload,
		Signers:     signers,
		Signatures:  sigs,
		Header:      DistributionHeader{GlobalTime: globalTime, SequenceNumber: seq},
		Destination: dest,
		Packet:      append([]byte(nil), packet...),
	}
	return m, nil
}

func decodePayload(kind PayloadKind, raw []byte) (Payload, error) {
	switch kind {
	case PayloadPermit:
		return Permit{Data: raw}, nil
	case PayloadAuthorize:
		if len(raw) < 20 {
			return nil, ErrMalformedPacket
		}
		var subj member.ID
		copy(subj[:], raw[:20])
		return Authorize{Subject: subj, OfMeta: string(raw[20:])}, nil
	case PayloadRevoke:
		if len(raw) < 20 {
			return nil, ErrMalformedPacket
		}
		var subj member.ID
		copy(subj[:], raw[:20])
		return Revoke{Subject: subj, OfMeta: string(raw[20:])}, nil
	default:
		return nil, ErrUnknownPayload
	}
}

func appendUint16Prefixed(buf, data []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}

func appendUint32Prefixed(buf, data []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}

func readUint16Prefixed(data []byte, pos int) ([]byte, int, error) {
	if pos+2 > len(data) {
		return nil, 0, ErrPacketTooShort
	}
	n := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+n > len(data) {
		return nil, 0, ErrPacketTooShort
	}
	return data[pos : pos+n], pos + n, nil
}

func readUint32Prefixed(data []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, 0, ErrPacketTooShort
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, 0, ErrPacketTooShort
	}
	return data[pos : pos+n], pos + n, nil
}
