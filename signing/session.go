package signing

import (
	"fmt"

	"github.com/opd-ai/meshcore/noise"
)

// Session wraps an established IK handshake to encrypt/decrypt the
// signature-request and signature-response payloads exchanged between the
// two signatories (spec §4.7), reusing the transport-level Noise session
// security the teacher built for peer handshakes rather than inventing a
// second crypto scheme for this one two-party exchange.
type Session struct {
	handshake *noise.IKHandshake
}

// NewSession wraps a completed IK handshake for use as a signing channel.
func NewSession(hs *noise.IKHandshake) (*Session, error) {
	if !hs.IsComplete() {
		return nil, fmt.Errorf("signing: handshake must be complete before use as a session")
	}
	return &Session{handshake: hs}, nil
}

// Encrypt seals plaintext (a signature-request or signature-response
// packet) for transport to the counterparty.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	send, _, err := s.handshake.GetCipherStates()
	if err != nil {
		return nil, err
	}
	return send.Encrypt(nil, nil, plaintext), nil
}

// Decrypt opens a sealed signature-request or signature-response packet
// received from the counterparty.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	_, recv, err := s.handshake.GetCipherStates()
	if err != nil {
		return nil, err
	}
	return recv.Decrypt(nil, nil, ciphertext)
}
