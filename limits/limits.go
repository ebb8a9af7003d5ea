// Package limits provides centralized size ceilings and validation
// functions for packets and payloads flowing through the messaging core.
// This ensures consistent size enforcement across the decoder, the message
// store, and the ingestion pipeline.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPayload is the largest application Payload a Message may carry.
	MaxPayload = 1372

	// MaxSignedPacket is the largest wire packet after headers and up to
	// two 20-byte signer ids plus two 64-byte ed25519 signatures are added.
	MaxSignedPacket = MaxPayload + 256

	// MaxStorageRecord is the largest record the message store will persist,
	// allowing room for the destination list a live packet may omit.
	MaxStorageRecord = 16384

	// MaxProcessingBuffer is the absolute ceiling for any single operation,
	// guarding against memory exhaustion from a malformed or hostile peer.
	MaxProcessingBuffer = 1024 * 1024
)

// Sentinel errors. Validation failures wrap these with size context via
// fmt.Errorf so callers can both match with errors.Is and log a useful
// message.
var (
	ErrEmpty    = errors.New("limits: empty data")
	ErrTooLarge = errors.New("limits: data exceeds size limit")
)

// ValidateSize validates data against an arbitrary maximum.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidatePayload validates an application payload against MaxPayload.
func ValidatePayload(data []byte) error {
	return ValidateSize(data, MaxPayload)
}

// ValidatePacket validates a signed wire packet against MaxSignedPacket.
func ValidatePacket(data []byte) error {
	return ValidateSize(data, MaxSignedPacket)
}

// ValidateStorageRecord validates a record bound for the message store
// against MaxStorageRecord.
func ValidateStorageRecord(data []byte) error {
	return ValidateSize(data, MaxStorageRecord)
}

// ValidateProcessingBuffer validates inbound data against the absolute
// maximum before any further parsing is attempted.
func ValidateProcessingBuffer(data []byte) error {
	return ValidateSize(data, MaxProcessingBuffer)
}
