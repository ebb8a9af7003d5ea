// Package limits provides centralized size constants and validation
// functions used across the messaging core.
//
// # Size Hierarchy
//
//   - MaxPayload (1372 bytes): the largest application Payload a Message may
//     carry, matching the historical Tox plaintext ceiling this protocol
//     family inherits.
//
//   - MaxSignedPacket (MaxPayload + 256 bytes): the largest wire packet once
//     headers and up to two signer ids and ed25519 signatures are attached.
//
//   - MaxStorageRecord (16384 bytes): the largest record the message store
//     will persist, leaving room for a destination list the live packet
//     omits.
//
//   - MaxProcessingBuffer (1MB): the absolute ceiling for any single
//     operation, guarding against memory exhaustion from a malformed or
//     hostile peer.
//
// # Validation
//
//	err := limits.ValidatePayload(data)
//	if err != nil {
//	    // ErrEmpty or ErrTooLarge (wrapped with size context)
//	}
//
// For a custom ceiling, use ValidateSize directly.
package limits
