// Package crypto implements the key material and signature primitives the
// rest of this repo is built on: NaCl box key pairs (Curve25519) for member
// identity, and Ed25519 signatures for message authentication.
//
// # Core Types
//
//   - [KeyPair]: a Curve25519 key pair; member.ID is the SHA-1 digest of
//     its Public field.
//   - [Signature]: an Ed25519 signature attached to a signed Message.
//
// # Key Generation
//
//	keyPair, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Reconstruct a key pair from an existing private key.
//	keyPair, err = crypto.FromSecretKey(secretKeyBytes)
//
// # Digital Signatures
//
//	signature, err := crypto.Sign(message, keyPair.Private)
//	valid, err := crypto.Verify(message, signature, keyPair.Public)
package crypto
