package crypto

import "crypto/subtle"

// ZeroBytes overwrites data in place using a constant-time XOR the compiler
// cannot optimize away, for clearing intermediate key material (e.g. the
// clamped scratch copy of the private key in FromSecretKey).
func ZeroBytes(data []byte) {
	subtle.XORBytes(data, data, data)
}
