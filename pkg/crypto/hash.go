package crypto

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the length of a request digest
const DigestSize = sha256.Size

// CertIDSize is the length of a certificate id
const CertIDSize = 8

// Digest returns the SHA-256 digest of data. Responders echo it back so the
// requester can tell its own request was received unaltered.
func Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// VerifyDigest reports whether digest matches data
func VerifyDigest(data []byte, digest []byte) bool {
	return subtle.ConstantTimeCompare(Digest(data), digest) == 1
}

// CertID returns the short id of a certificate: the first 8 bytes of the
// BLAKE2b-256 hash of its DER encoding
func CertID(der []byte) [CertIDSize]byte {
	sum := blake2b.Sum256(der)
	var id [CertIDSize]byte
	copy(id[:], sum[:CertIDSize])
	return id
}
