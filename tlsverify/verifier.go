// Package tlsverify implements the signature-verification primitive the
// front-end treats as an external collaborator: a per-caller verifier
// materialized from certificate bytes, checking a signature over a digest
// with Ed25519.
package tlsverify

import (
	"crypto/ed25519"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// HashAlg names the digest algorithm this verifier always uses. The
// upstream C++ implementation tags a SignedReq with an mbedtls hash-type
// enum; lacking that dependency, this module uses a plain string tag.
const HashAlg = "sha3-256"

// Verifier checks signatures for a single caller, keyed by that caller's
// public-key certificate bytes.
type Verifier struct {
	pub ed25519.PublicKey
}

// New constructs a Verifier from raw certificate bytes. cert is expected to
// be (or embed) a 32-byte Ed25519 public key; any extra bytes a real X.509
// wrapper would carry are outside this module's scope (see spec.md's
// Non-goals on cryptographic primitives).
func New(cert []byte) (*Verifier, error) {
	if len(cert) < ed25519.PublicKeySize {
		return nil, errors.Errorf("certificate too short for an ed25519 key: %d bytes", len(cert))
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, cert[:ed25519.PublicKeySize])
	return &Verifier{pub: pub}, nil
}

// Verify reports whether sig is a valid signature over msg's digest.
func (v *Verifier) Verify(msg, sig []byte) bool {
	if v == nil || len(sig) == 0 {
		return false
	}
	return ed25519.Verify(v.pub, digest(msg), sig)
}

// Sign is provided for tests and the sample client: it signs msg's digest
// with sk, the counterpart to Verify.
func Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, digest(msg))
}

// digest hashes msg with SHAKE256 to a 64-byte output, matching the
// construction used elsewhere in the pack for consensus message signing.
func digest(msg []byte) []byte {
	h := make([]byte, 64)
	sha3.ShakeSum256(h, msg)
	return h
}
