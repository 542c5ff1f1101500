package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
)

// Verify reports whether sigB64 is a valid signature of message under pubB64.
// Every malformed input yields false; Verify never panics.
func Verify(message []byte, sigB64, pubB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return VerifyBytes(message, sig, pub)
}

// VerifyBytes is Verify over raw signature and key bytes.
func VerifyBytes(message, sig, pub []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// Ed25519Verifier binds Verify to one public key.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

// NewEd25519Verifier returns nil when the key is not a valid Ed25519 public key.
func NewEd25519Verifier(pubB64 string) *Ed25519Verifier {
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil
	}
	return &Ed25519Verifier{PublicKey: ed25519.PublicKey(pub)}
}

func (v *Ed25519Verifier) Verify(message []byte, sigB64 string) bool {
	if v == nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return VerifyBytes(message, sig, v.PublicKey)
}
