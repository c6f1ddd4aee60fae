// Package crypto provides BLS12-381 signature operations for block
// proposer authentication, using the supranational/blst library with the
// MinPk scheme (public keys in G1, signatures in G2) and the Ethereum
// domain separation tag.
//
// The engine only ever verifies signatures; signing is provided for
// block producers and tests.
package crypto

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// Key and signature sizes for the MinPk scheme.
const (
	PubkeySize    = 48 // compressed G1
	SignatureSize = 96 // compressed G2
	SecretKeySize = 32 // scalar field element
)

// signatureDST is the domain separation tag for proposer signatures,
// the proof-of-possession scheme tag shared with Ethereum consensus.
var signatureDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// Errors returned by BLS operations.
var (
	ErrInvalidIKM       = errors.New("crypto: IKM must be at least 32 bytes")
	ErrKeyGenFailed     = errors.New("crypto: key generation failed")
	ErrInvalidSecretKey = errors.New("crypto: invalid secret key bytes")
	ErrSignFailed       = errors.New("crypto: signing failed")
	ErrInvalidPubkeyLen = errors.New("crypto: pubkey must be 48 bytes")
	ErrInvalidPubkey    = errors.New("crypto: invalid compressed G1 pubkey")
	ErrPubkeyIsInfinity = errors.New("crypto: pubkey is the point at infinity")
)

// GenerateKey derives a BLS key pair from input key material. IKM must be
// at least 32 bytes of entropy. Returns the compressed public key
// (48 bytes) and the serialized secret key (32 bytes).
func GenerateKey(ikm []byte) (pubkey, secret []byte, err error) {
	if len(ikm) < 32 {
		return nil, nil, ErrInvalidIKM
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, nil, ErrKeyGenFailed
	}
	pk := new(blst.P1Affine).From(sk)
	return pk.Compress(), sk.Serialize(), nil
}

// Sign signs msg with the given serialized secret key (32 bytes) and
// returns the compressed signature (96 bytes).
func Sign(secret, msg []byte) ([]byte, error) {
	if len(secret) != SecretKeySize {
		return nil, ErrInvalidSecretKey
	}
	sk := new(blst.SecretKey).Deserialize(secret)
	if sk == nil {
		return nil, ErrInvalidSecretKey
	}
	sig := new(blst.P2Affine).Sign(sk, msg, signatureDST)
	if sig == nil {
		return nil, ErrSignFailed
	}
	return sig.Compress(), nil
}

// VerifySignature reports whether sig is a valid signature of msg under
// pubkey. pubkey must be a 48-byte compressed G1 point and sig a 96-byte
// compressed G2 point; any malformed input verifies false.
func VerifySignature(pubkey, msg, sig []byte) bool {
	if len(pubkey) != PubkeySize || len(sig) != SignatureSize {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, signatureDST)
}

// ValidatePubkey checks that pubkey is a well-formed, non-infinity
// compressed G1 point. Registries should validate keys at registration
// so verification failures later can only mean a bad signature.
func ValidatePubkey(pubkey []byte) error {
	if len(pubkey) != PubkeySize {
		return ErrInvalidPubkeyLen
	}
	if isInfinityPubkey(pubkey) {
		return ErrPubkeyIsInfinity
	}
	if pk := new(blst.P1Affine).Uncompress(pubkey); pk == nil || !pk.KeyValidate() {
		return ErrInvalidPubkey
	}
	return nil
}

// isInfinityPubkey reports whether pubkey is the compressed G1 point at
// infinity (0xc0 followed by zeros).
func isInfinityPubkey(pubkey []byte) bool {
	if pubkey[0] != 0xc0 {
		return false
	}
	for _, b := range pubkey[1:] {
		if b != 0 {
			return false
		}
	}
	return true
}
