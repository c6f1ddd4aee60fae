package crypto

import (
	"bytes"
	"testing"
)

func testIKM(seed byte) []byte {
	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = seed
	}
	return ikm
}

func TestGenerateKeyDeterministic(t *testing.T) {
	pub1, sec1, err := GenerateKey(testIKM(1))
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub2, sec2, err := GenerateKey(testIKM(1))
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !bytes.Equal(pub1, pub2) || !bytes.Equal(sec1, sec2) {
		t.Error("same IKM must derive the same key pair")
	}
	if len(pub1) != PubkeySize {
		t.Errorf("pubkey size = %d, want %d", len(pub1), PubkeySize)
	}
	if len(sec1) != SecretKeySize {
		t.Errorf("secret size = %d, want %d", len(sec1), SecretKeySize)
	}

	pub3, _, err := GenerateKey(testIKM(2))
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if bytes.Equal(pub1, pub3) {
		t.Error("different IKM must derive different keys")
	}
}

func TestGenerateKeyShortIKM(t *testing.T) {
	if _, _, err := GenerateKey(make([]byte, 31)); err != ErrInvalidIKM {
		t.Errorf("expected ErrInvalidIKM, got %v", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, sec, err := GenerateKey(testIKM(7))
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	msg := []byte("block header hash")
	sig, err := Sign(sec, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Fatalf("signature size = %d, want %d", len(sig), SignatureSize)
	}

	if !VerifySignature(pub, msg, sig) {
		t.Error("valid signature must verify")
	}
	if VerifySignature(pub, []byte("other message"), sig) {
		t.Error("signature must not verify for a different message")
	}

	otherPub, _, _ := GenerateKey(testIKM(8))
	if VerifySignature(otherPub, msg, sig) {
		t.Error("signature must not verify under a different key")
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	pub, sec, _ := GenerateKey(testIKM(3))
	msg := []byte("msg")
	sig, _ := Sign(sec, msg)

	if VerifySignature(pub[:10], msg, sig) {
		t.Error("short pubkey must verify false")
	}
	if VerifySignature(pub, msg, sig[:40]) {
		t.Error("short signature must verify false")
	}
	garbage := make([]byte, SignatureSize)
	if VerifySignature(pub, msg, garbage) {
		t.Error("garbage signature must verify false")
	}
}

func TestSignInvalidSecret(t *testing.T) {
	if _, err := Sign(make([]byte, 16), []byte("m")); err != ErrInvalidSecretKey {
		t.Errorf("expected ErrInvalidSecretKey, got %v", err)
	}
}

func TestValidatePubkey(t *testing.T) {
	pub, _, _ := GenerateKey(testIKM(4))
	if err := ValidatePubkey(pub); err != nil {
		t.Errorf("valid pubkey rejected: %v", err)
	}

	if err := ValidatePubkey(make([]byte, 10)); err != ErrInvalidPubkeyLen {
		t.Errorf("expected ErrInvalidPubkeyLen, got %v", err)
	}

	inf := make([]byte, PubkeySize)
	inf[0] = 0xc0
	if err := ValidatePubkey(inf); err != ErrPubkeyIsInfinity {
		t.Errorf("expected ErrPubkeyIsInfinity, got %v", err)
	}

	garbage := make([]byte, PubkeySize)
	garbage[0] = 0x01
	if err := ValidatePubkey(garbage); err != ErrInvalidPubkey {
		t.Errorf("expected ErrInvalidPubkey, got %v", err)
	}
}
