package keys

import (
	"bytes"
	"testing"
)

func testSeed() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestGenerateReporterKeyPair(t *testing.T) {
	kp, err := GenerateReporterKeyPair()
	if err != nil {
		t.Fatalf("GenerateReporterKeyPair() failed: %v", err)
	}
	if len(kp.PrivateKey) != 32 {
		t.Fatalf("private key is %d bytes, want 32", len(kp.PrivateKey))
	}
	if len(kp.PublicKey) != 33 {
		t.Fatalf("public key is %d bytes, want 33 (compressed)", len(kp.PublicKey))
	}
	if _, err := kp.Address(); err != nil {
		t.Fatalf("Address() failed: %v", err)
	}
}

func TestDeriveReporterKeyPair_Deterministic(t *testing.T) {
	a, err := DeriveReporterKeyPair("reporter-1", testSeed())
	if err != nil {
		t.Fatalf("DeriveReporterKeyPair() failed: %v", err)
	}
	b, err := DeriveReporterKeyPair("reporter-1", testSeed())
	if err != nil {
		t.Fatalf("DeriveReporterKeyPair() failed: %v", err)
	}
	if !bytes.Equal(a.PrivateKey, b.PrivateKey) {
		t.Fatal("same id and seed must derive the same key")
	}

	other, err := DeriveReporterKeyPair("reporter-2", testSeed())
	if err != nil {
		t.Fatalf("DeriveReporterKeyPair() failed: %v", err)
	}
	if bytes.Equal(a.PrivateKey, other.PrivateKey) {
		t.Fatal("different ids must derive different keys")
	}
}

func TestDeriveReporterKeyPair_ShortSeed(t *testing.T) {
	if _, err := DeriveReporterKeyPair("reporter-1", []byte("short")); err == nil {
		t.Fatal("expected error for seed below 32 bytes")
	}
}

func TestFromPrivateKey_Roundtrip(t *testing.T) {
	kp, err := GenerateReporterKeyPair()
	if err != nil {
		t.Fatalf("GenerateReporterKeyPair() failed: %v", err)
	}

	restored, err := FromPrivateKey(kp.PrivateKey)
	if err != nil {
		t.Fatalf("FromPrivateKey() failed: %v", err)
	}
	if !bytes.Equal(restored.PublicKey, kp.PublicKey) {
		t.Fatal("restored public key does not match")
	}

	addrA, err := kp.Address()
	if err != nil {
		t.Fatalf("Address() failed: %v", err)
	}
	addrB, err := restored.Address()
	if err != nil {
		t.Fatalf("Address() failed: %v", err)
	}
	if addrA != addrB {
		t.Fatalf("addresses differ: %s vs %s", addrA.Hex(), addrB.Hex())
	}

	if _, err := FromPrivateKey([]byte("garbage")); err == nil {
		t.Fatal("expected error for invalid private key bytes")
	}
}

func TestEncryptDecryptPrivateKey(t *testing.T) {
	kp, err := GenerateReporterKeyPair()
	if err != nil {
		t.Fatalf("GenerateReporterKeyPair() failed: %v", err)
	}
	masterKey := bytes.Repeat([]byte{0x01}, 32)

	encrypted, err := EncryptPrivateKey(kp.PrivateKey, masterKey)
	if err != nil {
		t.Fatalf("EncryptPrivateKey() failed: %v", err)
	}

	decrypted, err := DecryptPrivateKey(encrypted, masterKey)
	if err != nil {
		t.Fatalf("DecryptPrivateKey() failed: %v", err)
	}
	if !bytes.Equal(decrypted, kp.PrivateKey) {
		t.Fatal("decrypted key does not match original")
	}

	wrongKey := bytes.Repeat([]byte{0x02}, 32)
	if _, err := DecryptPrivateKey(encrypted, wrongKey); err == nil {
		t.Fatal("expected error decrypting with the wrong master key")
	}
}

func TestEncryptPrivateKey_KeySizes(t *testing.T) {
	kp, err := GenerateReporterKeyPair()
	if err != nil {
		t.Fatalf("GenerateReporterKeyPair() failed: %v", err)
	}

	if _, err := EncryptPrivateKey(kp.PrivateKey, []byte("short")); err == nil {
		t.Fatal("expected error for short master key")
	}
	if _, err := EncryptPrivateKey([]byte("short"), bytes.Repeat([]byte{0x01}, 32)); err == nil {
		t.Fatal("expected error for short private key")
	}
	if _, err := DecryptPrivateKey("%%%not-base64%%%", bytes.Repeat([]byte{0x01}, 32)); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}
