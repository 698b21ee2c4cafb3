package auth

import (
	"strings"
	"testing"
)

func TestHashVerify(t *testing.T) {
	h, err := HashPassword("secret-123")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if !IsHashed(h) {
		t.Fatalf("expected encoded hash, got %q", h)
	}
	if !VerifyPassword(h, "secret-123") {
		t.Fatalf("expected verify to pass")
	}
	if VerifyPassword(h, "wrong") {
		t.Fatalf("expected verify to fail")
	}
}

func TestVerifyRejectsOutOfRangeParameters(t *testing.T) {
	salt := "c29tZXNhbHRzb21lc2FsdA"
	key := "a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5"
	for _, params := range []string{
		"m=1,t=0,p=0",
		"m=65536,t=0,p=1",
		"m=65536,t=2,p=0",
		"m=4,t=2,p=1",
		"m=4294967295,t=2,p=1",
		"m=65536,t=100000,p=1",
		"m=65536,t=2,p=300",
	} {
		encoded := "$argon2id$v=19$" + params + "$" + salt + "$" + key
		if !IsHashed(encoded) {
			t.Fatalf("%q should look hashed", encoded)
		}
		if ValidHash(encoded) {
			t.Fatalf("%s must be rejected", params)
		}
		if VerifyPassword(encoded, "anything") {
			t.Fatalf("%s must never verify", params)
		}
	}

	h, err := HashPassword("secret-123")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if !ValidHash(h) {
		t.Fatalf("fresh hash must be valid: %q", h)
	}
	if ValidHash(strings.Replace(h, "v=19", "v=16", 1)) {
		t.Fatalf("unknown version must be rejected")
	}
}

func TestVerifyRejectsPlaintextAndEmptyHashes(t *testing.T) {
	for _, stored := range []string{"", "admin123", "$argon2id$broken"} {
		if VerifyPassword(stored, stored) {
			t.Fatalf("stored value %q must never verify", stored)
		}
		if stored != "" && IsHashed(stored) {
			t.Fatalf("%q should not look hashed", stored)
		}
	}
}
