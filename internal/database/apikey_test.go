package database

import (
	"strings"
	"testing"
)

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash should start with $argon2id$, got %q", hash)
	}

	// Hash should contain 6 dollar-sign-delimited parts.
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Errorf("hash should have 6 parts, got %d", len(parts))
	}
}

func TestCheckSecretCorrect(t *testing.T) {
	secret := "rk_live_0123456789abcdef"
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}

	match, err := CheckSecret(secret, hash)
	if err != nil {
		t.Fatalf("CheckSecret() error: %v", err)
	}
	if !match {
		t.Error("CheckSecret() should return true for correct secret")
	}
}

func TestCheckSecretWrong(t *testing.T) {
	hash, err := HashSecret("the-real-secret")
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}

	match, err := CheckSecret("not-the-secret", hash)
	if err != nil {
		t.Fatalf("CheckSecret() error: %v", err)
	}
	if match {
		t.Error("CheckSecret() should return false for wrong secret")
	}
}

func TestCheckSecretMalformedHash(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"wrong parts", "$argon2id$v=19$m=65536"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CheckSecret("anything", tt.encoded); err == nil {
				t.Error("CheckSecret() should error on malformed hash")
			}
		})
	}
}
