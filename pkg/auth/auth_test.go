package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPlainToken(t *testing.T) {
	v := NewTokenVerifier("tick-secret")

	if !v.Verify("tick-secret") {
		t.Error("correct token rejected")
	}
	if v.Verify("wrong") {
		t.Error("wrong token accepted")
	}
	if v.Verify("") {
		t.Error("empty token accepted")
	}
}

func TestVerifyBcryptToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tick-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}

	v := NewTokenVerifier(string(hash))
	if !v.Verify("tick-secret") {
		t.Error("correct token rejected against hash")
	}
	if v.Verify("wrong") {
		t.Error("wrong token accepted against hash")
	}
}

func TestEmptyConfigurationRejectsAll(t *testing.T) {
	v := NewTokenVerifier("  ")

	if v.Enabled() {
		t.Error("blank configuration must report disabled")
	}
	if v.Verify("anything") {
		t.Error("blank configuration must reject")
	}
}

func TestGenerateToken(t *testing.T) {
	token, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token == "" || hash == "" {
		t.Fatal("empty token or hash")
	}

	v := NewTokenVerifier(hash)
	if !v.Verify(token) {
		t.Error("generated token does not verify against its hash")
	}
}
