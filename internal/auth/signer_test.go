package auth

import (
	"strings"
	"testing"
	"time"
)

func TestTimestampSigner_RoundTrip(t *testing.T) {
	signer := NewTimestampSigner("secret", "test-salt")

	token := signer.Sign("42")
	value, err := signer.Unsign(token, time.Hour)
	if err != nil {
		t.Fatalf("unsign failed: %v", err)
	}
	if value != "42" {
		t.Errorf("expected value 42, got %q", value)
	}
}

func TestTimestampSigner_RejectsTampering(t *testing.T) {
	signer := NewTimestampSigner("secret", "test-salt")

	token := signer.Sign("42")
	tampered := strings.Replace(token, "42", "43", 1)
	if _, err := signer.Unsign(tampered, time.Hour); err == nil {
		t.Error("expected tampered token to be rejected")
	}
}

func TestTimestampSigner_RejectsWrongSalt(t *testing.T) {
	token := NewTimestampSigner("secret", "salt-a").Sign("42")
	if _, err := NewTimestampSigner("secret", "salt-b").Unsign(token, time.Hour); err == nil {
		t.Error("expected token signed under another salt to be rejected")
	}
}

func TestTimestampSigner_RejectsExpired(t *testing.T) {
	signer := NewTimestampSigner("secret", "test-salt")

	token := signer.Sign("42")
	time.Sleep(10 * time.Millisecond)
	if _, err := signer.Unsign(token, time.Nanosecond); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestEmailConfirmationToken_RoundTrip(t *testing.T) {
	token := MakeEmailConfirmationToken("secret", 1234)
	userID, err := VerifyEmailConfirmationToken("secret", token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if userID != 1234 {
		t.Errorf("expected user id 1234, got %d", userID)
	}

	if _, err := VerifyEmailConfirmationToken("other-secret", token); err == nil {
		t.Error("expected token to fail under a different secret")
	}
}
