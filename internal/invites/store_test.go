package invites

import (
	"strings"
	"testing"
	"time"
)

func TestInvite_StatusAt(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name   string
		invite Invite
		want   Status
	}{
		{name: "valid unlimited", invite: Invite{ExpiresAt: future}, want: StatusOK},
		{name: "valid with uses left", invite: Invite{ExpiresAt: future, MaxUses: 5, UsesCount: 4}, want: StatusOK},
		{name: "expired", invite: Invite{ExpiresAt: past}, want: StatusExpired},
		{name: "expires exactly now", invite: Invite{ExpiresAt: now}, want: StatusExpired},
		{name: "exhausted", invite: Invite{ExpiresAt: future, MaxUses: 3, UsesCount: 3}, want: StatusExhausted},
		{name: "over-consumed", invite: Invite{ExpiresAt: future, MaxUses: 3, UsesCount: 7}, want: StatusExhausted},
		{name: "revoked wins over expiry", invite: Invite{ExpiresAt: past, IsRevoked: true}, want: StatusRevoked},
		{name: "expiry wins over exhaustion", invite: Invite{ExpiresAt: past, MaxUses: 1, UsesCount: 1}, want: StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.invite.StatusAt(now); got != tt.want {
				t.Errorf("StatusAt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvite_UsesLeft(t *testing.T) {
	unlimited := Invite{MaxUses: 0, UsesCount: 17}
	if got := unlimited.UsesLeft(); got != nil {
		t.Errorf("unlimited invite UsesLeft = %d, want nil", *got)
	}

	partial := Invite{MaxUses: 5, UsesCount: 2}
	if got := partial.UsesLeft(); got == nil || *got != 3 {
		t.Errorf("UsesLeft = %v, want 3", got)
	}

	over := Invite{MaxUses: 3, UsesCount: 9}
	if got := over.UsesLeft(); got == nil || *got != 0 {
		t.Errorf("over-consumed UsesLeft = %v, want 0", got)
	}
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := newToken()
		if err != nil {
			t.Fatalf("newToken: %v", err)
		}
		// 32 bytes in unpadded base64url.
		if len(tok) != 43 {
			t.Fatalf("token length = %d, want 43", len(tok))
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token %q is not URL safe", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token generated")
		}
		seen[tok] = struct{}{}
	}
}
