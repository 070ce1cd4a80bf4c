package auth

import "testing"

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")

	token, err := svc.GenerateToken(7, "user@example.com")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != 7 {
		t.Errorf("expected user id 7, got %d", claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("expected email user@example.com, got %q", claims.Email)
	}
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a").GenerateToken(7, "user@example.com")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := NewJWTService("secret-b").ValidateToken(token); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

func TestJWTService_RejectsGarbage(t *testing.T) {
	if _, err := NewJWTService("secret").ValidateToken("not.a.token"); err == nil {
		t.Error("expected malformed token to be rejected")
	}
}

func TestJWTService_RejectsRefreshTokenAsAccess(t *testing.T) {
	svc := NewJWTService("test-secret")

	refresh, err := svc.GenerateRefreshToken(7)
	if err != nil {
		t.Fatalf("generate refresh failed: %v", err)
	}
	if _, err := svc.ValidateToken(refresh); err == nil {
		t.Error("expected a refresh token to be rejected as an access token")
	}
	if _, err := svc.ValidateRefreshToken(refresh); err != nil {
		t.Errorf("refresh token rejected on the refresh path: %v", err)
	}
}

func TestJWTService_RejectsAccessTokenAsRefresh(t *testing.T) {
	svc := NewJWTService("test-secret")

	access, err := svc.GenerateToken(7, "user@example.com")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := svc.ValidateRefreshToken(access); err == nil {
		t.Error("expected an access token to be rejected as a refresh token")
	}
}
