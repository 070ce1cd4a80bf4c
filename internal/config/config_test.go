package config

import "testing"

func TestLoad_RequiresSecretKey(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	if _, err := Load(); err == nil {
		t.Error("expected an error when SECRET_KEY is unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SECRET_KEY", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("DAILY_DIGEST_CRON", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SecretKey != "test-secret" {
		t.Errorf("expected secret key from the environment, got %q", cfg.SecretKey)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.DailyDigestCron != "0 8 * * *" {
		t.Errorf("unexpected default digest schedule %q", cfg.DailyDigestCron)
	}
}
