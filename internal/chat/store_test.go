package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateText(t *testing.T) {
	got, err := validateText("  hello  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("expected trimmed text, got %q", got)
	}

	if _, err := validateText("   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText for whitespace, got %v", err)
	}

	if _, err := validateText(strings.Repeat("a", maxTextLen)); err != nil {
		t.Errorf("text at the limit should pass, got %v", err)
	}
	if _, err := validateText(strings.Repeat("a", maxTextLen+1)); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("expected ErrTextTooLong past the limit, got %v", err)
	}
}

func TestValidateText_CountsRunesNotBytes(t *testing.T) {
	// Each Cyrillic letter is two bytes, so a message at the rune limit
	// is twice maxTextLen in bytes and must still be accepted.
	atLimit := strings.Repeat("ж", maxTextLen)
	if _, err := validateText(atLimit); err != nil {
		t.Fatalf("multibyte text at the rune limit rejected: %v", err)
	}

	if _, err := validateText(atLimit + "ж"); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("expected ErrTextTooLong one rune past the limit, got %v", err)
	}
}
