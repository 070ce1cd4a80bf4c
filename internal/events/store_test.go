package events

import (
	"errors"
	"testing"
)

func TestLastOrganizerError(t *testing.T) {
	if err := lastOrganizerError(5, 5); !errors.Is(err, ErrSelfLastOrganizer) {
		t.Errorf("self-demotion should report ErrSelfLastOrganizer, got %v", err)
	}
	if err := lastOrganizerError(5, 9); !errors.Is(err, ErrLastOrganizer) {
		t.Errorf("acting on another user should report ErrLastOrganizer, got %v", err)
	}
}
