package board

import (
	"errors"
	"testing"
)

func TestValidateReorder(t *testing.T) {
	tests := []struct {
		name      string
		current   []int64
		requested []int64
		wantErr   bool
	}{
		{name: "exact permutation", current: []int64{1, 2, 3}, requested: []int64{3, 1, 2}},
		{name: "identity permutation", current: []int64{5}, requested: []int64{5}},
		{name: "empty for empty target", current: nil, requested: nil},
		{name: "missing id", current: []int64{1, 2, 3}, requested: []int64{1, 2}, wantErr: true},
		{name: "extra id", current: []int64{1, 2}, requested: []int64{1, 2, 3}, wantErr: true},
		{name: "duplicate id", current: []int64{1, 2}, requested: []int64{1, 1}, wantErr: true},
		{name: "foreign id", current: []int64{1, 2}, requested: []int64{1, 9}, wantErr: true},
		{name: "empty for non-empty target", current: []int64{1}, requested: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReorder(tt.current, tt.requested)
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected invalid_ids, got %v", err)
				}
				if verr.Code != "invalid_ids" {
					t.Errorf("code = %q, want invalid_ids", verr.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPercentDone(t *testing.T) {
	tests := []struct {
		done, total int
		want        float64
	}{
		{0, 0, 0.0},
		{0, 5, 0.0},
		{5, 5, 100.0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{1, 8, 12.5},
		{7, 9, 77.8},
	}

	for _, tt := range tests {
		if got := percentDone(tt.done, tt.total); got != tt.want {
			t.Errorf("percentDone(%d, %d) = %v, want %v", tt.done, tt.total, got, tt.want)
		}
	}
}
