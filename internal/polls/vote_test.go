package polls

import (
	"errors"
	"sort"
	"testing"
	"time"
)

func sorted(ids []int64) []int64 {
	out := append([]int64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = sorted(a), sorted(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApplyVote_SingleChoice(t *testing.T) {
	tests := []struct {
		name        string
		allowChange bool
		existing    []int64
		requested   []int64
		wantInsert  []int64
		wantRemove  []int64
		wantErr     bool
	}{
		{name: "first vote", allowChange: false, existing: nil, requested: []int64{2}, wantInsert: []int64{2}},
		{name: "same vote is a no-op", allowChange: true, existing: []int64{2}, requested: []int64{2}},
		{name: "change allowed", allowChange: true, existing: []int64{1}, requested: []int64{2}, wantInsert: []int64{2}, wantRemove: []int64{1}},
		{name: "change forbidden", allowChange: false, existing: []int64{1}, requested: []int64{2}, wantErr: true},
		{name: "corrupt multi row self-heals", allowChange: true, existing: []int64{1, 3}, requested: []int64{2}, wantInsert: []int64{2}, wantRemove: []int64{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, err := applyVote(false, tt.allowChange, tt.existing, tt.requested)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected a validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !equalIDs(delta.insert, tt.wantInsert) {
				t.Errorf("insert = %v, want %v", delta.insert, tt.wantInsert)
			}
			if !equalIDs(delta.remove, tt.wantRemove) {
				t.Errorf("remove = %v, want %v", delta.remove, tt.wantRemove)
			}
		})
	}
}

func TestApplyVote_MultiChoice(t *testing.T) {
	tests := []struct {
		name        string
		allowChange bool
		existing    []int64
		requested   []int64
		wantInsert  []int64
		wantRemove  []int64
		wantErr     bool
	}{
		{name: "first votes", allowChange: false, existing: nil, requested: []int64{1, 2}, wantInsert: []int64{1, 2}},
		{name: "identical set is a no-op", allowChange: false, existing: []int64{1, 2}, requested: []int64{2, 1}},
		{name: "change allowed swaps the difference", allowChange: true, existing: []int64{1, 2}, requested: []int64{2, 3}, wantInsert: []int64{3}, wantRemove: []int64{1}},
		{name: "change forbidden", allowChange: false, existing: []int64{1}, requested: []int64{1, 2}, wantErr: true},
		{name: "change allowed can clear extras", allowChange: true, existing: []int64{1, 2, 3}, requested: []int64{2}, wantRemove: []int64{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, err := applyVote(true, tt.allowChange, tt.existing, tt.requested)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !equalIDs(delta.insert, tt.wantInsert) {
				t.Errorf("insert = %v, want %v", delta.insert, tt.wantInsert)
			}
			if !equalIDs(delta.remove, tt.wantRemove) {
				t.Errorf("remove = %v, want %v", delta.remove, tt.wantRemove)
			}
			wantChanged := len(tt.wantInsert) > 0 || len(tt.wantRemove) > 0
			if delta.changed() != wantChanged {
				t.Errorf("changed = %v, want %v", delta.changed(), wantChanged)
			}
		})
	}
}

func TestValidateOptions(t *testing.T) {
	day := func(d int) *time.Time {
		ts := time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC)
		return &ts
	}

	if err := validateOptions(TypeCustom, []OptionInput{{Label: "a"}}); err == nil {
		t.Error("expected rejection of fewer than 2 options")
	}
	if err := validateOptions(TypeCustom, []OptionInput{{Label: "a"}, {Label: "a"}}); err == nil {
		t.Error("expected rejection of duplicate labels")
	}
	if err := validateOptions(TypePlace, []OptionInput{{Label: "a"}, {Label: ""}}); err == nil {
		t.Error("expected rejection of empty labels")
	}
	if err := validateOptions(TypeDate, []OptionInput{{DateValue: day(1)}, {DateValue: day(1)}}); err == nil {
		t.Error("expected rejection of duplicate date values")
	}
	if err := validateOptions(TypeDate, []OptionInput{{DateValue: day(1)}, {Label: "b"}}); err == nil {
		t.Error("expected rejection of a date option without a date value")
	}
	if err := validateOptions(TypeDate, []OptionInput{{DateValue: day(1)}, {DateValue: day(2)}}); err != nil {
		t.Errorf("valid date options rejected: %v", err)
	}
	if err := validateOptions(TypeCustom, []OptionInput{{Label: "a"}, {Label: "b"}, {Label: "c"}}); err != nil {
		t.Errorf("valid custom options rejected: %v", err)
	}
}

func TestLeaderIDs(t *testing.T) {
	opt := func(id int64, votes int) OptionDTO {
		return OptionDTO{Option: Option{ID: id}, VotesCount: votes}
	}

	if got := leaderIDs([]OptionDTO{opt(1, 0), opt(2, 0)}); len(got) != 0 {
		t.Errorf("no votes must mean no leaders, got %v", got)
	}
	if got := leaderIDs([]OptionDTO{opt(1, 2), opt(2, 1)}); !equalIDs(got, []int64{1}) {
		t.Errorf("expected single leader 1, got %v", got)
	}
	if got := leaderIDs([]OptionDTO{opt(1, 1), opt(2, 1), opt(3, 0)}); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("expected tied leaders 1 and 2, got %v", got)
	}
}

func TestPoll_VotingClosedAt(t *testing.T) {
	now := time.Now().UTC()
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	open := Poll{EndAt: &future}
	if open.VotingClosedAt(now) {
		t.Error("poll with a future end time should be open")
	}
	ended := Poll{EndAt: &past}
	if !ended.VotingClosedAt(now) {
		t.Error("poll with a past end time should be closed")
	}
	closed := Poll{IsClosed: true}
	if !closed.VotingClosedAt(now) {
		t.Error("explicitly closed poll should be closed")
	}
	endless := Poll{}
	if endless.VotingClosedAt(now) {
		t.Error("poll without an end time should be open")
	}
}
