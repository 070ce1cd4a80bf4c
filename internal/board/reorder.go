package board

import "math"

// validateReorder checks that requested is a permutation of current.
// Duplicate ids and id sets that do not match the target's children both
// fail with invalid_ids. An empty request is valid only for an empty
// target.
func validateReorder(current, requested []int64) error {
	if len(requested) != len(current) {
		return validationErr("invalid_ids", "ordered_ids must contain every child id exactly once")
	}
	seen := make(map[int64]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			return validationErr("invalid_ids", "ordered_ids contains duplicate ids")
		}
		seen[id] = struct{}{}
	}
	for _, id := range current {
		if _, ok := seen[id]; !ok {
			return validationErr("invalid_ids", "ordered_ids must contain every child id exactly once")
		}
	}
	return nil
}

// percentDone rounds done/total to one decimal place; 0.0 for an empty
// board.
func percentDone(done, total int) float64 {
	if total <= 0 {
		return 0.0
	}
	return math.Round(float64(done)/float64(total)*1000) / 10
}
