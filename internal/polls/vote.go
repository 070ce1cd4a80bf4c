package polls

// voteDelta is the set of vote rows to remove and insert for one vote
// request, computed against the caller's existing votes.
type voteDelta struct {
	remove []int64
	insert []int64
}

func (d voteDelta) changed() bool {
	return len(d.remove) > 0 || len(d.insert) > 0
}

// touched returns every option id whose count moves, for the delta
// broadcast.
func (d voteDelta) touched() []int64 {
	ids := make([]int64, 0, len(d.remove)+len(d.insert))
	ids = append(ids, d.remove...)
	ids = append(ids, d.insert...)
	return ids
}

// applyVote runs the vote state machine. existing and requested are
// option id sets; requested is already validated (unique ids belonging to
// the poll, length 1 for single-choice).
//
// Single-choice changes delete every existing vote before inserting the
// new one, which also self-heals rows left behind by older data.
func applyVote(multiple, allowChange bool, existing, requested []int64) (voteDelta, error) {
	old := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		old[id] = struct{}{}
	}
	next := make(map[int64]struct{}, len(requested))
	for _, id := range requested {
		next[id] = struct{}{}
	}

	if !multiple {
		chosen := requested[0]
		if _, has := old[chosen]; has && len(existing) == 1 {
			return voteDelta{}, nil
		}
		if len(existing) > 0 && !allowChange {
			return voteDelta{}, validationErr("vote_change_not_allowed", "this poll does not allow changing your vote")
		}
		d := voteDelta{insert: []int64{chosen}}
		for _, id := range existing {
			if id != chosen {
				d.remove = append(d.remove, id)
			} else {
				// re-inserting an already held vote is a no-op
				d.insert = nil
			}
		}
		if d.insert == nil && len(d.remove) == 0 {
			return voteDelta{}, nil
		}
		return d, nil
	}

	same := len(old) == len(next)
	if same {
		for id := range next {
			if _, ok := old[id]; !ok {
				same = false
				break
			}
		}
	}
	if len(existing) > 0 && !allowChange && !same {
		return voteDelta{}, validationErr("vote_change_not_allowed", "this poll does not allow changing your vote")
	}

	var d voteDelta
	if allowChange {
		for _, id := range existing {
			if _, keep := next[id]; !keep {
				d.remove = append(d.remove, id)
			}
		}
	}
	for _, id := range requested {
		if _, has := old[id]; !has {
			d.insert = append(d.insert, id)
		}
	}
	return d, nil
}
