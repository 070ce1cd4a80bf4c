package polls

import (
	"context"
	"log"

	"github.com/planhub/backend/internal/realtime"
)

// Service layers post-commit broadcasting over the store.
type Service struct {
	store *Store
	hub   *realtime.Hub
}

func NewService(store *Store, hub *realtime.Hub) *Service {
	return &Service{store: store, hub: hub}
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) Create(ctx context.Context, eventID, createdBy int64, in CreateInput) (*PollDTO, error) {
	poll, err := s.store.Create(ctx, eventID, createdBy, in)
	if err != nil {
		return nil, err
	}
	dto, err := s.store.ReadDTO(ctx, poll, createdBy)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "poll.created", map[string]interface{}{
		"event_id": eventID,
		"poll":     dto,
		"version":  poll.Version,
	})
	return dto, nil
}

type optionDelta struct {
	ID         int64 `json:"id"`
	VotesCount int   `json:"votes_count"`
}

// Vote applies the caller's vote and, when the set changed, broadcasts the
// delta restricted to the touched options with the new version.
func (s *Service) Vote(ctx context.Context, poll *Poll, userID int64, optionIDs []int64) (*PollDTO, error) {
	result, err := s.store.Vote(ctx, poll.ID, userID, optionIDs)
	if err != nil {
		return nil, err
	}

	if result.Changed {
		touched, total, leaders, err := s.store.CountsFor(ctx, poll.ID, result.Touched)
		if err != nil {
			// the vote is committed; the broadcast delta is advisory
			log.Printf("polls: counts for poll %d after vote: %v", poll.ID, err)
		} else {
			deltas := make([]optionDelta, 0, len(touched))
			for _, o := range touched {
				deltas = append(deltas, optionDelta{ID: o.ID, VotesCount: o.VotesCount})
			}
			s.hub.Publish(ctx, poll.EventID, "poll.updated", map[string]interface{}{
				"event_id":          poll.EventID,
				"poll_id":           poll.ID,
				"options":           deltas,
				"total_votes":       total,
				"leader_option_ids": leaders,
				"version":           result.Version,
			})
		}
	}

	fresh, err := s.store.Get(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	return s.store.ReadDTO(ctx, fresh, userID)
}

// Close closes the poll; only the first close broadcasts.
func (s *Service) Close(ctx context.Context, poll *Poll) (*CloseResult, error) {
	result, err := s.store.Close(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	if result.First {
		s.hub.Publish(ctx, poll.EventID, "poll.closed", map[string]interface{}{
			"event_id": poll.EventID,
			"poll_id":  poll.ID,
			"version":  result.Version,
		})
	}
	return result, nil
}

func (s *Service) Delete(ctx context.Context, poll *Poll) error {
	if err := s.store.Delete(ctx, poll.ID); err != nil {
		return err
	}
	s.hub.Publish(ctx, poll.EventID, "poll.deleted", map[string]interface{}{
		"event_id": poll.EventID,
		"poll_id":  poll.ID,
	})
	return nil
}
