package board

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/planhub/backend/internal/cache"
	"github.com/planhub/backend/internal/realtime"
)

const (
	progressTTLSeconds = 30
	progressTTL        = progressTTLSeconds * time.Second
)

func progressKey(eventID int64) string {
	return fmt.Sprintf("event:%d:progress:v1", eventID)
}

// Service layers broadcasting and progress caching over the store. Every
// mutation broadcasts after the store call returns (post-commit) and
// evicts the cached progress.
type Service struct {
	store *Store
	hub   *realtime.Hub
	cache cache.Cache
}

func NewService(store *Store, hub *realtime.Hub, c cache.Cache) *Service {
	return &Service{store: store, hub: hub, cache: c}
}

func (s *Service) Store() *Store { return s.store }

// invalidateProgress evicts the cached blob and tells connected clients to
// refetch.
func (s *Service) invalidateProgress(ctx context.Context, eventID int64) {
	if err := s.cache.Delete(ctx, progressKey(eventID)); err != nil {
		log.Printf("board: evict progress cache for event %d: %v", eventID, err)
	}
	s.hub.Publish(ctx, eventID, "progress.invalidate", map[string]interface{}{})
}

func (s *Service) CreateList(ctx context.Context, eventID int64, title string) (*TaskList, error) {
	list, err := s.store.CreateList(ctx, eventID, title)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "tasklist.created", list)
	s.invalidateProgress(ctx, eventID)
	return list, nil
}

func (s *Service) UpdateList(ctx context.Context, eventID, listID int64, title string) (*TaskList, error) {
	list, err := s.store.UpdateListTitle(ctx, listID, title)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "tasklist.updated", list)
	s.invalidateProgress(ctx, eventID)
	return list, nil
}

// DeleteList cascades the column's tasks, renumbers the surviving columns
// and broadcasts the deletion followed by the fresh order.
func (s *Service) DeleteList(ctx context.Context, eventID, listID int64) error {
	if err := s.store.DeleteList(ctx, listID); err != nil {
		return err
	}
	ids, err := s.store.NormalizeListOrders(ctx, eventID)
	if err != nil {
		return err
	}
	s.hub.Publish(ctx, eventID, "tasklist.deleted", map[string]interface{}{
		"id": listID, "event": eventID,
	})
	s.hub.Publish(ctx, eventID, "tasklist.reordered", map[string]interface{}{
		"event": eventID, "ordered_ids": ids,
	})
	s.invalidateProgress(ctx, eventID)
	return nil
}

func (s *Service) ReorderLists(ctx context.Context, eventID int64, orderedIDs []int64) error {
	if err := s.store.ReorderLists(ctx, eventID, orderedIDs); err != nil {
		return err
	}
	s.hub.Publish(ctx, eventID, "tasklist.reordered", map[string]interface{}{
		"event": eventID, "ordered_ids": orderedIDs,
	})
	return nil
}

func (s *Service) CreateTask(ctx context.Context, eventID, listID int64, in TaskInput) (*Task, error) {
	task, err := s.store.CreateTask(ctx, listID, in)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "task.created", task)
	s.invalidateProgress(ctx, eventID)
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, eventID, taskID int64, in TaskInput) (*Task, error) {
	task, err := s.store.UpdateTask(ctx, taskID, in)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "task.updated", task)
	s.invalidateProgress(ctx, eventID)
	return task, nil
}

// DeleteTask removes the task and renumbers its list. Only the deletion is
// broadcast; the renumbering is visible on the next board fetch.
func (s *Service) DeleteTask(ctx context.Context, eventID, listID, taskID int64) error {
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	if _, err := s.store.NormalizeTaskOrders(ctx, listID); err != nil {
		return err
	}
	s.hub.Publish(ctx, eventID, "task.deleted", map[string]interface{}{
		"id": taskID, "list": listID,
	})
	s.invalidateProgress(ctx, eventID)
	return nil
}

func (s *Service) ReorderTasks(ctx context.Context, eventID, listID int64, orderedIDs []int64) error {
	if err := s.store.ReorderTasks(ctx, listID, orderedIDs); err != nil {
		return err
	}
	s.hub.Publish(ctx, eventID, "task.reordered", map[string]interface{}{
		"list": listID, "ordered_ids": orderedIDs,
	})
	return nil
}

func (s *Service) SetStatus(ctx context.Context, eventID, taskID int64, status string) (*Task, error) {
	task, err := s.store.SetStatus(ctx, taskID, status)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "task.updated", task)
	s.invalidateProgress(ctx, eventID)
	return task, nil
}

func (s *Service) Assign(ctx context.Context, eventID, taskID int64, participantID *int64) (*Task, error) {
	task, err := s.store.Assign(ctx, taskID, participantID)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "task.updated", task)
	s.invalidateProgress(ctx, eventID)
	return task, nil
}

func (s *Service) Take(ctx context.Context, eventID, taskID, participantID int64) (*Task, error) {
	task, err := s.store.Take(ctx, taskID, participantID)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "task.updated", task)
	s.invalidateProgress(ctx, eventID)
	return task, nil
}

// Progress returns the cached aggregate, recomputing on miss. Cache
// failures are advisory: the caller always gets a result when the store is
// healthy.
func (s *Service) Progress(ctx context.Context, eventID int64) (*Progress, error) {
	key := progressKey(eventID)
	if blob, err := s.cache.Get(ctx, key); err == nil {
		var p Progress
		if err := json.Unmarshal(blob, &p); err == nil {
			return &p, nil
		}
		log.Printf("board: corrupt progress blob for event %d, recomputing", eventID)
	}

	p, err := s.store.ComputeProgress(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if blob, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, blob, progressTTL); err != nil {
			log.Printf("board: store progress cache for event %d: %v", eventID, err)
		}
	}
	return p, nil
}
