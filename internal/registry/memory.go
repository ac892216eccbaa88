package registry

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/consult-signaling/internal/models"
)

// MemoryStore keeps rooms in process memory. Suitable for a single instance.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]models.Member
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string][]models.Member),
		now:   time.Now,
	}
}

func (s *MemoryStore) Add(_ context.Context, roomID, memberID string, assign AssignFunc) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.rooms[roomID]
	if idx := indexOf(existing, memberID); idx >= 0 {
		return JoinResult{
			Member: existing[idx],
			Others: without(existing, memberID),
		}, nil
	}

	m := models.Member{
		ID:       memberID,
		Role:     assign(existing),
		JoinedAt: s.now(),
	}
	s.rooms[roomID] = append(slices.Clone(existing), m)

	return JoinResult{
		Member: m,
		Others: slices.Clone(existing),
		Joined: true,
	}, nil
}

func (s *MemoryStore) Remove(_ context.Context, roomID, memberID string) (LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rooms[roomID]
	if !ok || indexOf(existing, memberID) < 0 {
		return LeaveResult{Remaining: slices.Clone(existing)}, nil
	}

	remaining := without(existing, memberID)
	res := LeaveResult{Remaining: remaining, Left: true}
	if len(remaining) == 0 {
		delete(s.rooms, roomID)
		res.Closed = true
	} else {
		s.rooms[roomID] = remaining
	}
	return res, nil
}

func (s *MemoryStore) Members(_ context.Context, roomID string) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rooms[roomID]), nil
}

func (s *MemoryStore) Rooms(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func indexOf(members []models.Member, id string) int {
	return slices.IndexFunc(members, func(m models.Member) bool { return m.ID == id })
}

func without(members []models.Member, id string) []models.Member {
	out := make([]models.Member, 0, len(members))
	for _, m := range members {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
