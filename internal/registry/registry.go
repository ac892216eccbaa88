package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

var ErrEmptyID = errors.New("room and member id are required")

// Store is the membership backend. Implementations must keep members in join
// order and treat a second Add of the same member as a no-op.
type Store interface {
	Add(ctx context.Context, roomID, memberID string, assign AssignFunc) (JoinResult, error)
	Remove(ctx context.Context, roomID, memberID string) (LeaveResult, error)
	Members(ctx context.Context, roomID string) ([]models.Member, error)
	// Rooms lists the ids of live rooms, sorted.
	Rooms(ctx context.Context) ([]string, error)
}

// JoinResult describes the outcome of a join. Others holds the members that
// were already present, in join order.
type JoinResult struct {
	RoomID string
	Member models.Member
	Others []models.Member
	Joined bool
}

// IsFirst is true when the member opened the room.
func (r JoinResult) IsFirst() bool {
	return r.Joined && len(r.Others) == 0
}

// OtherIDs returns the ids of Others.
func (r JoinResult) OtherIDs() []string {
	return memberIDs(r.Others)
}

// LeaveResult describes the outcome of a leave.
type LeaveResult struct {
	RoomID    string
	MemberID  string
	Remaining []models.Member
	Left      bool
	Closed    bool
}

// RemainingIDs returns the ids of Remaining.
func (r LeaveResult) RemainingIDs() []string {
	return memberIDs(r.Remaining)
}

// Registry is the authoritative room membership service. Every mutation of a
// room is serialized by a per-room lock; the optional notify callback runs
// before that lock is released so callers can broadcast in mutation order.
type Registry struct {
	store Store
	locks *keyedMutex
}

func New(store Store) *Registry {
	return &Registry{
		store: store,
		locks: newKeyedMutex(),
	}
}

// Join adds memberID to roomID, creating the room if needed. A member already
// present is left untouched and notify is not called.
func (r *Registry) Join(ctx context.Context, roomID, memberID string, notify func(JoinResult)) (JoinResult, error) {
	if roomID == "" || memberID == "" {
		return JoinResult{}, ErrEmptyID
	}

	unlock := r.locks.Lock(roomID)
	defer unlock()

	res, err := r.store.Add(ctx, roomID, memberID, AssignRole)
	if err != nil {
		return JoinResult{}, fmt.Errorf("join room %s: %w", roomID, err)
	}
	res.RoomID = roomID

	if !res.Joined {
		log.Debug().Str("room_id", roomID).Str("member_id", memberID).Msg("Duplicate join ignored")
		return res, nil
	}

	log.Info().
		Str("room_id", roomID).
		Str("member_id", memberID).
		Str("role", string(res.Member.Role)).
		Int("members", len(res.Others)+1).
		Msg("Member joined room")

	if notify != nil {
		notify(res)
	}
	return res, nil
}

// Leave removes memberID from roomID. The room is destroyed once empty.
func (r *Registry) Leave(ctx context.Context, roomID, memberID string, notify func(LeaveResult)) (LeaveResult, error) {
	if roomID == "" || memberID == "" {
		return LeaveResult{}, ErrEmptyID
	}

	unlock := r.locks.Lock(roomID)
	defer unlock()

	res, err := r.store.Remove(ctx, roomID, memberID)
	if err != nil {
		return LeaveResult{}, fmt.Errorf("leave room %s: %w", roomID, err)
	}
	res.RoomID = roomID
	res.MemberID = memberID

	if !res.Left {
		return res, nil
	}

	if res.Closed {
		log.Info().Str("room_id", roomID).Msg("Removed empty room")
	} else {
		log.Info().Str("room_id", roomID).Str("member_id", memberID).Int("members", len(res.Remaining)).Msg("Member left room")
	}

	if notify != nil {
		notify(res)
	}
	return res, nil
}

// MembersOf returns the room's members in join order.
func (r *Registry) MembersOf(ctx context.Context, roomID string) ([]models.Member, error) {
	return r.store.Members(ctx, roomID)
}

// Rooms returns the ids of every room with at least one member.
func (r *Registry) Rooms(ctx context.Context) ([]string, error) {
	return r.store.Rooms(ctx)
}

// Snapshot returns the room with isFirst computed for every member.
func (r *Registry) Snapshot(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	members, err := r.store.Members(ctx, roomID)
	if err != nil {
		return models.RoomSnapshot{}, err
	}

	snap := models.RoomSnapshot{ID: roomID, Members: make([]models.MemberView, 0, len(members))}
	for _, m := range members {
		snap.Members = append(snap.Members, models.MemberView{
			ID:       m.ID,
			Role:     m.Role,
			IsFirst:  IsFirst(members, m.ID),
			JoinedAt: m.JoinedAt,
		})
	}
	return snap, nil
}

func memberIDs(members []models.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
