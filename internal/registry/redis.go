package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	roomTTL       = 24 * time.Hour
	maxTxAttempts = 10
)

var ErrTxContention = errors.New("room membership changed concurrently too many times")

// RedisStore shares room membership between signaling instances.
//
// Keys per room:
//
//	room:<id>:peers  list of member ids in join order
//	room:<id>:roles  hash member id -> msgpack encoded models.Member
//
// Both keys expire after 24h, refreshed on every join.
// Mutations run inside WATCH/MULTI so concurrent instances cannot interleave.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func peersKey(roomID string) string { return "room:" + roomID + ":peers" }
func rolesKey(roomID string) string { return "room:" + roomID + ":roles" }

func (s *RedisStore) Add(ctx context.Context, roomID, memberID string, assign AssignFunc) (JoinResult, error) {
	var res JoinResult

	txf := func(tx *redis.Tx) error {
		existing, err := readMembers(ctx, tx, roomID)
		if err != nil {
			return err
		}

		if idx := indexOf(existing, memberID); idx >= 0 {
			res = JoinResult{Member: existing[idx], Others: without(existing, memberID)}
			return nil
		}

		m := models.Member{
			ID:       memberID,
			Role:     assign(existing),
			JoinedAt: s.now().UTC(),
		}
		data, err := msgpack.Marshal(&m)
		if err != nil {
			return fmt.Errorf("encode member: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, peersKey(roomID), memberID)
			pipe.HSet(ctx, rolesKey(roomID), memberID, data)
			pipe.Expire(ctx, peersKey(roomID), roomTTL)
			pipe.Expire(ctx, rolesKey(roomID), roomTTL)
			return nil
		})
		if err != nil {
			return err
		}

		res = JoinResult{Member: m, Others: existing, Joined: true}
		return nil
	}

	if err := s.watch(ctx, txf, roomID); err != nil {
		return JoinResult{}, err
	}
	return res, nil
}

func (s *RedisStore) Remove(ctx context.Context, roomID, memberID string) (LeaveResult, error) {
	var res LeaveResult

	txf := func(tx *redis.Tx) error {
		existing, err := readMembers(ctx, tx, roomID)
		if err != nil {
			return err
		}

		if indexOf(existing, memberID) < 0 {
			res = LeaveResult{Remaining: existing}
			return nil
		}

		remaining := without(existing, memberID)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(remaining) == 0 {
				pipe.Del(ctx, peersKey(roomID), rolesKey(roomID))
				return nil
			}
			pipe.LRem(ctx, peersKey(roomID), 0, memberID)
			pipe.HDel(ctx, rolesKey(roomID), memberID)
			return nil
		})
		if err != nil {
			return err
		}

		res = LeaveResult{Remaining: remaining, Left: true, Closed: len(remaining) == 0}
		return nil
	}

	if err := s.watch(ctx, txf, roomID); err != nil {
		return LeaveResult{}, err
	}
	return res, nil
}

func (s *RedisStore) Members(ctx context.Context, roomID string) ([]models.Member, error) {
	return readMembers(ctx, s.client, roomID)
}

// Rooms scans for peer lists. An empty room has no keys, so every match is live.
func (s *RedisStore) Rooms(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, peersKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimSuffix(strings.TrimPrefix(iter.Val(), "room:"), ":peers")
		ids = append(ids, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// watch retries txf while another client modifies the room keys.
func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, roomID string) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, txf, peersKey(roomID), rolesKey(roomID))
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTxContention
}

type memberReader interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readMembers(ctx context.Context, r memberReader, roomID string) ([]models.Member, error) {
	ids, err := r.LRange(ctx, peersKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read peers: %w", err)
	}
	if len(ids) == 0 {
		return []models.Member{}, nil
	}

	values, err := r.HMGet(ctx, rolesKey(roomID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read roles: %w", err)
	}

	members := make([]models.Member, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Peer listed without a role entry; keep order, fall back to position.
			members = append(members, models.Member{ID: ids[i], Role: AssignRole(members)})
			continue
		}
		var m models.Member
		if err := msgpack.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode member %s: %w", ids[i], err)
		}
		members = append(members, m)
	}
	return members, nil
}
