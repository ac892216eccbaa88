package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

// forEachStore runs fn against every backend.
func forEachStore(t *testing.T, fn func(t *testing.T, reg *Registry)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, New(NewMemoryStore()))
	})
	t.Run("redis", func(t *testing.T) {
		store, _ := newRedisStore(t)
		fn(t, New(store))
	})
}

func ids(members []models.Member) []string {
	return memberIDs(members)
}

func TestJoinAssignsRolesInOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()

		first, err := reg.Join(ctx, "1234", "abc123", nil)
		require.NoError(t, err)
		assert.True(t, first.Joined)
		assert.Equal(t, models.RoleDoctor, first.Member.Role)
		assert.True(t, first.IsFirst())
		assert.Empty(t, first.OtherIDs())

		second, err := reg.Join(ctx, "1234", "xyz789", nil)
		require.NoError(t, err)
		assert.Equal(t, models.RolePatient, second.Member.Role)
		assert.False(t, second.IsFirst())
		assert.Equal(t, []string{"abc123"}, second.OtherIDs())

		third, err := reg.Join(ctx, "1234", "lmn456", nil)
		require.NoError(t, err)
		assert.Equal(t, models.RolePatient, third.Member.Role)
		assert.Equal(t, []string{"abc123", "xyz789"}, third.OtherIDs())

		members, err := reg.MembersOf(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, []string{"abc123", "xyz789", "lmn456"}, ids(members))
	})
}

func TestDuplicateJoinIsNoop(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()
		_, err := reg.Join(ctx, "1234", "a", nil)
		require.NoError(t, err)
		_, err = reg.Join(ctx, "1234", "b", nil)
		require.NoError(t, err)

		called := false
		res, err := reg.Join(ctx, "1234", "a", func(JoinResult) { called = true })
		require.NoError(t, err)

		assert.False(t, res.Joined)
		assert.False(t, called)
		assert.Equal(t, models.RoleDoctor, res.Member.Role)

		members, err := reg.MembersOf(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(members))
	})
}

func TestLeaveReportsRemaining(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_, err := reg.Join(ctx, "1234", id, nil)
			require.NoError(t, err)
		}

		var notified LeaveResult
		res, err := reg.Leave(ctx, "1234", "b", func(r LeaveResult) { notified = r })
		require.NoError(t, err)

		assert.True(t, res.Left)
		assert.False(t, res.Closed)
		assert.Equal(t, []string{"a", "c"}, res.RemainingIDs())
		assert.Equal(t, res.RemainingIDs(), notified.RemainingIDs())
		assert.Equal(t, "b", notified.MemberID)
	})
}

func TestLeaveUnknownMember(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()
		_, err := reg.Join(ctx, "1234", "a", nil)
		require.NoError(t, err)

		called := false
		res, err := reg.Leave(ctx, "1234", "ghost", func(LeaveResult) { called = true })
		require.NoError(t, err)
		assert.False(t, res.Left)
		assert.False(t, called)

		res, err = reg.Leave(ctx, "nope", "a", nil)
		require.NoError(t, err)
		assert.False(t, res.Left)
	})
}

func TestEmptyRoomIsDestroyedAndRefilledWithNewDoctor(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()
		_, err := reg.Join(ctx, "1234", "a", nil)
		require.NoError(t, err)
		_, err = reg.Join(ctx, "1234", "b", nil)
		require.NoError(t, err)

		_, err = reg.Leave(ctx, "1234", "a", nil)
		require.NoError(t, err)

		// The remaining patient is now first but keeps its role.
		snap, err := reg.Snapshot(ctx, "1234")
		require.NoError(t, err)
		require.Len(t, snap.Members, 1)
		assert.Equal(t, models.RolePatient, snap.Members[0].Role)
		assert.True(t, snap.Members[0].IsFirst)

		res, err := reg.Leave(ctx, "1234", "b", nil)
		require.NoError(t, err)
		assert.True(t, res.Closed)

		members, err := reg.MembersOf(ctx, "1234")
		require.NoError(t, err)
		assert.Empty(t, members)

		refill, err := reg.Join(ctx, "1234", "c", nil)
		require.NoError(t, err)
		assert.Equal(t, models.RoleDoctor, refill.Member.Role)
		assert.True(t, refill.IsFirst())
	})
}

func TestSnapshotHasExactlyOneFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_, err := reg.Join(ctx, "room", id, nil)
			require.NoError(t, err)
		}

		snap, err := reg.Snapshot(ctx, "room")
		require.NoError(t, err)
		assert.Equal(t, "room", snap.ID)

		first := 0
		for _, m := range snap.Members {
			if m.IsFirst {
				first++
				assert.Equal(t, "a", m.ID)
			}
		}
		assert.Equal(t, 1, first)
	})
}

func TestRoomsAreIndependent(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()
		_, err := reg.Join(ctx, "r1", "a", nil)
		require.NoError(t, err)
		res, err := reg.Join(ctx, "r2", "b", nil)
		require.NoError(t, err)

		assert.Equal(t, models.RoleDoctor, res.Member.Role)
		assert.Empty(t, res.Others)
	})
}

func TestEmptyIDs(t *testing.T) {
	reg := New(NewMemoryStore())
	_, err := reg.Join(context.Background(), "", "a", nil)
	assert.ErrorIs(t, err, ErrEmptyID)
	_, err = reg.Leave(context.Background(), "room", "", nil)
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestConcurrentJoinsElectOneDoctor(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			doctors int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := reg.Join(ctx, "busy", fmt.Sprintf("m%02d", i), nil)
				if !assert.NoError(t, err) {
					return
				}
				if res.Member.Role == models.RoleDoctor {
					mu.Lock()
					doctors++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, doctors)
		members, err := reg.MembersOf(ctx, "busy")
		require.NoError(t, err)
		assert.Len(t, members, 20)
	})
}

func TestNotifyRunsUnderRoomLock(t *testing.T) {
	reg := New(NewMemoryStore())
	ctx := context.Background()

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = reg.Join(ctx, "room", "a", func(JoinResult) {
			close(entered)
			<-release
			record("a notified")
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_, _ = reg.Join(ctx, "room", "b", func(JoinResult) { record("b notified") })
		close(done)
	}()

	close(release)
	<-done

	assert.Equal(t, []string{"a notified", "b notified"}, order)
}

func TestRedisKeysExpire(t *testing.T) {
	store, mr := newRedisStore(t)
	reg := New(store)

	_, err := reg.Join(context.Background(), "1234", "a", nil)
	require.NoError(t, err)

	assert.Equal(t, roomTTL, mr.TTL(peersKey("1234")))
	assert.Equal(t, roomTTL, mr.TTL(rolesKey("1234")))

	_, err = reg.Leave(context.Background(), "1234", "a", nil)
	require.NoError(t, err)
	assert.False(t, mr.Exists(peersKey("1234")))
	assert.False(t, mr.Exists(rolesKey("1234")))
}

func TestRedisMemberWithoutRoleFallsBackToPosition(t *testing.T) {
	store, mr := newRedisStore(t)

	_, err := mr.Push(peersKey("1234"), "a", "b")
	require.NoError(t, err)

	members, err := store.Members(context.Background(), "1234")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, models.RoleDoctor, members[0].Role)
	assert.Equal(t, models.RolePatient, members[1].Role)
}

func TestRoomsListsLiveRooms(t *testing.T) {
	forEachStore(t, func(t *testing.T, reg *Registry) {
		ctx := context.Background()

		rooms, err := reg.Rooms(ctx)
		require.NoError(t, err)
		assert.Empty(t, rooms)

		_, err = reg.Join(ctx, "b", "x", nil)
		require.NoError(t, err)
		_, err = reg.Join(ctx, "a", "y", nil)
		require.NoError(t, err)
		_, err = reg.Join(ctx, "a", "z", nil)
		require.NoError(t, err)

		rooms, err = reg.Rooms(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, rooms)

		_, err = reg.Leave(ctx, "b", "x", nil)
		require.NoError(t, err)
		rooms, err = reg.Rooms(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, rooms)
	})
}

func TestAssignRole(t *testing.T) {
	assert.Equal(t, models.RoleDoctor, AssignRole(nil))
	assert.Equal(t, models.RolePatient, AssignRole([]models.Member{{ID: "a"}}))

	members := []models.Member{{ID: "a"}, {ID: "b"}}
	assert.True(t, IsFirst(members, "a"))
	assert.False(t, IsFirst(members, "b"))
	assert.False(t, IsFirst(nil, "a"))
}
