package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pl "github.com/panyam/passlink"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("skip: miniredis unavailable in this environment: %v", err)
	}
	cli := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		cli.Close()
		srv.Close()
	})
	return srv, cli
}

func record(t *testing.T, userID string, expiry time.Time) []byte {
	t.Helper()
	b, err := json.Marshal(&pl.SessionRecord{UserID: userID, ExpiresAt: expiry, User: pl.SessionUser{UserID: userID}})
	require.NoError(t, err)
	return b
}

func TestSessionStore_CommitFindDelete(t *testing.T) {
	_, cli := newTestClient(t)
	store := NewSessionStore(cli)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	require.NoError(t, store.CommitCtx(ctx, "tok-1", record(t, "u1", expiry), expiry))

	b, found, err := store.FindCtx(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, found)
	rec, err := pl.DecodeSessionRecord(b)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)

	require.NoError(t, store.DeleteCtx(ctx, "tok-1"))
	_, found, err = store.FindCtx(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, found)

	members, err := cli.SMembers(ctx, DefaultUserSessionPrefix+"u1").Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSessionStore_UserSetExpiresWithLongestSession(t *testing.T) {
	srv, cli := newTestClient(t)
	store := NewSessionStore(cli)
	ctx := context.Background()
	setKey := DefaultUserSessionPrefix + "u1"

	long := time.Now().Add(time.Hour)
	short := time.Now().Add(10 * time.Minute)
	require.NoError(t, store.CommitCtx(ctx, "tok-long", record(t, "u1", long), long))
	require.NoError(t, store.CommitCtx(ctx, "tok-short", record(t, "u1", short), short))

	ttl := srv.TTL(setKey)
	assert.Greater(t, ttl, 50*time.Minute, "a shorter session must not shorten the set")
	assert.LessOrEqual(t, ttl, time.Hour)

	srv.FastForward(30 * time.Minute)
	members, err := cli.SMembers(ctx, setKey).Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-long", "tok-short"}, members)

	srv.FastForward(31 * time.Minute)
	assert.False(t, srv.Exists(setKey), "the set must expire once every session has")
}

func TestSessionStore_FindUnknown(t *testing.T) {
	_, cli := newTestClient(t)
	store := NewSessionStore(cli)

	b, found, err := store.Find("missing")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, b)
}

func TestSessionStore_Expiry(t *testing.T) {
	srv, cli := newTestClient(t)
	store := NewSessionStore(cli)
	expiry := time.Now().Add(time.Minute)

	require.NoError(t, store.Commit("tok-exp", record(t, "u1", expiry), expiry))
	srv.FastForward(2 * time.Minute)

	_, found, err := store.Find("tok-exp")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStore_CommitPastExpiryDeletes(t *testing.T) {
	_, cli := newTestClient(t)
	store := NewSessionStore(cli)
	future := time.Now().Add(time.Hour)

	require.NoError(t, store.Commit("tok", record(t, "u1", future), future))
	require.NoError(t, store.Commit("tok", record(t, "u1", future), time.Now().Add(-time.Second)))

	_, found, err := store.Find("tok")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStore_AllAndDeleteUserSessions(t *testing.T) {
	_, cli := newTestClient(t)
	store := NewSessionStore(cli)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	require.NoError(t, store.Commit("a1", record(t, "alice", expiry), expiry))
	require.NoError(t, store.Commit("a2", record(t, "alice", expiry), expiry))
	require.NoError(t, store.Commit("b1", record(t, "bob", expiry), expiry))

	all, err := store.All()
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Contains(t, all, "a1")

	require.NoError(t, store.DeleteUserSessions(ctx, "alice"))

	all, err = store.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "b1")
}

func TestSessionStore_WithSessionManager(t *testing.T) {
	_, cli := newTestClient(t)
	users := newMemUsers()
	users.add(&pl.User{ID: "u1", Email: "u1@example.com", EmailVerified: true})

	mgr := pl.NewSessionManager(pl.SessionConfig{}, NewSessionStore(cli), users, nil)
	ctx := context.Background()

	s1, err := mgr.CreateSession(ctx, "u1")
	require.NoError(t, err)
	s2, err := mgr.CreateSession(ctx, "u1")
	require.NoError(t, err)

	got, err := mgr.ValidateSession(ctx, s1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, mgr.InvalidateUserSessions(ctx, "u1"))
	for _, id := range []string{s1.ID, s2.ID} {
		got, err := mgr.ValidateSession(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}
