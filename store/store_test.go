package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselmesh/counselmesh/core"
)

func TestMemoryStoreConversationRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Empty(t, conv.Turns)

	conv.UserID = "u1"
	conv.ActiveTopic = "divorce"
	conv.Handoffs = 2
	conv.MarkShown([]string{"s1"})
	conv.AppendTurn(core.TurnRecord{TurnID: "t1", ReplyText: "hello"})
	require.NoError(t, s.Put(ctx, conv))

	// Mutations after Put must not leak into the stored copy.
	conv.Handoffs = 99

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "divorce", got.ActiveTopic)
	assert.Equal(t, 2, got.Handoffs)
	assert.True(t, got.WasShown("s1"))
	assert.Empty(t, cmp.Diff(conv.Turns, got.Turns))
}

func TestMemoryStoreProfileRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	prof, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", prof.UserID)

	prof.DisplayName = "Jordan"
	prof.AddMarker("first_consult")
	prof.EngagementTrend = 6.2
	require.NoError(t, s.Save(ctx, prof))

	got, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Jordan", got.DisplayName)
	assert.True(t, got.HasMarker("first_consult"))
	assert.InDelta(t, 6.2, got.EngagementTrend, 1e-9)
}

func TestMemoryIndexSearch(t *testing.T) {
	idx := NewMemoryIndex(
		"Illinois allows no-fault divorce filings under irreconcilable differences.",
		"Washington landlords must return deposits within 30 days.",
	)
	ctx := context.Background()

	require.NoError(t, idx.Store(ctx, "Chicago divorce cases require six months of residency.", nil))

	results, err := idx.Search(ctx, "divorce residency Chicago", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "residency")
	assert.Greater(t, results[0].Score, results[1].Score)

	none, err := idx.Search(ctx, "maritime salvage", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func newRedisStore(t *testing.T, optFns ...func(*RedisOptions)) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, optFns...), mr
}

func TestRedisStoreConversationRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	conv, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.NotNil(t, conv.ShownSuggestions)

	conv.UserID = "u1"
	conv.Facts["city"] = "Chicago"
	conv.MarkShown([]string{"s1", "s2"})
	conv.ConsecutiveAllianceLow = 1
	require.NoError(t, s.Put(ctx, conv))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Chicago", got.Facts["city"])
	assert.True(t, got.WasShown("s2"))
	assert.Equal(t, 1, got.ConsecutiveAllianceLow)
}

func TestRedisStoreProfileRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	prof, err := s.Load(ctx, "u9")
	require.NoError(t, err)
	prof.Notes["location"] = "Chicago"
	prof.AddMarker("filed_paperwork")
	require.NoError(t, s.Save(ctx, prof))

	got, err := s.Load(ctx, "u9")
	require.NoError(t, err)
	assert.Equal(t, "Chicago", got.Notes["location"])
	assert.True(t, got.HasMarker("filed_paperwork"))
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newRedisStore(t, func(o *RedisOptions) {
		o.ConversationTTL = time.Minute
	})
	ctx := context.Background()

	conv := core.NewConversation("c1", "u1")
	require.NoError(t, s.Put(ctx, conv))

	mr.FastForward(2 * time.Minute)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got.UserID, "expired record should come back fresh")
}

func TestRedisIndexSearch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	idx := NewRedisIndex(client, "")
	ctx := context.Background()

	require.NoError(t, idx.Store(ctx, "Illinois allows no-fault divorce filings.", nil))
	require.NoError(t, idx.Store(ctx, "Washington landlords must return deposits within 30 days.", nil))

	results, err := idx.Search(ctx, "divorce filings", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "no-fault")
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	s, mr := newRedisStore(t, func(o *RedisOptions) { o.Prefix = "cm-test" })
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, core.NewConversation("c1", "u1")))
	assert.True(t, mr.Exists("cm-test:conv:c1"))
}
