package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisTestCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewRedisTestCache(client, time.Minute, nil)

	_, ok := cache.GetPublicTest(ctx, 7)
	assert.False(t, ok)

	cache.SetPublicTest(ctx, &PublicTest{
		ID:        7,
		Title:     "Decimals",
		Questions: []PublicQuestion{{ID: 70, Qno: 1, QuestionText: "0.5 + 0.5?"}},
	})
	assert.True(t, mr.Exists("test:public:7"))
	assert.Equal(t, time.Minute, mr.TTL("test:public:7"))

	got, ok := cache.GetPublicTest(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, "Decimals", got.Title)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, uint(70), got.Questions[0].ID)

	mr.FastForward(2 * time.Minute)
	_, ok = cache.GetPublicTest(ctx, 7)
	assert.False(t, ok, "entries expire with the ttl")
}

func TestRedisTestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewRedisTestCache(client, time.Minute, nil)

	cache.SetPublicTest(ctx, &PublicTest{ID: 3, Title: "Angles"})
	cache.Invalidate(ctx, 3)
	assert.False(t, mr.Exists("test:public:3"))

	require.NoError(t, mr.Set("test:public:4", "{not json"))
	_, ok := cache.GetPublicTest(ctx, 4)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:public:4"), "undecodable entries are dropped")
}

func TestRedisTestCache_UnavailableRedisMisses(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewRedisTestCache(client, time.Minute, nil)
	mr.Close()

	cache.SetPublicTest(ctx, &PublicTest{ID: 1})
	_, ok := cache.GetPublicTest(ctx, 1)
	assert.False(t, ok)
	cache.Invalidate(ctx, 1)
}

func TestTestService_GetPublishedTestUsesRedis(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultPolicy())
	mr, client := newTestRedis(t)
	tests := NewTestService(env.db, NewRedisTestCache(client, time.Hour, nil), WithTestClock(env.clock.Now))

	test := env.publishedTest(t, nil, question(1, "A", 1, 0))
	public, err := tests.GetPublishedTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Len(t, public.Questions, 1)
	assert.True(t, mr.Exists(publicTestKey(test.ID)))

	_, err = tests.CorrectQuestion(ctx, test.ID, ptr(question(2, "B", 1, 0)))
	require.NoError(t, err)
	assert.False(t, mr.Exists(publicTestKey(test.ID)), "corrections invalidate the cached view")

	public, err = tests.GetPublishedTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Len(t, public.Questions, 2)
}
