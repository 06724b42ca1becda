package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TestCache stores the student view of published tests. Cache failures are
// never fatal: a miss falls through to the database.
type TestCache interface {
	GetPublicTest(ctx context.Context, testID uint) (*PublicTest, bool)
	SetPublicTest(ctx context.Context, test *PublicTest)
	Invalidate(ctx context.Context, testID uint)
}

type redisTestCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *logrus.Entry
}

// NewRedisTestCache returns a TestCache backed by Redis.
func NewRedisTestCache(client *redis.Client, ttl time.Duration, log *logrus.Entry) TestCache {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &redisTestCache{redis: client, ttl: ttl, log: log.WithField("component", "test_cache")}
}

func publicTestKey(testID uint) string {
	return fmt.Sprintf("test:public:%d", testID)
}

func (c *redisTestCache) GetPublicTest(ctx context.Context, testID uint) (*PublicTest, bool) {
	data, err := c.redis.Get(ctx, publicTestKey(testID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("test_id", testID).Warn("Failed to read cached test")
		}
		return nil, false
	}

	var test PublicTest
	if err := json.Unmarshal(data, &test); err != nil {
		c.log.WithError(err).WithField("test_id", testID).Warn("Dropping undecodable cached test")
		c.Invalidate(ctx, testID)
		return nil, false
	}
	return &test, true
}

func (c *redisTestCache) SetPublicTest(ctx context.Context, test *PublicTest) {
	data, err := json.Marshal(test)
	if err != nil {
		c.log.WithError(err).WithField("test_id", test.ID).Warn("Failed to encode test for cache")
		return
	}
	if err := c.redis.Set(ctx, publicTestKey(test.ID), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("test_id", test.ID).Warn("Failed to cache test")
	}
}

func (c *redisTestCache) Invalidate(ctx context.Context, testID uint) {
	if err := c.redis.Del(ctx, publicTestKey(testID)).Err(); err != nil {
		c.log.WithError(err).WithField("test_id", testID).Warn("Failed to invalidate cached test")
	}
}

type nopTestCache struct{}

// NopTestCache disables caching.
func NopTestCache() TestCache { return nopTestCache{} }

func (nopTestCache) GetPublicTest(context.Context, uint) (*PublicTest, bool) { return nil, false }
func (nopTestCache) SetPublicTest(context.Context, *PublicTest)               {}
func (nopTestCache) Invalidate(context.Context, uint)                         {}
