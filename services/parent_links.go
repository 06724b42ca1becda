package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

// ParentDirectory answers which students a parent account may observe. The
// family module owns the links; this service only reads them, plus a write
// path for operators.
type ParentDirectory interface {
	LinkedStudents(ctx context.Context, parentID uint) ([]uint, error)
	IsLinked(ctx context.Context, parentID, studentID uint) (bool, error)
	Link(ctx context.Context, parentID, studentID uint) error
}

type redisParentDirectory struct {
	redis *redis.Client
}

// NewRedisParentDirectory reads links stored as a JSON array of student ids
// under parent_links:<parent id>.
func NewRedisParentDirectory(client *redis.Client) ParentDirectory {
	return &redisParentDirectory{redis: client}
}

func parentLinksKey(parentID uint) string {
	return fmt.Sprintf("parent_links:%d", parentID)
}

func (d *redisParentDirectory) LinkedStudents(ctx context.Context, parentID uint) ([]uint, error) {
	data, err := d.redis.Get(ctx, parentLinksKey(parentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read parent links: %w", err)
	}

	var ids []uint
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode parent links: %w", err)
	}
	return ids, nil
}

func (d *redisParentDirectory) IsLinked(ctx context.Context, parentID, studentID uint) (bool, error) {
	ids, err := d.LinkedStudents(ctx, parentID)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, studentID), nil
}

// maxLinkRetries bounds how often Link retries after losing a WATCH race.
const maxLinkRetries = 10

// Link adds studentID to the parent's list. The read-modify-write runs in a
// WATCH transaction so concurrent links are not lost; a transaction aborted
// by a concurrent write is retried.
func (d *redisParentDirectory) Link(ctx context.Context, parentID, studentID uint) error {
	key := parentLinksKey(parentID)
	txf := func(tx *redis.Tx) error {
		var ids []uint
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to read parent links: %w", err)
		default:
			if err := json.Unmarshal(data, &ids); err != nil {
				return fmt.Errorf("failed to decode parent links: %w", err)
			}
		}
		if slices.Contains(ids, studentID) {
			return nil
		}

		encoded, err := json.Marshal(append(ids, studentID))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxLinkRetries; i++ {
		err := d.redis.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed to link student %d: too much contention on %s", studentID, key)
}
