package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

// Slot keeps each key as a plain redis string without expiry.
type Slot struct {
	rdb *goredis.Client
}

func New(rdb *goredis.Client) *Slot {
	return &Slot{rdb: rdb}
}

func (s *Slot) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Slot) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *Slot) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Slot) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
