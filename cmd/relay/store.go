package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"smsrelay/internal/config"
	"smsrelay/internal/store"
	"smsrelay/internal/store/file"
	"smsrelay/internal/store/pg"
	"smsrelay/internal/store/redis"
)

// backend is the opened persistence layer: the slot the queue lives in,
// a readiness check, and a close hook.
type backend struct {
	slot  store.Slot
	ping  func(ctx context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	switch cfg.QueueBackend {
	case "file":
		s, err := file.New(cfg.QueueDir)
		if err != nil {
			return nil, fmt.Errorf("file slot: %w", err)
		}
		ping := func(ctx context.Context) error {
			_, _, err := s.Get(ctx, cfg.QueueKey)
			return err
		}
		return &backend{slot: s, ping: ping, close: func() {}}, nil

	case "postgres":
		pool, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: cfg.DBMaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		s := pg.New(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return &backend{slot: s, ping: pool.Ping, close: pool.Close}, nil

	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s := redis.New(rdb)
		if err := s.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return &backend{slot: s, ping: s.Ping, close: func() { _ = rdb.Close() }}, nil

	case "memory":
		slog.Warn("memory queue backend: queued sms will not survive a restart")
		return &backend{
			slot:  store.NewMemorySlot(),
			ping:  func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}
