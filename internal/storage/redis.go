package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appbridge/internal/metrics"
	"appbridge/internal/multipart"
	"appbridge/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrUploadExists = errors.New("upload already exists")

// RedisStore keeps uploads as string values. Chunks are appended to a
// staging key which is renamed to the final key on commit and deleted on
// abort; staging keys expire on their own if the process dies mid upload.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	name   NamePolicy
	log    *zap.SugaredLogger
}

type RedisStoreConfig struct {
	Prefix string
	TTL    time.Duration
	Names  NamePolicy
}

func NewRedisStore(client redis.Cmdable, cfg RedisStoreConfig, log *zap.SugaredLogger) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = shared.UploadKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = shared.DefaultUploadTTL
	}
	if cfg.Names == nil {
		cfg.Names = RandomNames()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, name: cfg.Names, log: log}
}

// Key returns the key an upload named name is stored under.
func (s *RedisStore) Key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) Open(ctx context.Context, info multipart.PartInfo) (multipart.Sink, error) {
	name, err := s.name(info)
	if err != nil {
		return nil, err
	}
	name, err = safeName(name)
	if err != nil {
		return nil, err
	}
	id, err := nanoid.Generate(shared.UploadNameAlphabet, shared.UploadNameLength)
	if err != nil {
		return nil, err
	}
	return &redisSink{
		ctx:     ctx,
		store:   s,
		staging: s.prefix + "staging:" + id,
		final:   s.Key(name),
	}, nil
}

type redisSink struct {
	ctx     context.Context
	store   *RedisStore
	staging string
	final   string
	written   int64
	done      bool
	committed bool
}

func (s *redisSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, errors.New("sink already finished")
	}
	_, err := s.store.client.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
		pipe.Append(s.ctx, s.staging, string(p))
		pipe.Expire(s.ctx, s.staging, shared.UploadStagingTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("appending to %s: %w", s.staging, err)
	}
	s.written += int64(len(p))
	return len(p), nil
}

func (s *redisSink) Location() string {
	return s.final
}

func (s *redisSink) Commit() error {
	if s.done {
		return errors.New("sink already finished")
	}
	s.done = true
	client := s.store.client
	if s.written == 0 {
		ok, err := client.SetNX(s.ctx, s.final, "", s.store.ttl).Result()
		if err != nil {
			return fmt.Errorf("storing empty upload: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUploadExists, s.final)
		}
		return s.published()
	}
	ok, err := client.RenameNX(s.ctx, s.staging, s.final).Result()
	if err != nil {
		_ = client.Del(s.ctx, s.staging).Err()
		return fmt.Errorf("publishing upload: %w", err)
	}
	if !ok {
		_ = client.Del(s.ctx, s.staging).Err()
		return fmt.Errorf("%w: %s", ErrUploadExists, s.final)
	}
	if err := client.Expire(s.ctx, s.final, s.store.ttl).Err(); err != nil {
		_ = client.Del(context.WithoutCancel(s.ctx), s.final).Err()
		return fmt.Errorf("setting upload ttl: %w", err)
	}
	return s.published()
}

func (s *redisSink) published() error {
	s.committed = true
	metrics.UploadBytes.WithLabelValues("redis").Add(float64(s.written))
	metrics.Uploads.WithLabelValues("redis", "committed").Inc()
	s.store.log.Debugw("Committed upload", "key", s.final, "bytes", s.written)
	return nil
}

func (s *redisSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	metrics.Uploads.WithLabelValues("redis", "aborted").Inc()
	if s.written == 0 {
		return nil
	}
	// cleanup must still run when the request context is gone
	return s.store.client.Del(context.WithoutCancel(s.ctx), s.staging).Err()
}

func (s *redisSink) Rollback() error {
	if !s.committed {
		return nil
	}
	s.committed = false
	metrics.Uploads.WithLabelValues("redis", "rolled_back").Inc()
	if err := s.store.client.Del(context.WithoutCancel(s.ctx), s.final).Err(); err != nil {
		return fmt.Errorf("withdrawing upload: %w", err)
	}
	return nil
}
