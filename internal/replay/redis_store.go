package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisConfig параметры подключения к Redis
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore блоб под "<prefix><id>", сводки в хэше "<prefix>index"
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "statesync:rec:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (s *RedisStore) key(id uuid.UUID) string { return s.prefix + id.String() }
func (s *RedisStore) index() string          { return s.prefix + "index" }

func (s *RedisStore) Save(ctx context.Context, r *Recording) error {
	blob, err := EncodeRecording(r)
	if err != nil {
		return err
	}
	sum, err := json.Marshal(r.Summary())
	if err != nil {
		return fmt.Errorf("ошибка сериализации сводки: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(r.ID), blob, 0)
	pipe.HSet(ctx, s.index(), r.ID.String(), sum)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id uuid.UUID) (*Recording, error) {
	blob, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}
	return DecodeRecording(blob)
}

func (s *RedisStore) List(ctx context.Context) ([]Summary, error) {
	raw, err := s.client.HGetAll(ctx, s.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса записей: %w", err)
	}
	out := make([]Summary, 0, len(raw))
	for id, v := range raw {
		var sum Summary
		if err := json.Unmarshal([]byte(v), &sum); err != nil {
			return nil, fmt.Errorf("повреждённая сводка %s: %w", id, err)
		}
		out = append(out, sum)
	}
	sortSummaries(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}
	if err := s.client.HDel(ctx, s.index(), id.String()).Err(); err != nil {
		return fmt.Errorf("ошибка удаления из индекса: %w", err)
	}
	if n == 0 {
		return ErrRecordingNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
