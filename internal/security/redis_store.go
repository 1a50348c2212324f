package security

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateStore 使用 Redis 有序集合实现全局滑动窗口记录。
// score 为提交时间毫秒值，member 保证每次尝试唯一。
// Redis 不可用时回退到内存存储，避免限流整体失效。
type RedisRateStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
	fallback  *MemoryRateStore
	timeout   time.Duration
}

func NewRedisRateStore(client *redis.Client, keyPrefix string, retention time.Duration) *RedisRateStore {
	return &RedisRateStore{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
		fallback:  NewMemoryRateStore(),
		timeout:   800 * time.Millisecond,
	}
}

func (s *RedisRateStore) CountSince(ctx context.Context, visitorID, formType string, since time.Time) (int, error) {
	if s.client == nil {
		return s.fallback.CountSince(ctx, visitorID, formType, since)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.key(visitorID, formType)
	minScore := strconv.FormatInt(since.UnixMilli(), 10)

	// 先剪掉窗口外的旧成员，保证集合有界
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", "("+minScore).Err(); err != nil {
		return s.fallback.CountSince(ctx, visitorID, formType, since)
	}

	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return s.fallback.CountSince(ctx, visitorID, formType, since)
	}
	return int(count), nil
}

func (s *RedisRateStore) OldestSince(ctx context.Context, visitorID, formType string, since time.Time) (time.Time, bool, error) {
	if s.client == nil {
		return s.fallback.OldestSince(ctx, visitorID, formType, since)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.client.ZRangeWithScores(ctx, s.key(visitorID, formType), 0, 0).Result()
	if err != nil {
		return s.fallback.OldestSince(ctx, visitorID, formType, since)
	}
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}

	oldest := time.UnixMilli(int64(entries[0].Score))
	if oldest.Before(since) {
		return time.Time{}, false, nil
	}
	return oldest, true, nil
}

func (s *RedisRateStore) Insert(ctx context.Context, record AttemptRecord) error {
	if s.client == nil {
		return s.fallback.Insert(ctx, record)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.key(record.VisitorID, record.FormType)
	member := fmt.Sprintf("%s|%s", uuid.NewString(), record.IPAddress)

	if err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(record.SubmittedAt.UnixMilli()),
		Member: member,
	}).Err(); err != nil {
		return s.fallback.Insert(ctx, record)
	}

	_ = s.client.Expire(ctx, key, s.retention).Err()
	return nil
}

func (s *RedisRateStore) key(visitorID, formType string) string {
	return fmt.Sprintf("%s:rate:%s:%s", s.keyPrefix, visitorID, formType)
}
