package security

import (
	"context"
	"sync"
	"time"
)

// MemoryRateStore 进程内滑动窗口记录存储。
// 用于未配置外部存储的部署与测试，同时作为 Redis 故障时的兜底。
type MemoryRateStore struct {
	mu       sync.Mutex
	attempts map[string][]AttemptRecord
}

func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{attempts: make(map[string][]AttemptRecord)}
}

func (s *MemoryRateStore) CountSince(_ context.Context, visitorID, formType string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := visitorID + "|" + formType
	s.pruneLocked(key, since)
	return len(s.attempts[key]), nil
}

func (s *MemoryRateStore) OldestSince(_ context.Context, visitorID, formType string, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.attempts[visitorID+"|"+formType] {
		if !record.SubmittedAt.Before(since) {
			return record.SubmittedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (s *MemoryRateStore) Insert(_ context.Context, record AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.VisitorID + "|" + record.FormType
	s.attempts[key] = append(s.attempts[key], record)
	return nil
}

// pruneLocked 丢弃窗口外的旧记录，防止内存无界增长
func (s *MemoryRateStore) pruneLocked(key string, since time.Time) {
	records := s.attempts[key]
	valid := records[:0]
	for _, record := range records {
		if !record.SubmittedAt.Before(since) {
			valid = append(valid, record)
		}
	}
	if len(valid) == 0 {
		delete(s.attempts, key)
		return
	}
	s.attempts[key] = valid
}
