package security

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type memoryStorage struct {
	data    []byte
	loadErr error
	saveErr error
}

func (s *memoryStorage) Load() ([]byte, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.data, nil
}

func (s *memoryStorage) Save(data []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data = append([]byte(nil), data...)
	return nil
}

func newTestCache(storage FingerprintStorage) *Cache {
	return NewCache(storage, 5*time.Minute, 50, nil)
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	cache := newTestCache(&memoryStorage{})

	first := cache.ComputeFingerprint(map[string]any{
		"email":      "A@X.com ",
		"phone":      "0700-000-000",
		"parentName": " Jane Doe",
		"extra":      "ignored",
	})
	second := cache.ComputeFingerprint(map[string]any{
		"parentName": "jane doe",
		"phone":      "0700 000 000",
		"email":      "a@x.com",
	})

	if first != second {
		t.Fatalf("期望归一化后指纹一致，实际 %s != %s", first, second)
	}
}

func TestComputeFingerprintEmptyIdentityNeverCollides(t *testing.T) {
	cache := newTestCache(&memoryStorage{})

	first := cache.ComputeFingerprint(map[string]any{"note": "hello"})
	second := cache.ComputeFingerprint(map[string]any{"note": "hello"})

	if first == second {
		t.Fatalf("期望无身份字段时指纹互不相同，实际均为 %s", first)
	}
}

func TestIsDuplicateWindowBoundary(t *testing.T) {
	storage := &memoryStorage{}
	cache := newTestCache(storage)

	base := time.Now()
	cache.now = func() time.Time { return base }

	payload := map[string]any{"email": "a@x.com"}
	cache.Remember(payload, "school-experience")

	cache.now = func() time.Time { return base.Add(5*time.Minute - time.Millisecond) }
	if !cache.IsDuplicate(payload, "school-experience") {
		t.Fatalf("期望窗口结束前 1ms 仍判定为重复")
	}

	cache.now = func() time.Time { return base.Add(5*time.Minute + time.Millisecond) }
	if cache.IsDuplicate(payload, "school-experience") {
		t.Fatalf("期望窗口过后不再判定为重复")
	}
}

func TestIsDuplicateScopedByFormType(t *testing.T) {
	cache := newTestCache(&memoryStorage{})

	payload := map[string]any{"email": "a@x.com"}
	cache.Remember(payload, "school-experience")

	if cache.IsDuplicate(payload, "team-building") {
		t.Fatalf("期望不同表单类型之间互不判重")
	}
}

func TestRememberCapsStoredEntries(t *testing.T) {
	storage := &memoryStorage{}
	cache := newTestCache(storage)

	for i := 0; i < 60; i++ {
		cache.Remember(map[string]any{"email": string(rune('a'+i%26)) + "@x.com", "phone": "0700000000"}, "parties")
	}

	var records []SubmissionFingerprint
	if err := json.Unmarshal(storage.data, &records); err != nil {
		t.Fatalf("解析存储内容失败: %v", err)
	}
	if len(records) != 50 {
		t.Fatalf("期望上限 50 条，实际 %d", len(records))
	}

	// 保留的必须是最近的 50 条
	last := cache.ComputeFingerprint(map[string]any{"email": string(rune('a'+59%26)) + "@x.com", "phone": "0700000000"})
	if records[len(records)-1].Hash != last {
		t.Fatalf("期望末尾是最新记录，实际 %s", records[len(records)-1].Hash)
	}
}

func TestIsDuplicateFailsOpenOnStorageError(t *testing.T) {
	cache := newTestCache(&memoryStorage{loadErr: errors.New("storage unavailable")})

	if cache.IsDuplicate(map[string]any{"email": "a@x.com"}, "parties") {
		t.Fatalf("期望存储故障时放行，实际判定为重复")
	}
}

func TestIsDuplicateFailsOpenOnCorruptData(t *testing.T) {
	cache := newTestCache(&memoryStorage{data: []byte("{not json")})

	if cache.IsDuplicate(map[string]any{"email": "a@x.com"}, "parties") {
		t.Fatalf("期望数据损坏时放行，实际判定为重复")
	}
}
