package store

import (
	"context"
	"sync"
	"time"
)

// SubmissionEntry 内存中的一条表单提交
type SubmissionEntry struct {
	FormType    string
	VisitorID   string
	Payload     map[string]any
	SubmittedAt time.Time
}

// MemorySubmissionLog 无数据库部署下的提交落点，也用于测试
type MemorySubmissionLog struct {
	mu      sync.Mutex
	entries []SubmissionEntry
}

func NewMemorySubmissionLog() *MemorySubmissionLog {
	return &MemorySubmissionLog{}
}

func (l *MemorySubmissionLog) InsertSubmission(_ context.Context, formType, visitorID string, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, SubmissionEntry{
		FormType:    formType,
		VisitorID:   visitorID,
		Payload:     payload,
		SubmittedAt: time.Now(),
	})
	return nil
}

func (l *MemorySubmissionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
