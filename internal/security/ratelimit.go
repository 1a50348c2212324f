package security

import (
	"context"
	"log"
	"math"
	"time"
)

// Policy 单个表单类型的限流策略
type Policy struct {
	MaxRequests   int
	WindowSeconds int
}

func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// PolicyTable 表单类型到限流策略的映射，必须包含 default 条目
type PolicyTable map[string]Policy

// Resolve 未知表单类型回退到 default 策略
func (t PolicyTable) Resolve(formType string) Policy {
	if policy, exists := t[formType]; exists {
		return policy
	}
	return t["default"]
}

// DefaultPolicies 各公开表单的限流策略
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		"holiday-camp":        {MaxRequests: 3, WindowSeconds: 300},
		"day-camps":           {MaxRequests: 3, WindowSeconds: 300},
		"little-forest":       {MaxRequests: 3, WindowSeconds: 300},
		"kenyan-experiences":  {MaxRequests: 3, WindowSeconds: 300},
		"homeschooling":       {MaxRequests: 3, WindowSeconds: 300},
		"school-experience":   {MaxRequests: 3, WindowSeconds: 300},
		"team-building":       {MaxRequests: 3, WindowSeconds: 300},
		"parties":             {MaxRequests: 3, WindowSeconds: 300},
		"ground-registration": {MaxRequests: 10, WindowSeconds: 300},
		"default":             {MaxRequests: 3, WindowSeconds: 300},
	}
}

// AttemptRecord 一次提交尝试的持久化记录
type AttemptRecord struct {
	VisitorID   string
	FormType    string
	IPAddress   string
	SubmittedAt time.Time
}

// RateStore 滑动窗口计数所需的存储契约
type RateStore interface {
	CountSince(ctx context.Context, visitorID, formType string, since time.Time) (int, error)
	OldestSince(ctx context.Context, visitorID, formType string, since time.Time) (time.Time, bool, error)
	Insert(ctx context.Context, record AttemptRecord) error
}

// Decision 限流检查结果
type Decision struct {
	Allowed           bool   `json:"allowed"`
	RetryAfterSeconds int    `json:"retryAfter,omitempty"`
	Remaining         int    `json:"remaining,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Limiter 按 (visitorId, formType) 统计滑动窗口内的提交次数。
// 先查数后插入，并发下可能略超限额，属于既定的软限流语义。
// 存储故障时放行（fail open），只记日志不阻塞提交。
type Limiter struct {
	store    RateStore
	policies PolicyTable
	now      func() time.Time
}

func NewLimiter(store RateStore, policies PolicyTable) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{
		store:    store,
		policies: policies,
		now:      time.Now,
	}
}

// CheckAndRecord 检查窗口内计数，未超限则追加一条尝试记录
func (l *Limiter) CheckAndRecord(ctx context.Context, visitorID, formType, ipAddress string) (Decision, error) {
	policy := l.policies.Resolve(formType)
	now := l.now()
	windowStart := now.Add(-policy.Window())

	count, err := l.store.CountSince(ctx, visitorID, formType, windowStart)
	if err != nil {
		log.Printf("限流计数失败，放行提交: visitor=%s form=%s err=%v", visitorID, formType, err)
		return Decision{Allowed: true}, nil
	}

	if count >= policy.MaxRequests {
		retryAfter := policy.WindowSeconds
		oldest, found, err := l.store.OldestSince(ctx, visitorID, formType, windowStart)
		if err == nil && found {
			retryAfter = int(math.Ceil(oldest.Add(policy.Window()).Sub(now).Seconds()))
		}
		if retryAfter < 1 {
			retryAfter = 1
		}

		log.Printf("限流触发: visitor=%s form=%s count=%d/%d", visitorID, formType, count, policy.MaxRequests)
		return Decision{
			Allowed:           false,
			RetryAfterSeconds: retryAfter,
			Message:           "Rate limit exceeded",
		}, nil
	}

	if err := l.store.Insert(ctx, AttemptRecord{
		VisitorID:   visitorID,
		FormType:    formType,
		IPAddress:   ipAddress,
		SubmittedAt: now,
	}); err != nil {
		// 记录失败只会让限流略宽松，不影响放行
		log.Printf("限流记录写入失败: visitor=%s form=%s err=%v", visitorID, formType, err)
	}

	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - count - 1,
	}, nil
}
