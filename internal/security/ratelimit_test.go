package security

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingRateStore struct{}

func (failingRateStore) CountSince(context.Context, string, string, time.Time) (int, error) {
	return 0, errors.New("store unreachable")
}

func (failingRateStore) OldestSince(context.Context, string, string, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("store unreachable")
}

func (failingRateStore) Insert(context.Context, AttemptRecord) error {
	return errors.New("store unreachable")
}

func TestCheckAndRecordCeiling(t *testing.T) {
	limiter := NewLimiter(NewMemoryRateStore(), DefaultPolicies())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.CheckAndRecord(ctx, "visitor-1", "school-experience", "203.0.113.7")
		if err != nil {
			t.Fatalf("第 %d 次检查出错: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("期望第 %d 次放行，实际被拦截", i+1)
		}
		if decision.Remaining != 3-i-1 {
			t.Fatalf("期望剩余 %d 次，实际 %d", 3-i-1, decision.Remaining)
		}
	}

	decision, err := limiter.CheckAndRecord(ctx, "visitor-1", "school-experience", "203.0.113.7")
	if err != nil {
		t.Fatalf("第 4 次检查出错: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("期望第 4 次被拦截，实际放行")
	}
	if decision.RetryAfterSeconds <= 0 || decision.RetryAfterSeconds > 300 {
		t.Fatalf("期望 retryAfter 在 (0, 300] 内，实际 %d", decision.RetryAfterSeconds)
	}
}

func TestCheckAndRecordBlockedDoesNotInsert(t *testing.T) {
	store := NewMemoryRateStore()
	limiter := NewLimiter(store, DefaultPolicies())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = limiter.CheckAndRecord(ctx, "visitor-1", "parties", "203.0.113.7")
	}

	count, err := store.CountSince(ctx, "visitor-1", "parties", time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("统计出错: %v", err)
	}
	if count != 3 {
		t.Fatalf("期望被拦截的尝试不落记录、窗口内共 3 条，实际 %d", count)
	}
}

func TestCheckAndRecordWindowRollover(t *testing.T) {
	limiter := NewLimiter(NewMemoryRateStore(), DefaultPolicies())
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if decision, _ := limiter.CheckAndRecord(ctx, "visitor-1", "day-camps", ""); !decision.Allowed {
			t.Fatalf("期望第 %d 次放行，实际被拦截", i+1)
		}
	}

	if decision, _ := limiter.CheckAndRecord(ctx, "visitor-1", "day-camps", ""); decision.Allowed {
		t.Fatalf("期望窗口内第 4 次被拦截，实际放行")
	}

	limiter.now = func() time.Time { return base.Add(301 * time.Second) }
	decision, _ := limiter.CheckAndRecord(ctx, "visitor-1", "day-camps", "")
	if !decision.Allowed {
		t.Fatalf("期望窗口滚动后放行，实际被拦截")
	}
}

func TestCheckAndRecordUnknownFormUsesDefaultPolicy(t *testing.T) {
	limiter := NewLimiter(NewMemoryRateStore(), DefaultPolicies())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if decision, _ := limiter.CheckAndRecord(ctx, "visitor-1", "never-configured", ""); !decision.Allowed {
			t.Fatalf("期望默认策略下第 %d 次放行", i+1)
		}
	}
	if decision, _ := limiter.CheckAndRecord(ctx, "visitor-1", "never-configured", ""); decision.Allowed {
		t.Fatalf("期望未知表单类型仍受默认策略约束")
	}
}

func TestCheckAndRecordScopedByVisitorAndForm(t *testing.T) {
	limiter := NewLimiter(NewMemoryRateStore(), DefaultPolicies())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = limiter.CheckAndRecord(ctx, "visitor-1", "parties", "")
	}

	if decision, _ := limiter.CheckAndRecord(ctx, "visitor-2", "parties", ""); !decision.Allowed {
		t.Fatalf("期望其他访客不受影响")
	}
	if decision, _ := limiter.CheckAndRecord(ctx, "visitor-1", "homeschooling", ""); !decision.Allowed {
		t.Fatalf("期望同访客其他表单不受影响")
	}
}

func TestCheckAndRecordFailsOpenOnStoreError(t *testing.T) {
	limiter := NewLimiter(failingRateStore{}, DefaultPolicies())

	decision, err := limiter.CheckAndRecord(context.Background(), "visitor-1", "parties", "")
	if err != nil {
		t.Fatalf("期望存储故障不上抛错误，实际: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("期望存储故障时放行，实际被拦截")
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	table := DefaultPolicies()

	policy := table.Resolve("does-not-exist")
	if policy.MaxRequests != 3 || policy.WindowSeconds != 300 {
		t.Fatalf("期望回退到 default 策略，实际 %+v", policy)
	}

	admin := table.Resolve("ground-registration")
	if admin.MaxRequests != 10 {
		t.Fatalf("期望 ground-registration 限额为 10，实际 %d", admin.MaxRequests)
	}
}
