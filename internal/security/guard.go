package security

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// BlockReason 提交被拦截的原因
type BlockReason string

const (
	BlockedDuplicate BlockReason = "duplicate"
	BlockedRateLimit BlockReason = "rate_limit"
)

// CheckResult 安全检查的结构化结果。
// 策略拦截通过 Allowed=false 表达，从不以 error 形式抛出。
type CheckResult struct {
	Allowed           bool
	Reason            BlockReason
	Message           string
	RetryAfterSeconds int
}

// RateChecker 限流检查入口，可以是本地 Limiter，也可以是远程过程调用。
// 返回 error 表示基础设施故障，由 Guard 统一按放行处理。
type RateChecker interface {
	CheckAndRecord(ctx context.Context, visitorID, formType, ipAddress string) (Decision, error)
}

// Guard 组合指纹缓存与限流检查，向表单处理方提供单一决策点
type Guard struct {
	cache   *Cache
	checker RateChecker
	now     func() time.Time
}

func NewGuard(cache *Cache, checker RateChecker) *Guard {
	return &Guard{
		cache:   cache,
		checker: checker,
		now:     time.Now,
	}
}

// PerformSecurityChecks 先查重复，再查限流。
// 两项都通过才允许调用方执行真正的写入。
func (g *Guard) PerformSecurityChecks(ctx context.Context, payload map[string]any, formType, visitorID, ipAddress string) CheckResult {
	if record, duplicate := g.cache.Lookup(payload, formType); duplicate {
		age := g.now().Sub(time.UnixMilli(record.Timestamp))
		return CheckResult{
			Allowed: false,
			Reason:  BlockedDuplicate,
			Message: duplicateMessage(age),
		}
	}

	decision, err := g.checker.CheckAndRecord(ctx, visitorID, formType, ipAddress)
	if err != nil {
		// 基础设施故障统一放行，拦截策略不依赖检查通道可用
		log.Printf("限流检查不可用，放行提交: form=%s err=%v", formType, err)
		return CheckResult{Allowed: true}
	}

	if !decision.Allowed {
		return CheckResult{
			Allowed:           false,
			Reason:            BlockedRateLimit,
			Message:           rateLimitMessage(decision.RetryAfterSeconds),
			RetryAfterSeconds: decision.RetryAfterSeconds,
		}
	}

	return CheckResult{Allowed: true}
}

// RecordSubmission 在受保护写入成功后登记指纹
func (g *Guard) RecordSubmission(payload map[string]any, formType string) {
	g.cache.Remember(payload, formType)
}

// WithChecks 包装"检查 → 执行写入 → 登记"。
// 写入自身的错误原样上抛，且失败的写入不会登记指纹。
func (g *Guard) WithChecks(ctx context.Context, payload map[string]any, formType, visitorID, ipAddress string, action func() error) (CheckResult, error) {
	result := g.PerformSecurityChecks(ctx, payload, formType, visitorID, ipAddress)
	if !result.Allowed {
		return result, nil
	}

	if err := action(); err != nil {
		return result, err
	}

	g.RecordSubmission(payload, formType)
	return result, nil
}

func duplicateMessage(age time.Duration) string {
	minutes := int(math.Ceil(float64(age.Milliseconds()) / 60000))
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf(
		"You've already submitted this registration %d %s ago. Please wait a few minutes or contact us if you need to make changes.",
		minutes, unit,
	)
}

func rateLimitMessage(retryAfterSeconds int) string {
	if retryAfterSeconds > 0 {
		return fmt.Sprintf("Too many submission attempts. Please try again in %d seconds.", retryAfterSeconds)
	}
	return "Too many submission attempts. Please try again later."
}
