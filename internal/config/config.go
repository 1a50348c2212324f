package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"amuse-form-guard/internal/security"
)

// Config 运行时配置
type Config struct {
	Port                  string
	DataDir               string
	FingerprintFile       string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisKeyPrefix        string
	DatabaseURL           string
	MigrationFile         string
	RemoteGuardURL        string
	DuplicateWindow       time.Duration
	MaxStoredFingerprints int
	IdentityFields        []string
	RateLimits            security.PolicyTable
}

// Load 从环境变量加载配置；存在 .env 时先行读取
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		DataDir:               getEnv("DATA_DIR", "./data"),
		FingerprintFile:       getEnv("FINGERPRINT_FILE", "form_submissions.json"),
		RedisAddr:             strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		RedisKeyPrefix:        getEnv("REDIS_KEY_PREFIX", "amuse-form-guard"),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MigrationFile:         strings.TrimSpace(os.Getenv("MIGRATION_FILE")),
		RemoteGuardURL:        strings.TrimSpace(os.Getenv("REMOTE_GUARD_URL")),
		DuplicateWindow:       5 * time.Minute,
		MaxStoredFingerprints: getEnvAsInt("MAX_STORED_FINGERPRINTS", 50),
		IdentityFields:        splitList(getEnv("IDENTITY_FIELDS", "")),
		RateLimits:            security.DefaultPolicies(),
	}

	if windowSeconds := getEnvAsInt("DUPLICATE_WINDOW_SECONDS", 0); windowSeconds > 0 {
		cfg.DuplicateWindow = time.Duration(windowSeconds) * time.Second
	}

	if err := applyRateLimitOverrides(cfg.RateLimits, os.Getenv("RATE_LIMIT_OVERRIDES")); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// MaxPolicyWindow 策略表里最长的窗口，用于推导存储保留时长
func (c Config) MaxPolicyWindow() time.Duration {
	max := time.Duration(0)
	for _, policy := range c.RateLimits {
		if policy.Window() > max {
			max = policy.Window()
		}
	}
	return max
}

// applyRateLimitOverrides 解析 "form-type=max/windowSeconds" 逗号列表
func applyRateLimitOverrides(table security.PolicyTable, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, value, found := strings.Cut(item, "=")
		if !found {
			return fmt.Errorf("限流覆盖项格式无效: %q", item)
		}

		maxRaw, windowRaw, found := strings.Cut(value, "/")
		if !found {
			return fmt.Errorf("限流覆盖项格式无效: %q", item)
		}

		maxRequests, err := strconv.Atoi(strings.TrimSpace(maxRaw))
		if err != nil || maxRequests <= 0 {
			return fmt.Errorf("限流覆盖项 max 无效: %q", item)
		}
		windowSeconds, err := strconv.Atoi(strings.TrimSpace(windowRaw))
		if err != nil || windowSeconds <= 0 {
			return fmt.Errorf("限流覆盖项 window 无效: %q", item)
		}

		table[strings.TrimSpace(name)] = security.Policy{
			MaxRequests:   maxRequests,
			WindowSeconds: windowSeconds,
		}
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
