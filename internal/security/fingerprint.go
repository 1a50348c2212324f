package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultIdentityFields 默认参与指纹计算的身份字段
var DefaultIdentityFields = []string{"email", "phone", "parentName", "schoolName"}

// SubmissionFingerprint 本地缓存的一条提交记录
type SubmissionFingerprint struct {
	Hash      string `json:"hash"`
	FormType  string `json:"formType"`
	Timestamp int64  `json:"timestamp"`
}

// FingerprintStorage 指纹列表的底层键值存储。
// 整个列表以 JSON 数组形式存放在一个固定键下。
type FingerprintStorage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Cache 近期提交指纹缓存，用于拦截窗口内的重复提交。
// 存储读写失败一律视为"无重复"（fail open），绝不因存储故障拦截正常提交。
type Cache struct {
	storage    FingerprintStorage
	window     time.Duration
	maxEntries int
	fields     []string
	now        func() time.Time
}

func NewCache(storage FingerprintStorage, window time.Duration, maxEntries int, fields []string) *Cache {
	if len(fields) == 0 {
		fields = DefaultIdentityFields
	}
	if maxEntries <= 0 {
		maxEntries = 50
	}
	return &Cache{
		storage:    storage,
		window:     window,
		maxEntries: maxEntries,
		fields:     fields,
		now:        time.Now,
	}
}

// ComputeFingerprint 提取身份字段、归一化后拼接并计算 SHA-256。
// 所有身份字段均为空时返回随机值，保证匿名提交之间互不冲突。
func (c *Cache) ComputeFingerprint(payload map[string]any) string {
	parts := make([]string, 0, len(c.fields))
	for _, field := range c.fields {
		value := normalizeIdentityField(field, stringField(payload, field))
		if value != "" {
			parts = append(parts, value)
		}
	}

	if len(parts) == 0 {
		return uuid.NewString()
	}

	digest := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(digest[:])
}

// IsDuplicate 窗口内存在相同指纹与表单类型时返回 true
func (c *Cache) IsDuplicate(payload map[string]any, formType string) bool {
	_, duplicate := c.Lookup(payload, formType)
	return duplicate
}

// Lookup 返回窗口内匹配的缓存记录
func (c *Cache) Lookup(payload map[string]any, formType string) (SubmissionFingerprint, bool) {
	hash := c.ComputeFingerprint(payload)
	for _, record := range c.loadActive() {
		if record.Hash == hash && record.FormType == formType {
			return record, true
		}
	}
	return SubmissionFingerprint{}, false
}

// Remember 记录一次已成功的提交。
// 必须在受保护写入成功之后调用，避免失败的写入污染缓存。
func (c *Cache) Remember(payload map[string]any, formType string) {
	records := c.loadActive()
	records = append(records, SubmissionFingerprint{
		Hash:      c.ComputeFingerprint(payload),
		FormType:  formType,
		Timestamp: c.now().UnixMilli(),
	})

	if len(records) > c.maxEntries {
		records = records[len(records)-c.maxEntries:]
	}

	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	_ = c.storage.Save(data)
}

// loadActive 读取未过期的记录；读取或解析失败返回空列表
func (c *Cache) loadActive() []SubmissionFingerprint {
	data, err := c.storage.Load()
	if err != nil || len(data) == 0 {
		return nil
	}

	var records []SubmissionFingerprint
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}

	now := c.now().UnixMilli()
	active := make([]SubmissionFingerprint, 0, len(records))
	for _, record := range records {
		if now-record.Timestamp < c.window.Milliseconds() {
			active = append(active, record)
		}
	}
	return active
}

func stringField(payload map[string]any, field string) string {
	value, exists := payload[field]
	if !exists {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return text
}

func normalizeIdentityField(field, value string) string {
	if strings.Contains(strings.ToLower(field), "phone") {
		return keepDigits(value)
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func keepDigits(value string) string {
	builder := strings.Builder{}
	for _, r := range value {
		if r >= '0' && r <= '9' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
