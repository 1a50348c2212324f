package api

import (
	"strings"
)

const (
	maxPayloadFields   = 64
	maxFieldLength     = 4000
	maxVisitorIDLength = 128
	maxFormTypeLength  = 64
	minPhoneDigits     = 6
	maxPhoneDigits     = 20
)

// SubmitFormRequest 受保护的表单提交：原始负载加访客标识
type SubmitFormRequest struct {
	VisitorID string         `json:"visitorId"`
	Payload   map[string]any `json:"payload"`
}

// RateLimitCheckRequest 限流检查过程的请求体
type RateLimitCheckRequest struct {
	VisitorID string `json:"visitorId"`
	FormType  string `json:"formType"`
}

func (r *SubmitFormRequest) Normalize() {
	r.VisitorID = strings.TrimSpace(r.VisitorID)
	for key, value := range r.Payload {
		if text, ok := value.(string); ok {
			r.Payload[key] = strings.TrimSpace(text)
		}
	}
}

func (r *SubmitFormRequest) Validate() error {
	if r.VisitorID == "" {
		return errBadRequest("visitorId 不能为空")
	}
	if len(r.VisitorID) > maxVisitorIDLength {
		return errBadRequest("visitorId 过长")
	}
	if len(r.Payload) == 0 {
		return errBadRequest("payload 不能为空")
	}
	if len(r.Payload) > maxPayloadFields {
		return errBadRequest("payload 字段过多")
	}

	for key, value := range r.Payload {
		text, ok := value.(string)
		if !ok {
			continue
		}
		if len([]rune(text)) > maxFieldLength {
			return errBadRequest("payload 字段 " + key + " 过长")
		}
	}

	if email := stringValue(r.Payload, "email"); email != "" {
		if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
			return errBadRequest("email 格式无效")
		}
	}

	if phone := stringValue(r.Payload, "phone"); phone != "" {
		digits := 0
		for _, ch := range phone {
			if ch >= '0' && ch <= '9' {
				digits++
			}
		}
		if digits < minPhoneDigits || digits > maxPhoneDigits {
			return errBadRequest("phone 格式无效")
		}
	}

	return nil
}

// validFormType 表单类型仅允许小写字母、数字与连字符
func validFormType(formType string) bool {
	if formType == "" || len(formType) > maxFormTypeLength {
		return false
	}
	for _, r := range formType {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !valid {
			return false
		}
	}
	return true
}

func stringValue(payload map[string]any, key string) string {
	value, exists := payload[key]
	if !exists {
		return ""
	}
	text, _ := value.(string)
	return text
}

type apiError struct {
	Message string
	Code    int
}

func (e apiError) Error() string {
	return e.Message
}

func errBadRequest(message string) error {
	return apiError{Message: message, Code: 400}
}
