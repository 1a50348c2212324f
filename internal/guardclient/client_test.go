package guardclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckAndRecordParsesDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/guard/rate-limit-check" {
			t.Fatalf("期望调用 rate-limit-check 路径，实际 %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"allowed":false,"retryAfter":42,"message":"Rate limit exceeded"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	decision, err := client.CheckAndRecord(context.Background(), "visitor-1", "parties", "")
	if err != nil {
		t.Fatalf("期望调用成功，实际: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("期望 allowed=false，实际放行")
	}
	if decision.RetryAfterSeconds != 42 {
		t.Fatalf("期望 retryAfter=42，实际 %d", decision.RetryAfterSeconds)
	}
}

func TestCheckAndRecordReturnsErrorOnHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.CheckAndRecord(context.Background(), "visitor-1", "parties", ""); err == nil {
		t.Fatalf("期望 HTTP 500 返回错误")
	}
}

func TestCheckAndRecordReturnsErrorWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := NewClient(server.URL)
	if _, err := client.CheckAndRecord(context.Background(), "visitor-1", "parties", ""); err == nil {
		t.Fatalf("期望连接失败返回错误")
	}
}
