package guardclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"amuse-form-guard/internal/security"
)

// Client 远程限流检查客户端。
// 表单方进程可以不直连存储，改为调用限流服务的 HTTP 过程；
// 该过程面向匿名访客，无需鉴权。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type checkRequest struct {
	VisitorID string `json:"visitorId"`
	FormType  string `json:"formType"`
}

// CheckAndRecord 调用远程 rate-limit-check 过程。
// IP 由服务端从代理头推断，此处不传。
// 返回 error 表示网络或协议故障，调用侧按放行处理。
func (c *Client) CheckAndRecord(ctx context.Context, visitorID, formType, _ string) (security.Decision, error) {
	payload, err := json.Marshal(checkRequest{VisitorID: visitorID, FormType: formType})
	if err != nil {
		return security.Decision{}, fmt.Errorf("编码限流检查请求失败: %w", err)
	}

	endpoint := c.baseURL + "/v1/guard/rate-limit-check"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return security.Decision{}, fmt.Errorf("创建限流检查请求失败: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return security.Decision{}, fmt.Errorf("调用限流检查失败: %w", err)
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return security.Decision{}, fmt.Errorf("限流检查失败: HTTP %d, body=%s", response.StatusCode, string(body))
	}

	var decision security.Decision
	if err := json.Unmarshal(body, &decision); err != nil {
		return security.Decision{}, fmt.Errorf("解析限流检查响应失败: %w", err)
	}
	return decision, nil
}
