package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"amuse-form-guard/internal/config"
	"amuse-form-guard/internal/security"
)

// SubmissionWriter 受保护写入的落点（数据库或内存日志）
type SubmissionWriter interface {
	InsertSubmission(ctx context.Context, formType, visitorID string, payload map[string]any) error
}

// ReadinessProbe 后端存储可用性探针
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// Server HTTP 服务封装
type Server struct {
	cfg     config.Config
	guard   *security.Guard
	limiter *security.Limiter
	writer  SubmissionWriter
	probe   ReadinessProbe
	engine  *gin.Engine
}

func NewServer(
	cfg config.Config,
	guard *security.Guard,
	limiter *security.Limiter,
	writer SubmissionWriter,
	probe ReadinessProbe,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		cfg:     cfg,
		guard:   guard,
		limiter: limiter,
		writer:  writer,
		probe:   probe,
		engine:  gin.New(),
	}

	server.engine.Use(gin.Recovery())
	server.registerRoutes()

	return server
}

func (s *Server) Run() error {
	return s.engine.Run(":" + s.cfg.Port)
}

// Handler 暴露底层 handler，便于 httptest 挂载
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/v1/healthz", s.handleHealthz)
	s.engine.POST("/v1/guard/rate-limit-check", s.handleRateLimitCheck)
	s.engine.POST("/v1/guard/visitor-id", s.handleVisitorID)
	s.engine.POST("/v1/forms/:formType/submissions", s.handleSubmitForm)
}

func (s *Server) handleHealthz(c *gin.Context) {
	response := gin.H{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)}

	if s.probe != nil {
		if err := s.probe.Ready(c.Request.Context()); err != nil {
			response["database"] = "unavailable"
		} else {
			response["database"] = "ready"
		}
	}

	c.JSON(http.StatusOK, response)
}

// handleRateLimitCheck 匿名可达的限流检查过程。
// 始终返回 200，拦截与否由 allowed 字段表达；参数缺失才返回 400。
func (s *Server) handleRateLimitCheck(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "读取请求体失败")
		return
	}

	var req RateLimitCheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(c, http.StatusBadRequest, "请求体格式无效")
		return
	}

	if req.VisitorID == "" || req.FormType == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"allowed": false,
			"error":   "Missing visitorId or formType",
		})
		return
	}

	if !validFormType(req.FormType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"allowed": false,
			"error":   "Invalid formType",
		})
		return
	}

	decision, _ := s.limiter.CheckAndRecord(c.Request.Context(), req.VisitorID, req.FormType, c.ClientIP())
	c.JSON(http.StatusOK, decision)
}

// handleVisitorID 为非浏览器调用方签发访客标识
func (s *Server) handleVisitorID(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"visitorId": uuid.NewString(),
	})
}

func (s *Server) handleSubmitForm(c *gin.Context) {
	formType := c.Param("formType")
	if !validFormType(formType) {
		writeError(c, http.StatusBadRequest, "formType 无效")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "读取请求体失败")
		return
	}

	var req SubmitFormRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(c, http.StatusBadRequest, "请求体格式无效")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		if typed, ok := err.(apiError); ok {
			writeError(c, typed.Code, typed.Message)
			return
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.guard.WithChecks(
		c.Request.Context(),
		req.Payload,
		formType,
		req.VisitorID,
		c.ClientIP(),
		func() error {
			return s.writer.InsertSubmission(c.Request.Context(), formType, req.VisitorID, req.Payload)
		},
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "保存表单提交失败")
		return
	}

	if !result.Allowed {
		status := http.StatusConflict
		response := gin.H{
			"success": false,
			"error":   result.Message,
		}
		if result.Reason == security.BlockedRateLimit {
			status = http.StatusTooManyRequests
			if result.RetryAfterSeconds > 0 {
				response["retryAfter"] = result.RetryAfterSeconds
			}
		}
		c.JSON(status, response)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"formType": formType,
	})
}

func writeError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}
