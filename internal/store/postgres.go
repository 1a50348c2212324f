package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"amuse-form-guard/internal/security"
)

// Postgres 托管数据库存储：限流记录与受保护的表单写入。
// 限流记录只增不删，历史清理交给外部的保留策略。
type Postgres struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析数据库 DSN 失败: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建连接池失败: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Postgres) Ready(ctx context.Context) error {
	var one int
	return s.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

// RunMigration 执行单个 SQL 文件建表
func (s *Postgres) RunMigration(ctx context.Context, path string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取迁移文件失败: %w", err)
	}
	if _, err := s.Pool.Exec(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("执行迁移失败: %w", err)
	}
	return nil
}

func (s *Postgres) CountSince(ctx context.Context, visitorID, formType string, since time.Time) (int, error) {
	var count int
	err := s.Pool.QueryRow(ctx,
		`SELECT count(*) FROM rate_limits
		 WHERE visitor_id = $1 AND form_type = $2 AND submitted_at >= $3`,
		visitorID, formType, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("统计限流记录失败: %w", err)
	}
	return count, nil
}

func (s *Postgres) OldestSince(ctx context.Context, visitorID, formType string, since time.Time) (time.Time, bool, error) {
	var submittedAt time.Time
	err := s.Pool.QueryRow(ctx,
		`SELECT submitted_at FROM rate_limits
		 WHERE visitor_id = $1 AND form_type = $2 AND submitted_at >= $3
		 ORDER BY submitted_at ASC LIMIT 1`,
		visitorID, formType, since,
	).Scan(&submittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("查询最旧限流记录失败: %w", err)
	}
	return submittedAt, true, nil
}

func (s *Postgres) Insert(ctx context.Context, record security.AttemptRecord) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO rate_limits (visitor_id, form_type, ip_address, submitted_at)
		 VALUES ($1, $2, $3, $4)`,
		record.VisitorID, record.FormType, record.IPAddress, record.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("写入限流记录失败: %w", err)
	}
	return nil
}

// InsertSubmission 受保护的业务写入：表单负载以 JSONB 落库
func (s *Postgres) InsertSubmission(ctx context.Context, formType, visitorID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("编码表单负载失败: %w", err)
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO form_submissions (form_type, visitor_id, payload)
		 VALUES ($1, $2, $3::jsonb)`,
		formType, visitorID, string(data),
	)
	if err != nil {
		return fmt.Errorf("写入表单提交失败: %w", err)
	}
	return nil
}
