package main

import (
	"context"
	"log"
	"time"

	"amuse-form-guard/internal/api"
	"amuse-form-guard/internal/config"
	"amuse-form-guard/internal/guardclient"
	"amuse-form-guard/internal/security"
	"amuse-form-guard/internal/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	var rateStore security.RateStore = security.NewMemoryRateStore()
	var writer api.SubmissionWriter = store.NewMemorySubmissionLog()
	var probe api.ReadinessProbe

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pg, err := store.Connect(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("数据库连接失败: %v", err)
		}
		defer pg.Close()

		if cfg.MigrationFile != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := pg.RunMigration(ctx, cfg.MigrationFile)
			cancel()
			if err != nil {
				log.Fatalf("数据库迁移失败: %v", err)
			}
		}

		log.Printf("数据库已连接，限流记录与表单提交落库")
		rateStore = pg
		writer = pg
		probe = pg
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		pingErr := redisClient.Ping(ctx).Err()
		cancel()
		if pingErr != nil {
			log.Printf("Redis 连接失败，回退到内存限流记录: %v", pingErr)
		} else {
			log.Printf("Redis 已连接，启用全局限流记录")
			rateStore = security.NewRedisRateStore(redisClient, cfg.RedisKeyPrefix, cfg.MaxPolicyWindow()*2)
		}
	}

	kv, err := store.NewFileKV(cfg.DataDir, cfg.FingerprintFile)
	if err != nil {
		log.Fatalf("指纹存储初始化失败: %v", err)
	}

	cache := security.NewCache(kv, cfg.DuplicateWindow, cfg.MaxStoredFingerprints, cfg.IdentityFields)
	limiter := security.NewLimiter(rateStore, cfg.RateLimits)

	// 默认就地检查；配置远程地址时改走另一实例的限流过程
	var checker security.RateChecker = limiter
	if cfg.RemoteGuardURL != "" {
		log.Printf("限流检查走远程过程: %s", cfg.RemoteGuardURL)
		checker = guardclient.NewClient(cfg.RemoteGuardURL)
	}

	guard := security.NewGuard(cache, checker)

	srv := api.NewServer(cfg, guard, limiter, writer, probe)

	log.Printf("Amuse Form Guard 启动: :%s", cfg.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("服务异常退出: %v", err)
	}
}
