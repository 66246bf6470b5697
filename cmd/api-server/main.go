// Package main API Server 入口
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anno-admin/internal/annotation"
	"anno-admin/internal/apiserver/server"
	"anno-admin/internal/config"
	"anno-admin/internal/pipeline/engine"
	"anno-admin/internal/pipeline/executor"
	"anno-admin/internal/shared/cache"
	redisstore "anno-admin/internal/shared/cache/redis"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/objstore"
	"anno-admin/internal/shared/storage/dbutil"
	postgresdriver "anno-admin/internal/shared/storage/driver/postgres"
	sqlitedriver "anno-admin/internal/shared/storage/driver/sqlite"
	"anno-admin/internal/shared/storage/repository"
	"anno-admin/internal/worker"
	pkgauth "anno-admin/pkg/auth"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换数据库和 Redis）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化数据库（按方言：开发/测试 SQLite，生产 PostgreSQL）
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to %s", cfg.DatabaseDriver)

	// 初始化缓存（心跳 + 令牌撤销）；测试环境用进程内实现
	var cacheStore cache.Cache
	if cfg.IsTest() {
		cacheStore = cache.NewMemoryCache()
	} else {
		cacheStore, err = redisstore.NewStoreFromURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
	}
	defer cacheStore.Close()

	// 初始化对象存储（媒体与导出文件）
	files, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	if err := files.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("Failed to ensure bucket: %v", err)
	}

	// 初始化集群供给（Docker）
	cluster, err := worker.NewDockerCluster(cfg.Worker)
	if err != nil {
		log.Fatalf("Failed to create docker cluster: %v", err)
	}
	defer cluster.Close()

	// 领域组件
	ledger := annotation.NewLedger(store, nil)
	reviewer := annotation.NewReviewer(ledger)
	workers := worker.NewManager(store, cacheStore, cluster, ledger, cfg.Worker, generateID, nil)

	registry := executor.NewRegistry(
		executor.NewScriptExecutor(store, workers, nil),
		executor.NewAnnoTaskExecutor(store, files, ledger, generateID, nil),
		executor.NewExportExecutor(store, files, nil),
	)
	eng := engine.New(store, registry, cfg.Engine.TickInterval, engine.NewMetrics("anno"), nil)

	authCfg := pkgauth.Config{
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.TokenTTLDuration(),
	}

	// 管理员账号兜底
	if cfg.Auth.BootstrapAdmin {
		if err := bootstrapAdmin(context.Background(), store, cfg); err != nil {
			log.Fatalf("Failed to bootstrap admin: %v", err)
		}
	}

	// 后台循环：调度引擎 + 会话清扫器
	eng.Start()
	defer eng.Stop()
	workers.StartSweeper()
	defer workers.StopSweeper()

	h := server.NewHandler(store, cacheStore, files, workers, eng, ledger, reviewer, authCfg, nil)

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// openStore 按配置的方言打开数据库并跑迁移
func openStore(cfg *config.Config) (*repository.Store, error) {
	var (
		db      *sql.DB
		dialect dbutil.Dialect
		err     error
	)
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err = postgresdriver.Open(cfg.DatabaseURL)
		dialect = postgresdriver.NewDialect()
	default:
		db, err = sqlitedriver.Open(cfg.DatabaseURL)
		dialect = sqlitedriver.NewDialect()
	}
	if err != nil {
		return nil, err
	}
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return repository.NewStore(db, dialect), nil
}

// bootstrapAdmin 确保管理员账号存在（幂等）
func bootstrapAdmin(ctx context.Context, store *repository.Store, cfg *config.Config) error {
	username := cfg.Auth.AdminUsername
	password := cfg.Auth.AdminPassword
	if username == "" || password == "" {
		return fmt.Errorf("bootstrap_admin enabled but ADMIN_USERNAME/ADMIN_PASSWORD not set")
	}

	existing, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now()
	admin := &model.User{
		ID:           generateID("user"),
		Username:     username,
		PasswordHash: hash,
		Roles:        []model.Role{model.RoleAdministrator, model.RoleDesigner, model.RoleAnnotator},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		return err
	}
	log.Printf("Bootstrapped admin account %q", username)
	return nil
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
