// Package config 配置加载实现
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	// 从环境变量获取敏感信息
	yamlCfg.Database.Password = getEnv("DB_PASSWORD", "anno_dev_password")
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	yamlCfg.MinIO.AccessKey = getEnv("MINIO_ROOT_USER", "minioadmin")
	yamlCfg.MinIO.SecretKey = getEnv("MINIO_ROOT_PASSWORD", "minioadmin")
	yamlCfg.Auth.JWTSecret = getEnv("JWT_SECRET", "dev-secret-change-me")
	yamlCfg.Auth.AdminUsername = getEnv("ADMIN_USERNAME", "admin")
	yamlCfg.Auth.AdminPassword = getEnv("ADMIN_PASSWORD", "admin")

	// 构建最终配置
	cfg := &Config{
		Env:            env,
		DatabaseDriver: yamlCfg.Database.Driver,
		DatabaseURL:    buildDatabaseURL(yamlCfg.Database),
		RedisURL:       buildRedisURL(yamlCfg.Redis),
		APIPort:        yamlCfg.APIServer.Port,
		MinIO:          yamlCfg.MinIO,
		Engine:         yamlCfg.Engine,
		Worker:         yamlCfg.Worker,
		Auth:           yamlCfg.Auth,
	}

	cfg.validate()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	// 1. 初始化默认值
	cfg := &YAMLConfig{
		APIServer: APIServerConfig{Port: "8080"},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "anno.db", Host: "localhost", Port: 5432, User: "anno", Name: "anno_admin", SSLMode: "disable"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:     MinIOConfig{Endpoint: "localhost:9000", Bucket: "anno-admin"},
		Engine:    EngineConfig{TickInterval: 3 * time.Second},
		Worker: WorkerConfig{
			Image:            "anno-admin/worker:latest",
			HeartbeatTimeout: 30 * time.Minute,
			SweepInterval:    time.Minute,
			CPULimit:         2,
			MemoryLimitMB:    2048,
		},
		Auth: AuthConfig{TokenTTL: "24h", BootstrapAdmin: true},
	}

	// 2. 加载 common.yaml（公共配置）
	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// 3. 加载 {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildDatabaseURL 构建数据库连接字符串
func buildDatabaseURL(db DatabaseConfig) string {
	if db.Driver == "sqlite" {
		if db.Path == "" {
			return ":memory:"
		}
		return db.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User, db.Password, db.Host, db.Port, db.Name, db.SSLMode)
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(redis RedisConfig) string {
	if redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", redis.Password, redis.Host, redis.Port, redis.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// TokenTTLDuration 解析令牌有效期
func (c *Config) TokenTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, DB: %s, Redis: %s}",
		c.Env, maskPassword(c.DatabaseURL), maskPassword(c.RedisURL))
}

// maskPassword 隐藏密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:]*:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}

// validate 验证并填充默认值
func (c *Config) validate() {
	if c.DatabaseDriver == "" {
		c.DatabaseDriver = "sqlite"
	}
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	if c.Engine.TickInterval <= 0 {
		c.Engine.TickInterval = 3 * time.Second
	}
	if c.Worker.HeartbeatTimeout <= 0 {
		c.Worker.HeartbeatTimeout = 30 * time.Minute
	}
	if c.Worker.SweepInterval <= 0 {
		c.Worker.SweepInterval = time.Minute
	}
	if c.Worker.Image == "" {
		c.Worker.Image = "anno-admin/worker:latest"
	}
}
