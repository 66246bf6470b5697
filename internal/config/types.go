// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//	.env 文件同时被 Docker Compose（--env-file）、Go 应用（godotenv）、
//	systemd（EnvironmentFile=）共用，确保单一数据源。
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml + .env
//   - 测试: APP_ENV=test → configs/test.yaml + .env
//   - 生产: APP_ENV=prod → configs/prod.yaml + .env
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"` // API Server（端口）
	Database  DatabaseConfig  `yaml:"database"`   // 数据库
	Redis     RedisConfig     `yaml:"redis"`      // Redis（心跳 + 令牌撤销）
	MinIO     MinIOConfig     `yaml:"minio"`      // MinIO 对象存储
	Engine    EngineConfig    `yaml:"engine"`     // 流水线引擎
	Worker    WorkerConfig    `yaml:"worker"`     // 用户工作集群
	Auth      AuthConfig      `yaml:"auth"`       // 认证
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"` // 监听端口
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "sqlite"（默认 sqlite）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"` // 只从 REDIS_PASSWORD 环境变量读取
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`  // 是否使用 HTTPS
	Bucket    string `yaml:"bucket"`   // 默认 bucket 名称
}

// EngineConfig 流水线引擎配置
type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"` // 调度循环周期
}

// WorkerConfig 用户工作集群配置
type WorkerConfig struct {
	Image            string        `yaml:"image"`             // 集群容器镜像
	DockerHost       string        `yaml:"docker_host"`       // Docker daemon 地址（空 = 环境默认）
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // 心跳超时阈值
	SweepInterval    time.Duration `yaml:"sweep_interval"`    // 清扫器周期
	CPULimit         float64       `yaml:"cpu_limit"`         // 每集群 CPU 限额（核）
	MemoryLimitMB    int64         `yaml:"memory_limit_mb"`   // 每集群内存限额（MB）
}

// AuthConfig 认证配置
// 注意：JWTSecret/AdminUsername/AdminPassword 只从环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret      string `yaml:"-"`          // 只从 JWT_SECRET 环境变量读取
	TokenTTL       string `yaml:"token_ttl"`  // 例如 "24h"
	AdminUsername  string `yaml:"-"`          // 只从 ADMIN_USERNAME 环境变量读取
	AdminPassword  string `yaml:"-"`          // 只从 ADMIN_PASSWORD 环境变量读取
	BootstrapAdmin bool   `yaml:"bootstrap_admin"` // 启动时确保管理员账号存在
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	RedisURL       string
	APIPort        string
	MinIO          MinIOConfig
	Engine         EngineConfig
	Worker         WorkerConfig
	Auth           AuthConfig
}
