// Package server 路由配置与核心基础设施
//
// 本包把各领域 Handler 组装成一个 HTTP 服务：
//   - auth:    登录 / 登出 / 刷新 / 认证中间件
//   - pipe:    流水线生命周期与 WebSocket 监控
//   - sia:     标注与审核工作界面
//   - userman: 用户管理
//
// 外加健康检查、Prometheus 指标端点和请求日志中间件。
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"anno-admin/internal/annotation"
	"anno-admin/internal/apiserver/auth"
	"anno-admin/internal/apiserver/pipe"
	"anno-admin/internal/apiserver/sia"
	"anno-admin/internal/apiserver/userman"
	"anno-admin/internal/pipeline/engine"
	"anno-admin/internal/shared/cache"
	"anno-admin/internal/shared/objstore"
	"anno-admin/internal/shared/storage"
	"anno-admin/internal/worker"
	pkgauth "anno-admin/pkg/auth"
	"anno-admin/pkg/logging"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，持有各领域处理器的依赖并
// 负责把它们注册到同一个路由表上。
type Handler struct {
	store    storage.PersistentStore
	cache    cache.Cache
	files    objstore.FileAccess
	workers  *worker.Manager
	engine   *engine.Engine
	ledger   *annotation.Ledger
	reviewer *annotation.Reviewer
	authCfg  pkgauth.Config
	logger   *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(
	store storage.PersistentStore,
	c cache.Cache,
	files objstore.FileAccess,
	workers *worker.Manager,
	eng *engine.Engine,
	ledger *annotation.Ledger,
	reviewer *annotation.Reviewer,
	authCfg pkgauth.Config,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default("apiserver")
	}
	return &Handler{
		store:    store,
		cache:    c,
		files:    files,
		workers:  workers,
		engine:   eng,
		ledger:   ledger,
		reviewer: reviewer,
		authCfg:  authCfg,
		logger:   logger,
	}
}

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 认证 (Auth):
//   - POST /api/v1/auth/login    - 登录（签发 JWT + 供给集群）
//   - POST /api/v1/auth/logout   - 登出（撤销令牌 + 回收集群）
//   - POST /api/v1/auth/refresh  - 换发令牌（兼作心跳）
//   - GET  /api/v1/auth/me       - 当前用户
//
// 流水线 (Pipe):
//   - POST   /api/v1/pipes              - 创建流水线
//   - GET    /api/v1/pipes              - 列出流水线
//   - GET    /api/v1/pipes/{id}         - 状态快照
//   - POST   /api/v1/pipes/{id}/start   - 启动
//   - POST   /api/v1/pipes/{id}/pause   - 暂停
//   - POST   /api/v1/pipes/{id}/resume  - 恢复
//   - DELETE /api/v1/pipes/{id}         - 删除
//   - POST   /api/v1/elements/{id}/rerun - 重跑失败节点
//   - GET    /ws/pipes/{id}             - WebSocket 实时监控
//
// 标注 (SIA):
//   - GET /api/v1/sia/tasks/{id}/first | next | prev | lastedited
//   - PUT /api/v1/sia/tasks/{id}/items/{itemID}
//   - POST /api/v1/sia/tasks/{id}/finish
//   - GET /api/v1/sia/tasks/{id}/progress
//   - GET /api/v1/sia/tasks/{id}/review | review/next | review/options
//   - PUT /api/v1/sia/tasks/{id}/review/{itemID}
//   - GET /api/v1/sia/media/{path...}
//
// 用户管理 (User):
//   - POST   /api/v1/users               - 创建用户
//   - GET    /api/v1/users               - 列出用户
//   - GET    /api/v1/users/online        - 在线用户
//   - GET    /api/v1/users/{id}          - 用户详情
//   - POST   /api/v1/users/{id}/roles    - 授予角色
//   - PUT    /api/v1/users/{id}/password - 修改口令
//   - DELETE /api/v1/users/{id}          - 删除用户
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", engine.MetricsHandler())

	// 认证接口
	authHandler := auth.NewHandler(h.store, h.cache, h.workers, h.authCfg)
	authHandler.RegisterRoutes(mux)

	// 流水线接口 + WebSocket 监控
	pipeHandler := pipe.NewHandler(h.store, h.engine)
	pipeHandler.RegisterRoutes(mux)
	pipeHandler.RegisterMonitorRoutes(mux)

	// 标注接口
	siaHandler := sia.NewHandler(h.ledger, h.reviewer, h.files)
	siaHandler.RegisterRoutes(mux)

	// 用户管理接口
	userHandler := userman.NewHandler(h.store, h.workers)
	userHandler.RegisterRoutes(mux)

	// 中间件从外到内：请求日志 → JWT 认证 → 业务路由
	var handler http.Handler = mux
	handler = auth.Middleware(h.authCfg, h.cache)(handler)
	handler = h.requestLog(handler)
	return handler
}

// Health 健康检查接口
//
// 路由: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusRecorder 捕获响应状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLog 请求日志中间件
func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket 升级需要裸 ResponseWriter（Hijacker）
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		h.logger.HTTPRequestLog(r.Method, r.URL.Path, rec.status, time.Since(start), r.RemoteAddr)
	})
}
