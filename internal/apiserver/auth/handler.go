// Package auth 认证领域 - HTTP 处理
//
// 本包实现登录、登出、令牌刷新与认证中间件：
//   - 登录：校验口令、签发 JWT、供给用户的工作集群
//   - 刷新：换发新令牌，同时充当会话心跳
//   - 登出：撤销令牌、释放条目租约、回收集群
package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"anno-admin/internal/shared/cache"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	"anno-admin/internal/worker"
	pkgauth "anno-admin/pkg/auth"
)

// Handler 认证领域 HTTP 处理器
type Handler struct {
	store   storage.PersistentStore
	cache   cache.Cache
	workers *worker.Manager
	cfg     pkgauth.Config
}

// NewHandler 创建认证处理器
func NewHandler(store storage.PersistentStore, c cache.Cache, workers *worker.Manager, cfg pkgauth.Config) *Handler {
	return &Handler{store: store, cache: c, workers: workers, cfg: cfg}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Refresh)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Login 用户登录
//
// 路由: POST /api/v1/auth/login
//
// 口令校验通过后签发 JWT 并供给用户的工作集群。
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil || !pkgauth.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := pkgauth.GenerateToken(h.cfg, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	if h.workers != nil {
		if _, err := h.workers.EnsureSession(r.Context(), user.ID); err != nil {
			writeError(w, http.StatusServiceUnavailable, "failed to provision worker session")
			return
		}
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

// Logout 用户登出
//
// 路由: POST /api/v1/auth/logout
//
// 撤销当前令牌（TTL 对齐令牌有效期上界），释放条目租约并回收
// 工作集群。重复登出无害。
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := pkgauth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.cache.RevokeToken(r.Context(), user.JTI, int64(h.cfg.TokenTTL/time.Second)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	if h.workers != nil {
		if err := h.workers.CloseSession(r.Context(), user.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to close worker session")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Refresh 换发令牌
//
// 路由: POST /api/v1/auth/refresh
//
// 刷新即心跳：前端周期性调用，保持会话在线。角色从库里重读，
// 新授予的角色随下一次刷新生效。没有存活会话时刷新仍然成功，
// 下次登录重新供给。
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	authUser := pkgauth.GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.store.GetUser(r.Context(), authUser.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "user no longer exists")
		return
	}

	token, err := pkgauth.GenerateToken(h.cfg, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	if h.workers != nil {
		_ = h.workers.Heartbeat(r.Context(), user.ID)
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

// Me 当前用户信息
//
// 路由: GET /api/v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	authUser := pkgauth.GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	user, err := h.store.GetUser(r.Context(), authUser.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
