// Package userman 用户管理领域 - HTTP 处理
//
// 本包实现管理员的用户管理端点：建账号、授予角色、改口令、
// 删账号，以及在线用户查询。所有写操作要求 Administrator 角色。
package userman

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"anno-admin/internal/apiserver/auth"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	"anno-admin/internal/worker"
	pkgauth "anno-admin/pkg/auth"
)

// Handler 用户管理 HTTP 处理器
type Handler struct {
	store   storage.PersistentStore
	workers *worker.Manager
}

// NewHandler 创建用户管理处理器
func NewHandler(store storage.PersistentStore, workers *worker.Manager) *Handler {
	return &Handler{store: store, workers: workers}
}

// RegisterRoutes 注册用户管理路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	admin := model.RoleAdministrator
	mux.HandleFunc("POST /api/v1/users", auth.RequireRole(admin, h.Create))
	mux.HandleFunc("GET /api/v1/users", auth.RequireRole(admin, h.List))
	mux.HandleFunc("GET /api/v1/users/online", auth.RequireRole(admin, h.Online))
	mux.HandleFunc("GET /api/v1/users/{id}", auth.RequireRole(admin, h.Get))
	mux.HandleFunc("POST /api/v1/users/{id}/roles", auth.RequireRole(admin, h.AddRole))
	mux.HandleFunc("PUT /api/v1/users/{id}/password", h.ChangePassword)
	mux.HandleFunc("DELETE /api/v1/users/{id}", auth.RequireRole(admin, h.Delete))
}

// validRoles 角色封闭集合
var validRoles = map[model.Role]bool{
	model.RoleAnnotator:     true,
	model.RoleDesigner:      true,
	model.RoleAdministrator: true,
}

type createUserRequest struct {
	Username string       `json:"username"`
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Roles    []model.Role `json:"roles"`
}

type addRoleRequest struct {
	Role model.Role `json:"role"`
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

// Create 创建用户
//
// 路由: POST /api/v1/users
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if len(req.Roles) == 0 {
		req.Roles = []model.Role{model.RoleAnnotator}
	}
	for _, role := range req.Roles {
		if !validRoles[role] {
			writeError(w, http.StatusBadRequest, "unknown role "+string(role))
			return
		}
	}

	existing, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check username")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := pkgauth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	now := time.Now()
	user := &model.User{
		ID:           generateID("user"),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Roles:        req.Roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// List 列出用户
//
// 路由: GET /api/v1/users
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// Online 列出在线用户
//
// 路由: GET /api/v1/users/online
//
// 在线 = 心跳缓存键未过期。
func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	userIDs, err := h.workers.OnlineUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list online users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_ids": userIDs,
		"count":    len(userIDs),
	})
}

// Get 获取用户详情
//
// 路由: GET /api/v1/users/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), r.PathValue("id"))
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

// AddRole 授予角色
//
// 路由: POST /api/v1/users/{id}/roles
//
// 授予是追加式的，重复授予幂等。不支持收回角色。
func (h *Handler) AddRole(w http.ResponseWriter, r *http.Request) {
	var req addRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validRoles[req.Role] {
		writeError(w, http.StatusBadRequest, "unknown role "+string(req.Role))
		return
	}

	id := r.PathValue("id")
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.store.AddUserRole(r.Context(), id, req.Role); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add role")
		return
	}
	user, _ = h.store.GetUser(r.Context(), id)
	writeJSON(w, http.StatusOK, user)
}

// ChangePassword 修改口令
//
// 路由: PUT /api/v1/users/{id}/password
//
// 管理员可以改任何人的口令，普通用户只能改自己的。
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	authUser := pkgauth.GetAuthUser(r.Context())
	id := r.PathValue("id")
	if authUser == nil || (authUser.ID != id && !authUser.HasRole(model.RoleAdministrator)) {
		writeError(w, http.StatusForbidden, "cannot change another user's password")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	hash, err := pkgauth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := h.store.UpdateUserPassword(r.Context(), id, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

// Delete 删除用户
//
// 路由: DELETE /api/v1/users/{id}
//
// 先回收工作集群和条目租约，再删账号。不能删自己。
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	authUser := pkgauth.GetAuthUser(r.Context())
	id := r.PathValue("id")
	if authUser != nil && authUser.ID == id {
		writeError(w, http.StatusConflict, "cannot delete your own account")
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if h.workers != nil {
		if err := h.workers.CloseSession(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to reclaim worker session")
			return
		}
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
