// Package sia 单条目标注（SIA）领域 - HTTP 处理
//
// 本包实现标注员与审核员的工作界面端点：
//   - 领取：first / next / prev / lastedited 四种取条目方式
//   - 提交：写入标注负载并释放租约
//   - 个人完成标记与任务进度
//   - 审核：领取待审条目、落 accept/reject 决定
//   - 媒体下载：从对象存储取条目的媒体内容
package sia

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"anno-admin/internal/annotation"
	"anno-admin/internal/apiserver/auth"
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/objstore"
	pkgauth "anno-admin/pkg/auth"
)

// Handler SIA 领域 HTTP 处理器
type Handler struct {
	ledger   *annotation.Ledger
	reviewer *annotation.Reviewer
	files    objstore.FileAccess
}

// NewHandler 创建 SIA 处理器
func NewHandler(ledger *annotation.Ledger, reviewer *annotation.Reviewer, files objstore.FileAccess) *Handler {
	return &Handler{ledger: ledger, reviewer: reviewer, files: files}
}

// RegisterRoutes 注册 SIA 相关路由
//
// 标注端点要求 Annotator 角色，审核端点要求 Designer 角色；
// 进度和媒体对任何已认证用户开放。
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// 标注端
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/first", auth.RequireRole(model.RoleAnnotator, h.First))
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/next", auth.RequireRole(model.RoleAnnotator, h.Next))
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/prev", auth.RequireRole(model.RoleAnnotator, h.Prev))
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/lastedited", auth.RequireRole(model.RoleAnnotator, h.LastEdited))
	mux.HandleFunc("PUT /api/v1/sia/tasks/{id}/items/{itemID}", auth.RequireRole(model.RoleAnnotator, h.Submit))
	mux.HandleFunc("POST /api/v1/sia/tasks/{id}/finish", auth.RequireRole(model.RoleAnnotator, h.Finish))
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/progress", h.Progress)
	mux.HandleFunc("GET /api/v1/sia/media/{path...}", h.Media)

	// 审核端
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/review", auth.RequireRole(model.RoleDesigner, h.ReviewList))
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/review/next", auth.RequireRole(model.RoleDesigner, h.ReviewNext))
	mux.HandleFunc("GET /api/v1/sia/tasks/{id}/review/options", auth.RequireRole(model.RoleDesigner, h.ReviewOptions))
	mux.HandleFunc("PUT /api/v1/sia/tasks/{id}/review/{itemID}", auth.RequireRole(model.RoleDesigner, h.ReviewDecide))
}

type submitRequest struct {
	Annotation json.RawMessage `json:"annotation"`
}

type reviewRequest struct {
	Decision string `json:"decision"` // accept | reject
	Reason   string `json:"reason,omitempty"`
}

// First 取用户在任务中的第一个条目
//
// 路由: GET /api/v1/sia/tasks/{id}/first
//
// 有过操作痕迹就回到最早碰过的条目，否则等价于 next。
func (h *Handler) First(w http.ResponseWriter, r *http.Request) {
	user := pkgauth.GetAuthUser(r.Context())
	item, err := h.ledger.FirstItem(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeItem(w, item)
}

// Next 领取下一个可标注条目
//
// 路由: GET /api/v1/sia/tasks/{id}/next
//
// 已持有租约时返回同一个条目（幂等）；条目耗尽返回 item: null。
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	user := pkgauth.GetAuthUser(r.Context())
	item, err := h.ledger.NextItem(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeItem(w, item)
}

// Prev 回看当前条目之前自己碰过的条目
//
// 路由: GET /api/v1/sia/tasks/{id}/prev?item_id=...
func (h *Handler) Prev(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "item_id query parameter is required")
		return
	}
	user := pkgauth.GetAuthUser(r.Context())
	item, err := h.ledger.PrevItem(r.Context(), r.PathValue("id"), user.ID, itemID)
	if err != nil {
		fail(w, err)
		return
	}
	writeItem(w, item)
}

// LastEdited 取自己最近编辑的条目
//
// 路由: GET /api/v1/sia/tasks/{id}/lastedited
func (h *Handler) LastEdited(w http.ResponseWriter, r *http.Request) {
	user := pkgauth.GetAuthUser(r.Context())
	item, err := h.ledger.LastEdited(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeItem(w, item)
}

// Submit 提交条目标注
//
// 路由: PUT /api/v1/sia/tasks/{id}/items/{itemID}
//
// 只有租约持有人能提交；负载写入、状态流转、租约释放是一个
// 原子动作。
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Annotation) == 0 {
		writeError(w, http.StatusBadRequest, "annotation payload is required")
		return
	}

	user := pkgauth.GetAuthUser(r.Context())
	item, err := h.ledger.Submit(r.Context(), r.PathValue("id"), r.PathValue("itemID"), user.ID, req.Annotation)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Finish 个人完成标记
//
// 路由: POST /api/v1/sia/tasks/{id}/finish
//
// 表示"我不再参与这个任务"，释放自己持有的租约。这不是全局
// 任务完成信号，任务关闭由条目状态决定。
func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	user := pkgauth.GetAuthUser(r.Context())
	if err := h.ledger.MarkFinished(r.Context(), r.PathValue("id"), user.ID); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finished"})
}

// Progress 任务进度统计
//
// 路由: GET /api/v1/sia/tasks/{id}/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.ledger.TaskProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Media 下载条目媒体
//
// 路由: GET /api/v1/sia/media/{path...}
//
// 对象存储不直接暴露给前端，媒体统一经 API 网关流式转发。
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("path")
	if key == "" {
		writeError(w, http.StatusBadRequest, "media path is required")
		return
	}
	rc, err := h.files.Download(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		// 响应已开始写，只能断开
		return
	}
}

// ============================================================================
// 审核端
// ============================================================================

// ReviewList 列出待审条目
//
// 路由: GET /api/v1/sia/tasks/{id}/review
//
// 只读清单，不流转任何条目状态。
func (h *Handler) ReviewList(w http.ResponseWriter, r *http.Request) {
	items, err := h.reviewer.ListForReview(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// ReviewNext 领取下一个待审条目
//
// 路由: GET /api/v1/sia/tasks/{id}/review/next
func (h *Handler) ReviewNext(w http.ResponseWriter, r *http.Request) {
	user := pkgauth.GetAuthUser(r.Context())
	item, err := h.reviewer.NextReview(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeItem(w, item)
}

// ReviewOptions 审核界面的可用操作
//
// 路由: GET /api/v1/sia/tasks/{id}/review/options
func (h *Handler) ReviewOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.reviewer.Options(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// ReviewDecide 落审核决定
//
// 路由: PUT /api/v1/sia/tasks/{id}/review/{itemID}
//
// accept 终止条目，reject 带原因把条目退回待领池。
func (h *Handler) ReviewDecide(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var decision annotation.Decision
	switch req.Decision {
	case "accept":
		decision = annotation.DecisionAccept
	case "reject":
		decision = annotation.DecisionReject
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "reject requires a reason")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "decision must be accept or reject")
		return
	}

	user := pkgauth.GetAuthUser(r.Context())
	item, err := h.reviewer.Decide(r.Context(), r.PathValue("id"), r.PathValue("itemID"), user.ID, decision, req.Reason)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ============================================================================
// 辅助函数
// ============================================================================

// writeItem 条目响应；nil 条目表示没有可领的了，返回 item: null
func writeItem(w http.ResponseWriter, item interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"item": item})
}

// fail 把领域错误映射到 HTTP 状态码
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrAuthorization):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
