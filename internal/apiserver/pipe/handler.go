// Package pipe 流水线领域 - HTTP 处理
//
// 本包实现流水线的全生命周期端点：
//   - 创建：校验 DAG 定义、物化节点/结果/边、落标注任务行
//   - 生命周期：start / pause / resume / delete
//   - 状态查询与节点 re-run
//   - WebSocket 实时监控（monitor.go）
package pipe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"anno-admin/internal/apiserver/auth"
	"anno-admin/internal/pipeline/engine"
	"anno-admin/internal/pipeline/graph"
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	pkgauth "anno-admin/pkg/auth"
)

// Handler 流水线领域 HTTP 处理器
type Handler struct {
	store  storage.PersistentStore
	engine *engine.Engine
}

// NewHandler 创建流水线处理器
func NewHandler(store storage.PersistentStore, eng *engine.Engine) *Handler {
	return &Handler{store: store, engine: eng}
}

// RegisterRoutes 注册流水线相关路由
//
// 写操作要求 Designer 角色，查询对任何已认证用户开放。
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/pipes", auth.RequireRole(model.RoleDesigner, h.Create))
	mux.HandleFunc("GET /api/v1/pipes", h.List)
	mux.HandleFunc("GET /api/v1/pipes/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/pipes/{id}/start", auth.RequireRole(model.RoleDesigner, h.Start))
	mux.HandleFunc("POST /api/v1/pipes/{id}/pause", auth.RequireRole(model.RoleDesigner, h.Pause))
	mux.HandleFunc("POST /api/v1/pipes/{id}/resume", auth.RequireRole(model.RoleDesigner, h.Resume))
	mux.HandleFunc("DELETE /api/v1/pipes/{id}", auth.RequireRole(model.RoleDesigner, h.Delete))
	mux.HandleFunc("POST /api/v1/elements/{id}/rerun", auth.RequireRole(model.RoleDesigner, h.RerunElement))
}

// ============================================================================
// 请求结构体
// ============================================================================

// annoTaskSpec anno_task 节点在定义里携带的负载
type annoTaskSpec struct {
	Name          string `json:"name"`
	SourcePrefix  string `json:"source_prefix"`
	ReviewEnabled bool   `json:"review_enabled"`
	Instructions  string `json:"instructions,omitempty"`
}

type createPipeRequest struct {
	Name     string             `json:"name"`
	Elements []graph.ElementDef `json:"elements"`
}

// ============================================================================
// 接口实现
// ============================================================================

// Create 创建流水线
//
// 路由: POST /api/v1/pipes
//
// DAG 校验在这里一次性完成（环、悬空引用、未知变体），
// 运行期不再做图结构检查。创建后流水线停在 created，
// 显式 start 才进入调度。
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "pipe name is required")
		return
	}

	def := &graph.Def{Name: req.Name, Elements: req.Elements}
	if err := graph.Validate(def); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// anno_task 负载先于物化校验，坏定义不留半成品
	taskSpecs := make(map[string]*annoTaskSpec)
	for _, e := range req.Elements {
		if e.Type != model.ElementTypeAnnoTask {
			continue
		}
		var spec annoTaskSpec
		if len(e.Spec) == 0 {
			writeError(w, http.StatusBadRequest, "anno_task element "+e.Ref+" requires a task spec")
			return
		}
		if err := json.Unmarshal(e.Spec, &spec); err != nil || spec.SourcePrefix == "" {
			writeError(w, http.StatusBadRequest, "anno_task element "+e.Ref+" has an invalid task spec")
			return
		}
		taskSpecs[e.Ref] = &spec
	}

	user := pkgauth.GetAuthUser(r.Context())
	now := time.Now()
	pipe := &model.Pipe{
		ID:        generateID("pipe"),
		Name:      req.Name,
		OwnerID:   user.ID,
		State:     model.PipeStateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreatePipe(r.Context(), pipe); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create pipe")
		return
	}

	m := graph.Materialize(def, pipe.ID, generateID)
	for _, pe := range m.Elements {
		pe.CreatedAt, pe.UpdatedAt = now, now
		if err := h.store.CreateElement(r.Context(), pe); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create element")
			return
		}
	}
	for _, res := range m.Results {
		res.CreatedAt, res.UpdatedAt = now, now
		if err := h.store.CreateResult(r.Context(), res); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create result")
			return
		}
	}
	for _, l := range m.Links {
		if err := h.store.CreateResultLink(r.Context(), l); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create result link")
			return
		}
	}

	for ref, spec := range taskSpecs {
		name := spec.Name
		if name == "" {
			name = req.Name + "/" + ref
		}
		task := &model.AnnoTask{
			ID:            generateID("at"),
			ElementID:     m.RefToID[ref],
			Name:          name,
			State:         model.AnnoTaskStatePending,
			SourcePrefix:  spec.SourcePrefix,
			ReviewEnabled: spec.ReviewEnabled,
			Instructions:  spec.Instructions,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := h.store.CreateAnnoTask(r.Context(), task); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create anno task")
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"pipe":      pipe,
		"ref_to_id": m.RefToID,
	})
}

// List 列出流水线
//
// 路由: GET /api/v1/pipes?state=running
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	state := model.PipeState(r.URL.Query().Get("state"))
	if state == "" {
		state = model.PipeStateRunning
	}
	pipes, err := h.store.ListPipesByState(r.Context(), state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pipes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pipes": pipes,
		"count": len(pipes),
	})
}

// pipeStatus 流水线状态快照
type pipeStatus struct {
	Pipe     *model.Pipe          `json:"pipe"`
	Elements []*model.PipeElement `json:"elements"`
	Results  []*model.Result      `json:"results"`
}

// loadStatus 聚合一条流水线的完整状态
func (h *Handler) loadStatus(ctx context.Context, pipeID string) (*pipeStatus, error) {
	pipe, err := h.store.GetPipe(ctx, pipeID)
	if err != nil {
		return nil, err
	}
	if pipe == nil {
		return nil, apperr.ErrNotFound
	}
	elements, err := h.store.ListElementsByPipe(ctx, pipeID)
	if err != nil {
		return nil, err
	}
	results, err := h.store.ListResultsByPipe(ctx, pipeID)
	if err != nil {
		return nil, err
	}
	return &pipeStatus{Pipe: pipe, Elements: elements, Results: results}, nil
}

// Get 获取流水线详情
//
// 路由: GET /api/v1/pipes/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.loadStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// transition 带前置状态校验的生命周期流转
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, from []model.PipeState, to model.PipeState) {
	id := r.PathValue("id")
	pipe, err := h.store.GetPipe(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load pipe")
		return
	}
	if pipe == nil {
		writeError(w, http.StatusNotFound, "pipe not found")
		return
	}
	allowed := false
	for _, s := range from {
		if pipe.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		writeError(w, http.StatusConflict, "pipe is "+string(pipe.State))
		return
	}
	if err := h.store.UpdatePipeState(r.Context(), id, to); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update pipe state")
		return
	}
	pipe.State = to
	writeJSON(w, http.StatusOK, pipe)
}

// Start 启动流水线
//
// 路由: POST /api/v1/pipes/{id}/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, []model.PipeState{model.PipeStateCreated}, model.PipeStateRunning)
}

// Pause 暂停流水线
//
// 路由: POST /api/v1/pipes/{id}/pause
//
// 暂停只是调度冻结：in-flight 的脚本作业继续跑，
// 但进度不再落库、下游不再启动。
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, []model.PipeState{model.PipeStateRunning}, model.PipeStatePaused)
}

// Resume 恢复流水线
//
// 路由: POST /api/v1/pipes/{id}/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, []model.PipeState{model.PipeStatePaused}, model.PipeStateRunning)
}

// Delete 删除流水线
//
// 路由: DELETE /api/v1/pipes/{id}
//
// running 的流水线要先暂停，防止引擎和删除赛跑。
// 删除级联到节点、结果、边和标注任务。
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pipe, err := h.store.GetPipe(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load pipe")
		return
	}
	if pipe == nil {
		writeError(w, http.StatusNotFound, "pipe not found")
		return
	}
	if pipe.State == model.PipeStateRunning {
		writeError(w, http.StatusConflict, "pause the pipe before deleting it")
		return
	}
	if err := h.store.DeletePipe(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete pipe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// RerunElement 重跑失败节点
//
// 路由: POST /api/v1/elements/{id}/rerun
func (h *Handler) RerunElement(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RerunElement(r.Context(), r.PathValue("id")); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rescheduled"})
}

// ============================================================================
// 辅助函数
// ============================================================================

// fail 把领域错误映射到 HTTP 状态码
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrInvalidGraph):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
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
