// Package sia 标注接口测试
package sia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"anno-admin/internal/annotation"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/objstore"
	"anno-admin/internal/shared/storage/repository"
	sqlitedriver "anno-admin/internal/shared/storage/driver/sqlite"
	pkgauth "anno-admin/pkg/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// siaFixture 内存库 + 开放任务 + 路由表
type siaFixture struct {
	mux   *http.ServeMux
	store *repository.Store
	files *objstore.MemoryStore
	task  *model.AnnoTask
}

func newSiaFixture(t *testing.T, reviewEnabled bool, itemCount int) *siaFixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	now := time.Now().Truncate(time.Second)
	pipe := &model.Pipe{ID: "pipe-s", Name: "s", OwnerID: "designer", State: model.PipeStateRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreatePipe(ctx, pipe))
	pe := &model.PipeElement{ID: "pe-s", PipeID: pipe.ID, Type: model.ElementTypeAnnoTask, State: model.ElementStateRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateElement(ctx, pe))
	task := &model.AnnoTask{
		ID: "at-s", ElementID: pe.ID, Name: "s", State: model.AnnoTaskStateInProgress,
		SourcePrefix: "data/", ReviewEnabled: reviewEnabled, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateAnnoTask(ctx, task))

	items := make([]*model.Item, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		items = append(items, &model.Item{
			ID: fmt.Sprintf("item-%02d", i), AnnoTaskID: task.ID, Seq: i,
			MediaPath: fmt.Sprintf("data/img-%02d.jpg", i), State: model.ItemStateUntouched,
			CreatedAt: now, UpdatedAt: now,
		})
	}
	require.NoError(t, store.CreateItems(ctx, items))

	ledger := annotation.NewLedger(store, nil)
	files := objstore.NewMemoryStore()
	mux := http.NewServeMux()
	NewHandler(ledger, annotation.NewReviewer(ledger), files).RegisterRoutes(mux)

	return &siaFixture{mux: mux, store: store, files: files, task: task}
}

// do 以指定用户和角色发请求
func (f *siaFixture) do(method, path, body, userID string, roles ...model.Role) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	user := &pkgauth.AuthUser{ID: userID, Username: userID, Roles: roles}
	req = req.WithContext(pkgauth.WithAuthUser(req.Context(), user))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// decodeItem 解出 {"item": ...} 响应；耗尽时返回 nil
func decodeItem(t *testing.T, rec *httptest.ResponseRecorder) *model.Item {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Item *model.Item `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Item
}

func TestAnnotationFlow(t *testing.T) {
	f := newSiaFixture(t, false, 2)
	base := "/api/v1/sia/tasks/" + f.task.ID

	// 领取 → 提交 → 领取下一个
	item := decodeItem(t, f.do("GET", base+"/next", "", "anno-1", model.RoleAnnotator))
	require.NotNil(t, item)
	assert.Equal(t, 0, item.Seq)
	assert.Equal(t, model.ItemStateInProgress, item.State)

	rec := f.do("PUT", base+"/items/"+item.ID, `{"annotation":{"label":"cat"}}`, "anno-1", model.RoleAnnotator)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var submitted model.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, model.ItemStateAccepted, submitted.State)
	assert.Nil(t, submitted.LockedBy)

	next := decodeItem(t, f.do("GET", base+"/next", "", "anno-1", model.RoleAnnotator))
	require.NotNil(t, next)
	assert.Equal(t, 1, next.Seq)

	// 第二人无牌可领：item: null，不是错误
	got := decodeItem(t, f.do("GET", base+"/next", "", "anno-2", model.RoleAnnotator))
	assert.Nil(t, got)
}

func TestSubmitValidation(t *testing.T) {
	f := newSiaFixture(t, false, 2)
	base := "/api/v1/sia/tasks/" + f.task.ID

	item := decodeItem(t, f.do("GET", base+"/next", "", "anno-1", model.RoleAnnotator))
	require.NotNil(t, item)

	// 空负载被拒
	rec := f.do("PUT", base+"/items/"+item.ID, `{}`, "anno-1", model.RoleAnnotator)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 非持有人提交被拒
	rec = f.do("PUT", base+"/items/"+item.ID, `{"annotation":{"label":"x"}}`, "anno-2", model.RoleAnnotator)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 不存在的条目
	rec = f.do("PUT", base+"/items/item-xx", `{"annotation":{"label":"x"}}`, "anno-1", model.RoleAnnotator)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrevRequiresItemID(t *testing.T) {
	f := newSiaFixture(t, false, 2)
	base := "/api/v1/sia/tasks/" + f.task.ID

	rec := f.do("GET", base+"/prev", "", "anno-1", model.RoleAnnotator)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinishAndProgress(t *testing.T) {
	f := newSiaFixture(t, false, 3)
	base := "/api/v1/sia/tasks/" + f.task.ID

	item := decodeItem(t, f.do("GET", base+"/next", "", "anno-1", model.RoleAnnotator))
	require.NotNil(t, item)
	rec := f.do("PUT", base+"/items/"+item.ID, `{"annotation":{"label":"cat"}}`, "anno-1", model.RoleAnnotator)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("POST", base+"/finish", "", "anno-1", model.RoleAnnotator)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", base+"/progress", "", "anno-1", model.RoleAnnotator)
	require.Equal(t, http.StatusOK, rec.Code)
	var p annotation.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.Accepted)
	assert.Equal(t, 2, p.Untouched)
	assert.Equal(t, 0, p.Locked)
}

func TestReviewFlow(t *testing.T) {
	f := newSiaFixture(t, true, 2)
	base := "/api/v1/sia/tasks/" + f.task.ID

	// 标注员提交两条，落在 annotated
	for i := 0; i < 2; i++ {
		item := decodeItem(t, f.do("GET", base+"/next", "", "anno-1", model.RoleAnnotator))
		require.NotNil(t, item)
		rec := f.do("PUT", base+"/items/"+item.ID, `{"annotation":{"label":"cat"}}`, "anno-1", model.RoleAnnotator)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// 待审清单只读
	rec := f.do("GET", base+"/review", "", "designer-1", model.RoleDesigner)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []*model.Item `json:"items"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, model.ItemStateAnnotated, list.Items[0].State)

	// 审核员看到待审动作
	rec = f.do("GET", base+"/review/options", "", "designer-1", model.RoleDesigner)
	require.Equal(t, http.StatusOK, rec.Code)
	var opts annotation.ReviewOptions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Equal(t, 2, opts.Pending)
	assert.True(t, opts.CanAccept)

	// 接受第一条
	first := decodeItem(t, f.do("GET", base+"/review/next", "", "designer-1", model.RoleDesigner))
	require.NotNil(t, first)
	assert.Equal(t, model.ItemStateInReview, first.State)

	rec = f.do("PUT", base+"/review/"+first.ID, `{"decision":"accept"}`, "designer-1", model.RoleDesigner)
	require.Equal(t, http.StatusOK, rec.Code)
	var decided model.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	assert.Equal(t, model.ItemStateAccepted, decided.State)

	// 拒绝第二条：必须带原因，条目退回待领池
	second := decodeItem(t, f.do("GET", base+"/review/next", "", "designer-1", model.RoleDesigner))
	require.NotNil(t, second)

	rec = f.do("PUT", base+"/review/"+second.ID, `{"decision":"reject"}`, "designer-1", model.RoleDesigner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("PUT", base+"/review/"+second.ID, `{"decision":"reject","reason":"wrong label"}`, "designer-1", model.RoleDesigner)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	assert.Equal(t, model.ItemStateInProgress, decided.State)
	require.NotNil(t, decided.RejectReason)
	assert.Equal(t, "wrong label", *decided.RejectReason)

	// 返工条目重新可领，拒绝原因随条目返回
	rework := decodeItem(t, f.do("GET", base+"/next", "", "anno-1", model.RoleAnnotator))
	require.NotNil(t, rework)
	assert.Equal(t, second.ID, rework.ID)

	// 过期决定：条目已回到 in_progress，再落决定冲突
	rec = f.do("PUT", base+"/review/"+second.ID, `{"decision":"accept"}`, "designer-1", model.RoleDesigner)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReviewDisabledConflicts(t *testing.T) {
	f := newSiaFixture(t, false, 1)
	base := "/api/v1/sia/tasks/" + f.task.ID

	rec := f.do("GET", base+"/review/next", "", "designer-1", model.RoleDesigner)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSiaRoleEnforcement(t *testing.T) {
	f := newSiaFixture(t, true, 1)
	base := "/api/v1/sia/tasks/" + f.task.ID

	// Designer 不能领标注条目，Annotator 不能审核
	assert.Equal(t, http.StatusForbidden, f.do("GET", base+"/next", "", "d", model.RoleDesigner).Code)
	assert.Equal(t, http.StatusForbidden, f.do("GET", base+"/review/next", "", "a", model.RoleAnnotator).Code)
}

func TestMediaDownload(t *testing.T) {
	f := newSiaFixture(t, false, 1)
	content := []byte("jpeg-bytes")
	f.files.Put("data/img-00.jpg", content)

	rec := f.do("GET", "/api/v1/sia/media/data/img-00.jpg", "", "anno-1", model.RoleAnnotator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())

	rec = f.do("GET", "/api/v1/sia/media/data/missing.jpg", "", "anno-1", model.RoleAnnotator)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
