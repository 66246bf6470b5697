// Package pipe 流水线接口测试
package pipe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"anno-admin/internal/pipeline/engine"
	"anno-admin/internal/pipeline/executor"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage/repository"
	sqlitedriver "anno-admin/internal/shared/storage/driver/sqlite"
	pkgauth "anno-admin/pkg/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T) (*http.ServeMux, *repository.Store) {
	t.Helper()

	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	eng := engine.New(store, executor.NewRegistry(), time.Second, nil, nil)
	mux := http.NewServeMux()
	NewHandler(store, eng).RegisterRoutes(mux)
	return mux, store
}

// doAs 以指定角色发请求
func doAs(mux *http.ServeMux, method, path, body string, roles ...model.Role) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	user := &pkgauth.AuthUser{ID: "designer-1", Username: "designer", Roles: roles}
	req = req.WithContext(pkgauth.WithAuthUser(req.Context(), user))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

const linearPipeBody = `{
	"name": "dogs-v1",
	"elements": [
		{"ref": "label", "type": "anno_task",
		 "spec": {"name": "label dogs", "source_prefix": "datasets/dogs/", "review_enabled": true},
		 "outputs": ["export"]},
		{"ref": "export", "type": "data_export"}
	]
}`

func TestCreatePipe(t *testing.T) {
	mux, store := newTestMux(t)

	rec := doAs(mux, "POST", "/api/v1/pipes", linearPipeBody, model.RoleDesigner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Pipe    *model.Pipe       `json:"pipe"`
		RefToID map[string]string `json:"ref_to_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.PipeStateCreated, resp.Pipe.State)
	assert.Equal(t, "designer-1", resp.Pipe.OwnerID)

	ctx := context.Background()
	elements, err := store.ListElementsByPipe(ctx, resp.Pipe.ID)
	require.NoError(t, err)
	assert.Len(t, elements, 2)

	// anno_task 节点带出对应的任务行
	task, err := store.GetAnnoTaskByElement(ctx, resp.RefToID["label"])
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "label dogs", task.Name)
	assert.Equal(t, "datasets/dogs/", task.SourcePrefix)
	assert.True(t, task.ReviewEnabled)

	links, err := store.ListResultLinksByPipe(ctx, resp.Pipe.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2) // label→export 一条 + export 的 sink 一条
}

func TestCreatePipeRejectsBadDefs(t *testing.T) {
	mux, _ := newTestMux(t)

	tests := []struct {
		name string
		body string
	}{
		{"cycle", `{"name":"c","elements":[
			{"ref":"a","type":"script","spec":{"path":"/s.py"},"outputs":["b"]},
			{"ref":"b","type":"script","spec":{"path":"/s.py"},"outputs":["a"]}]}`},
		{"dangling output", `{"name":"d","elements":[
			{"ref":"a","type":"script","spec":{"path":"/s.py"},"outputs":["ghost"]}]}`},
		{"anno task without spec", `{"name":"m","elements":[
			{"ref":"a","type":"anno_task"}]}`},
		{"empty", `{"name":"e","elements":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doAs(mux, "POST", "/api/v1/pipes", tt.body, model.RoleDesigner)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPipeLifecycle(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doAs(mux, "POST", "/api/v1/pipes", linearPipeBody, model.RoleDesigner)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Pipe *model.Pipe `json:"pipe"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	base := "/api/v1/pipes/" + resp.Pipe.ID

	// created 状态不能 pause
	assert.Equal(t, http.StatusConflict, doAs(mux, "POST", base+"/pause", "", model.RoleDesigner).Code)

	assert.Equal(t, http.StatusOK, doAs(mux, "POST", base+"/start", "", model.RoleDesigner).Code)
	// 重复 start 冲突
	assert.Equal(t, http.StatusConflict, doAs(mux, "POST", base+"/start", "", model.RoleDesigner).Code)

	// running 不能直接删
	assert.Equal(t, http.StatusConflict, doAs(mux, "DELETE", base, "", model.RoleDesigner).Code)

	assert.Equal(t, http.StatusOK, doAs(mux, "POST", base+"/pause", "", model.RoleDesigner).Code)
	assert.Equal(t, http.StatusOK, doAs(mux, "POST", base+"/resume", "", model.RoleDesigner).Code)
	assert.Equal(t, http.StatusOK, doAs(mux, "POST", base+"/pause", "", model.RoleDesigner).Code)

	assert.Equal(t, http.StatusOK, doAs(mux, "DELETE", base, "", model.RoleDesigner).Code)
	assert.Equal(t, http.StatusNotFound, doAs(mux, "GET", base, "", model.RoleDesigner).Code)
}

func TestPipeRoutesRequireDesigner(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doAs(mux, "POST", "/api/v1/pipes", linearPipeBody, model.RoleAnnotator)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRerunElementEndpoint(t *testing.T) {
	mux, store := newTestMux(t)

	rec := doAs(mux, "POST", "/api/v1/pipes", linearPipeBody, model.RoleDesigner)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Pipe    *model.Pipe       `json:"pipe"`
		RefToID map[string]string `json:"ref_to_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	elementID := resp.RefToID["export"]

	// pending 节点不能 re-run
	assert.Equal(t, http.StatusConflict,
		doAs(mux, "POST", "/api/v1/elements/"+elementID+"/rerun", "", model.RoleDesigner).Code)

	msg := "boom"
	require.NoError(t, store.UpdateElementState(context.Background(), elementID, model.ElementStateError, &msg))
	assert.Equal(t, http.StatusOK,
		doAs(mux, "POST", "/api/v1/elements/"+elementID+"/rerun", "", model.RoleDesigner).Code)

	pe, err := store.GetElement(context.Background(), elementID)
	require.NoError(t, err)
	assert.Equal(t, model.ElementStatePending, pe.State)
}
