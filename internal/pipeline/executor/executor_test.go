// Package executor 执行器测试
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"anno-admin/internal/annotation"
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/objstore"
	"anno-admin/internal/shared/storage/repository"
	sqlitedriver "anno-admin/internal/shared/storage/driver/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testIDGen 可预测 ID
func testIDGen() func(string) string {
	n := 0
	return func(prefix string) string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// newTestStore 内存库 + 一条 running 流水线
func newTestStore(t *testing.T) (*repository.Store, *model.Pipe) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	now := time.Now().Truncate(time.Second)
	pipe := &model.Pipe{ID: "pipe-x", Name: "x", OwnerID: "designer", State: model.PipeStateRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreatePipe(ctx, pipe))
	return store, pipe
}

func newElement(t *testing.T, store *repository.Store, pipeID string, typ model.ElementType, spec string) *model.PipeElement {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	pe := &model.PipeElement{
		ID: "pe-" + string(typ), PipeID: pipeID, Type: typ, State: model.ElementStatePending,
		CreatedAt: now, UpdatedAt: now,
	}
	if spec != "" {
		pe.Spec = json.RawMessage(spec)
	}
	require.NoError(t, store.CreateElement(context.Background(), pe))
	return pe
}

// ============================================================================
// 脚本执行器
// ============================================================================

// fakeCluster 可编排的 ClusterJobs 实现
type fakeCluster struct {
	submitErr error
	running   bool
	exitCode  int
	lastCmd   []string
	lastUser  string
}

func (f *fakeCluster) SubmitJob(ctx context.Context, userID string, cmd []string, env []string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.lastUser = userID
	f.lastCmd = cmd
	return "exec-123", nil
}

func (f *fakeCluster) JobStatus(ctx context.Context, userID string, jobRef string) (bool, int, error) {
	return f.running, f.exitCode, nil
}

func TestBuildCmdStable(t *testing.T) {
	spec := &model.ScriptSpec{
		Path: "/scripts/train.py",
		Args: map[string]string{"epochs": "10", "batch": "32"},
	}
	// Args 按键名排序
	assert.Equal(t, []string{"/scripts/train.py", "--batch", "32", "--epochs", "10"}, buildCmd(spec))
}

func TestScriptExecutorLifecycle(t *testing.T) {
	store, pipe := newTestStore(t)
	cluster := &fakeCluster{running: true}
	exec := NewScriptExecutor(store, cluster, nil)
	ctx := context.Background()

	pe := newElement(t, store, pipe.ID, model.ElementTypeScript, `{"path":"/scripts/gen.py","args":{"n":"5"}}`)

	// 提交到所有者的集群
	require.NoError(t, exec.Start(ctx, pe))
	assert.Equal(t, "designer", cluster.lastUser)
	assert.Equal(t, []string{"/scripts/gen.py", "--n", "5"}, cluster.lastCmd)

	got, _ := store.GetElement(ctx, pe.ID)
	require.NotNil(t, got.JobRef)
	assert.Equal(t, "exec-123", *got.JobRef)

	// 运行中
	st, err := exec.Poll(ctx, got)
	require.NoError(t, err)
	assert.False(t, st.Done)
	assert.Empty(t, st.FailureMsg)

	// 正常退出
	cluster.running = false
	cluster.exitCode = 0
	st, err = exec.Poll(ctx, got)
	require.NoError(t, err)
	assert.True(t, st.Done)

	// 非零退出是作业失败，不是基础设施错误
	cluster.exitCode = 2
	st, err = exec.Poll(ctx, got)
	require.NoError(t, err)
	assert.False(t, st.Done)
	assert.Contains(t, st.FailureMsg, "code 2")
}

func TestScriptExecutorClusterUnavailable(t *testing.T) {
	store, pipe := newTestStore(t)
	cluster := &fakeCluster{submitErr: errors.New("no live worker session")}
	exec := NewScriptExecutor(store, cluster, nil)

	pe := newElement(t, store, pipe.ID, model.ElementTypeScript, `{"path":"/scripts/gen.py"}`)
	err := exec.Start(context.Background(), pe)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrJobFailure))
}

func TestScriptExecutorBadSpec(t *testing.T) {
	store, pipe := newTestStore(t)
	exec := NewScriptExecutor(store, &fakeCluster{}, nil)

	pe := newElement(t, store, pipe.ID, model.ElementTypeScript, `{"path":""}`)
	err := exec.Start(context.Background(), pe)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrJobFailure))
}

// ============================================================================
// 标注任务执行器
// ============================================================================

func newAnnoTaskFixture(t *testing.T, store *repository.Store, pipeID string, reviewEnabled bool) (*model.PipeElement, *model.AnnoTask) {
	t.Helper()
	pe := newElement(t, store, pipeID, model.ElementTypeAnnoTask, "")
	now := time.Now().Truncate(time.Second)
	task := &model.AnnoTask{
		ID: "at-x", ElementID: pe.ID, Name: "label", State: model.AnnoTaskStatePending,
		SourcePrefix: "datasets/dogs/", ReviewEnabled: reviewEnabled, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateAnnoTask(context.Background(), task))
	return pe, task
}

func TestAnnoTaskExecutorMaterializes(t *testing.T) {
	store, pipe := newTestStore(t)
	files := objstore.NewMemoryStore()
	files.Put("datasets/dogs/b.jpg", []byte("b"))
	files.Put("datasets/dogs/a.jpg", []byte("a"))
	files.Put("datasets/cats/z.jpg", []byte("z")) // 前缀之外

	ledger := annotation.NewLedger(store, nil)
	exec := NewAnnoTaskExecutor(store, files, ledger, testIDGen(), nil)
	ctx := context.Background()

	pe, task := newAnnoTaskFixture(t, store, pipe.ID, false)
	require.NoError(t, exec.Start(ctx, pe))

	items, err := store.ListItemsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// 物化顺序按键名升序
	assert.Equal(t, "datasets/dogs/a.jpg", items[0].MediaPath)
	assert.Equal(t, "datasets/dogs/b.jpg", items[1].MediaPath)

	gotTask, _ := store.GetAnnoTask(ctx, task.ID)
	assert.True(t, gotTask.IsOpen())

	// 幂等：重复 Start 不重复物化
	require.NoError(t, exec.Start(ctx, pe))
	items, _ = store.ListItemsByTask(ctx, task.ID)
	assert.Len(t, items, 2)
}

func TestAnnoTaskExecutorEmptyPrefix(t *testing.T) {
	store, pipe := newTestStore(t)
	ledger := annotation.NewLedger(store, nil)
	exec := NewAnnoTaskExecutor(store, objstore.NewMemoryStore(), ledger, testIDGen(), nil)

	pe, _ := newAnnoTaskFixture(t, store, pipe.ID, false)
	err := exec.Start(context.Background(), pe)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrJobFailure))
}

func TestAnnoTaskExecutorCompletion(t *testing.T) {
	store, pipe := newTestStore(t)
	files := objstore.NewMemoryStore()
	files.Put("datasets/dogs/a.jpg", []byte("a"))

	ledger := annotation.NewLedger(store, nil)
	exec := NewAnnoTaskExecutor(store, files, ledger, testIDGen(), nil)
	ctx := context.Background()

	pe, task := newAnnoTaskFixture(t, store, pipe.ID, false)
	require.NoError(t, exec.Start(ctx, pe))

	st, err := exec.Poll(ctx, pe)
	require.NoError(t, err)
	assert.False(t, st.Done)

	// 标注完最后一个条目后节点完成、任务关闭
	item, err := ledger.NextItem(ctx, task.ID, "anno")
	require.NoError(t, err)
	_, err = ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{"label":"dog"}`))
	require.NoError(t, err)

	st, err = exec.Poll(ctx, pe)
	require.NoError(t, err)
	assert.True(t, st.Done)

	gotTask, _ := store.GetAnnoTask(ctx, task.ID)
	assert.Equal(t, model.AnnoTaskStateFinished, gotTask.State)
}

// ============================================================================
// 导出执行器
// ============================================================================

func TestExportExecutorWritesAcceptedItems(t *testing.T) {
	store, pipe := newTestStore(t)
	files := objstore.NewMemoryStore()
	files.Put("datasets/dogs/a.jpg", []byte("a"))
	files.Put("datasets/dogs/b.jpg", []byte("b"))

	ledger := annotation.NewLedger(store, nil)
	annoExec := NewAnnoTaskExecutor(store, files, ledger, testIDGen(), nil)
	ctx := context.Background()

	annoPE, task := newAnnoTaskFixture(t, store, pipe.ID, false)
	require.NoError(t, annoExec.Start(ctx, annoPE))

	// 标注一个条目，另一个留着
	item, _ := ledger.NextItem(ctx, task.ID, "anno")
	_, err := ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{"label":"dog"}`))
	require.NoError(t, err)

	exportPE := newElement(t, store, pipe.ID, model.ElementTypeDataExport, `{"key":"exports/run1.jsonl"}`)
	exec := NewExportExecutor(store, files, nil)
	require.NoError(t, exec.Start(ctx, exportPE))

	// 等后台作业完成
	var st *Status
	require.Eventually(t, func() bool {
		st, err = exec.Poll(ctx, exportPE)
		require.NoError(t, err)
		return st.Done
	}, 5*time.Second, 10*time.Millisecond)

	got, _ := store.GetElement(ctx, exportPE.ID)
	require.NotNil(t, got.JobRef)
	assert.Equal(t, "exports/run1.jsonl", *got.JobRef)

	rc, err := files.Download(ctx, "exports/run1.jsonl")
	require.NoError(t, err)
	defer rc.Close()

	dec := json.NewDecoder(rc)
	var recs []exportRecord
	for dec.More() {
		var rec exportRecord
		require.NoError(t, dec.Decode(&rec))
		recs = append(recs, rec)
	}
	// 只导出终止接受的条目
	require.Len(t, recs, 1)
	assert.Equal(t, item.ID, recs[0].ItemID)
	assert.JSONEq(t, `{"label":"dog"}`, string(recs[0].Annotation))
}

func TestExportExecutorRestartRecovery(t *testing.T) {
	store, pipe := newTestStore(t)
	files := objstore.NewMemoryStore()
	exec := NewExportExecutor(store, files, nil)
	ctx := context.Background()

	pe := newElement(t, store, pipe.ID, model.ElementTypeDataExport, "")
	require.NoError(t, store.UpdateElementState(ctx, pe.ID, model.ElementStateRunning, nil))

	// 作业表为空（进程重启）：Poll 重新启动导出而不是报错
	st, err := exec.Poll(ctx, pe)
	require.NoError(t, err)
	assert.False(t, st.Done)

	require.Eventually(t, func() bool {
		st, err = exec.Poll(ctx, pe)
		require.NoError(t, err)
		return st.Done
	}, 5*time.Second, 10*time.Millisecond)

	exists, err := files.Exists(ctx, "exports/"+pe.ID+".jsonl")
	require.NoError(t, err)
	assert.True(t, exists)
}
