// Package worker 集群会话管理测试
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"anno-admin/internal/annotation"
	"anno-admin/internal/config"
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/cache"
	"anno-admin/internal/shared/model"
	sqlitedriver "anno-admin/internal/shared/storage/driver/sqlite"
	"anno-admin/internal/shared/storage/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster 不碰 Docker daemon 的集群实现
type fakeCluster struct {
	mu           sync.Mutex
	provisioned  map[string]string // userID -> 容器引用
	torndown     map[string]bool   // 容器引用 -> 已回收
	jobRunning   bool
	jobExitCode  int
	provisionErr error
	n            int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		provisioned: make(map[string]string),
		torndown:    make(map[string]bool),
	}
}

func (f *fakeCluster) Provision(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	if id, ok := f.provisioned[userID]; ok && !f.torndown[id] {
		return id, nil
	}
	f.n++
	id := fmt.Sprintf("ctr-%s-%d", userID, f.n)
	f.provisioned[userID] = id
	return id, nil
}

func (f *fakeCluster) Teardown(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torndown[containerID] = true
	return nil
}

func (f *fakeCluster) StartJob(ctx context.Context, containerID string, cmd []string, env []string) (string, error) {
	return "exec-" + containerID, nil
}

func (f *fakeCluster) JobStatus(ctx context.Context, containerID string, jobRef string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobRunning, f.jobExitCode, nil
}

type managerFixture struct {
	store   *repository.Store
	cache   *cache.MemoryCache
	cluster *fakeCluster
	ledger  *annotation.Ledger
	mgr     *Manager
	taskID  string
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	now := time.Now().Truncate(time.Second)
	pipe := &model.Pipe{ID: "pipe-1", Name: "p", OwnerID: "designer", State: model.PipeStateRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreatePipe(ctx, pipe))
	pe := &model.PipeElement{ID: "pe-1", PipeID: pipe.ID, Type: model.ElementTypeAnnoTask, State: model.ElementStateRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateElement(ctx, pe))
	task := &model.AnnoTask{ID: "at-1", ElementID: pe.ID, Name: "label", State: model.AnnoTaskStateInProgress, SourcePrefix: "d/", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateAnnoTask(ctx, task))
	items := []*model.Item{
		{ID: "item-1", AnnoTaskID: task.ID, Seq: 0, MediaPath: "d/a.jpg", State: model.ItemStateUntouched},
		{ID: "item-2", AnnoTaskID: task.ID, Seq: 1, MediaPath: "d/b.jpg", State: model.ItemStateUntouched},
	}
	require.NoError(t, store.CreateItems(ctx, items))

	mem := cache.NewMemoryCache()
	cluster := newFakeCluster()
	ledger := annotation.NewLedger(store, nil)
	n := 0
	mgr := NewManager(store, mem, cluster, ledger, config.WorkerConfig{
		Image:            "anno-worker:latest",
		HeartbeatTimeout: 100 * time.Millisecond,
		SweepInterval:    20 * time.Millisecond,
	}, func(prefix string) string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}, nil)

	return &managerFixture{store: store, cache: mem, cluster: cluster, ledger: ledger, mgr: mgr, taskID: task.ID}
}

func TestEnsureSessionIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ws1, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerStateActive, ws1.State)
	require.NotNil(t, ws1.ContainerID)

	// 重复登录复用同一会话和容器
	ws2, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)
	assert.Equal(t, ws1.ID, ws2.ID)
	assert.Equal(t, *ws1.ContainerID, *ws2.ContainerID)

	// 心跳写了缓存和库
	status, err := f.cache.GetSessionHeartbeat(ctx, "anno")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, ws1.ID, status.WorkerSessionID)

	got, _ := f.store.GetWorkerSessionByUser(ctx, "anno")
	assert.NotNil(t, got.LastHeartbeat)

	online, err := f.mgr.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"anno"}, online)
}

func TestEnsureSessionProvisionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cluster.provisionErr = errors.New("no capacity left")
	_, err := f.mgr.EnsureSession(ctx, "anno")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrResourceExhausted))

	// 供给失败后重试可以成功，会话记录被复用
	f.cluster.provisionErr = nil
	ws, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerStateActive, ws.State)
}

func TestSubmitJobRequiresLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SubmitJob(ctx, "ghost", []string{"/scripts/x.py"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no live worker session")

	ws, err := f.mgr.EnsureSession(ctx, "designer")
	require.NoError(t, err)

	jobRef, err := f.mgr.SubmitJob(ctx, "designer", []string{"/scripts/x.py"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "exec-"+*ws.ContainerID, jobRef)

	f.cluster.jobRunning = true
	running, _, err := f.mgr.JobStatus(ctx, "designer", jobRef)
	require.NoError(t, err)
	assert.True(t, running)
}

func TestCloseSessionReleasesLeasesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)

	item, err := f.ledger.NextItem(ctx, f.taskID, "anno")
	require.NoError(t, err)
	require.NotNil(t, item)

	require.NoError(t, f.mgr.CloseSession(ctx, "anno"))

	// 租约释放、容器回收、会话终止、心跳键删除
	got, _ := f.store.GetItem(ctx, item.ID)
	assert.Nil(t, got.LockedBy)

	ws, _ := f.store.GetWorkerSessionByUser(ctx, "anno")
	assert.Nil(t, ws) // 非 terminated 的会话不存在了

	assert.Len(t, f.cluster.torndown, 1)

	status, err := f.cache.GetSessionHeartbeat(ctx, "anno")
	require.NoError(t, err)
	assert.Nil(t, status)

	// 重复登出无害
	require.NoError(t, f.mgr.CloseSession(ctx, "anno"))
}

func TestSweepReclaimsExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)
	item, err := f.ledger.NextItem(ctx, f.taskID, "anno")
	require.NoError(t, err)

	// 模拟浏览器消失：缓存键过期、库里心跳陈旧
	require.NoError(t, f.cache.DeleteSessionHeartbeat(ctx, "anno"))
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, f.mgr.Sweep(ctx))

	got, _ := f.store.GetItem(ctx, item.ID)
	assert.Nil(t, got.LockedBy)
	// 进度不丢：条目仍是 in_progress，换人可以接着做
	assert.Equal(t, model.ItemStateInProgress, got.State)

	ws, _ := f.store.GetWorkerSessionByUser(ctx, "anno")
	assert.Nil(t, ws)
	assert.Len(t, f.cluster.torndown, 1)
}

func TestSweepReleasesOrphanLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)
	require.NoError(t, f.mgr.CloseSession(ctx, "anno"))

	// 登出前已通过鉴权的在途领取落在 ReleaseAll 之后：
	// 已离线的用户又拿到了租约
	item, err := f.ledger.NextItem(ctx, f.taskID, "anno")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.NotNil(t, item.LockedBy)

	// 会话已 terminated，不在过期列表里；孤儿租约由清扫兜底收回
	require.NoError(t, f.mgr.Sweep(ctx))

	got, _ := f.store.GetItem(ctx, item.ID)
	assert.Nil(t, got.LockedBy)
	assert.Equal(t, model.ItemStateInProgress, got.State)

	// 换人可以接着领同一条目
	_, err = f.mgr.EnsureSession(ctx, "anno2")
	require.NoError(t, err)
	next, err := f.ledger.NextItem(ctx, f.taskID, "anno2")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, item.ID, next.ID)
	require.NotNil(t, next.LockedBy)
	assert.Equal(t, "anno2", *next.LockedBy)
}

func TestSweepSkipsCacheAliveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ws, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)

	// 库里心跳陈旧但缓存键还活着：只补写心跳，不回收
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, f.cache.UpdateSessionHeartbeat(ctx, "anno", &cache.SessionStatus{
		WorkerSessionID: ws.ID, State: string(ws.State), UpdatedAt: time.Now(),
	}))

	require.NoError(t, f.mgr.Sweep(ctx))

	got, _ := f.store.GetWorkerSessionByUser(ctx, "anno")
	require.NotNil(t, got)
	assert.Equal(t, model.WorkerStateActive, got.State)
	assert.Empty(t, f.cluster.torndown)
}

func TestSweeperLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.EnsureSession(ctx, "anno")
	require.NoError(t, err)
	require.NoError(t, f.cache.DeleteSessionHeartbeat(ctx, "anno"))

	f.mgr.StartSweeper()
	defer f.mgr.StopSweeper()

	assert.Eventually(t, func() bool {
		ws, err := f.store.GetWorkerSessionByUser(ctx, "anno")
		return err == nil && ws == nil
	}, 5*time.Second, 20*time.Millisecond)
}
