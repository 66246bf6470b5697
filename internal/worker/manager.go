// Package worker 工作集群会话生命周期管理
//
// 职责：
//   - 登录时供给用户的专属集群（幂等）
//   - 心跳：缓存快路径 + 落库，由清扫器对账
//   - 登出/过期回收：先释放条目租约，再回收容器
//   - 给调度引擎提供脚本作业的提交与查询口子
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anno-admin/internal/annotation"
	"anno-admin/internal/config"
	"anno-admin/internal/pipeline/executor"
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/cache"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	"anno-admin/pkg/logging"
)

// Manager 工作集群会话管理器
type Manager struct {
	store   storage.PersistentStore
	cache   cache.Cache
	cluster Cluster
	ledger  *annotation.Ledger
	logger  *logging.Logger
	genID   func(prefix string) string

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// 调度引擎通过这个口子往用户集群投脚本作业
var _ executor.ClusterJobs = (*Manager)(nil)

// NewManager 创建集群会话管理器
func NewManager(store storage.PersistentStore, c cache.Cache, cluster Cluster, ledger *annotation.Ledger, cfg config.WorkerConfig, genID func(string) string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default("worker")
	}
	return &Manager{
		store:            store,
		cache:            c,
		cluster:          cluster,
		ledger:           ledger,
		logger:           logger,
		genID:            genID,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		sweepInterval:    cfg.SweepInterval,
	}
}

// ============================================================================
// 会话生命周期
// ============================================================================

// EnsureSession 确保用户有一个存活的集群会话
//
// 幂等：已有存活会话时只校验容器仍在运行（必要时拉起），
// 不重复建会话。登录即调用。
func (m *Manager) EnsureSession(ctx context.Context, userID string) (*model.WorkerSession, error) {
	ws, err := m.store.GetWorkerSessionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if ws == nil {
		now := time.Now()
		ws = &model.WorkerSession{
			ID:        m.genID("ws"),
			UserID:    userID,
			State:     model.WorkerStateProvisioning,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.store.CreateWorkerSession(ctx, ws); err != nil {
			return nil, err
		}
	}

	// 供给失败只影响这次申请的会话，不波及其他用户
	containerID, err := m.cluster.Provision(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: provision cluster for %s: %v", apperr.ErrResourceExhausted, userID, err)
	}
	if ws.ContainerID == nil || *ws.ContainerID != containerID {
		if err := m.store.UpdateWorkerSessionContainer(ctx, ws.ID, containerID); err != nil {
			return nil, err
		}
		ws.ContainerID = &containerID
	}
	if ws.State != model.WorkerStateActive {
		if err := m.store.UpdateWorkerSessionState(ctx, ws.ID, model.WorkerStateActive); err != nil {
			return nil, err
		}
		ws.State = model.WorkerStateActive
		sessionsProvisionedTotal.Inc()
		sessionsLive.Inc()
	}

	if err := m.Heartbeat(ctx, userID); err != nil {
		return nil, err
	}
	m.logger.WithUserID(userID).Info("worker session ready", "session_id", ws.ID, "container", containerID)
	return ws, nil
}

// Heartbeat 刷新用户会话心跳
//
// 缓存是快路径（TTL 键，存在即在线），同时落库供清扫器对账。
func (m *Manager) Heartbeat(ctx context.Context, userID string) error {
	ws, err := m.store.GetWorkerSessionByUser(ctx, userID)
	if err != nil {
		return err
	}
	if ws == nil {
		return apperr.ErrNotFound
	}

	now := time.Now()
	status := &cache.SessionStatus{
		WorkerSessionID: ws.ID,
		State:           string(ws.State),
		UpdatedAt:       now,
	}
	if err := m.cache.UpdateSessionHeartbeat(ctx, userID, status); err != nil {
		return err
	}
	return m.store.UpdateWorkerHeartbeat(ctx, ws.ID, now)
}

// CloseSession 回收用户的集群会话
//
// 顺序是硬约束：先释放条目租约，再回收容器——容器没了租约还在
// 会饿死条目。没有存活会话时是无害的空操作（重复登出）。
func (m *Manager) CloseSession(ctx context.Context, userID string) error {
	released, err := m.ledger.ReleaseAll(ctx, userID)
	if err != nil {
		return err
	}

	if err := m.cache.DeleteSessionHeartbeat(ctx, userID); err != nil {
		m.logger.WithUserID(userID).Warn("delete heartbeat key failed", "error", err)
	}

	ws, err := m.store.GetWorkerSessionByUser(ctx, userID)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}

	if ws.ContainerID != nil {
		if err := m.cluster.Teardown(ctx, *ws.ContainerID); err != nil {
			return fmt.Errorf("teardown cluster of %s: %w", userID, err)
		}
	}
	if err := m.store.UpdateWorkerSessionState(ctx, ws.ID, model.WorkerStateTerminated); err != nil {
		return err
	}
	if ws.IsLive() {
		sessionsReclaimedTotal.Inc()
		sessionsLive.Dec()
	}
	m.logger.WithUserID(userID).Info("worker session closed", "session_id", ws.ID, "leases_released", released)
	return nil
}

// OnlineUsers 列出当前在线用户
func (m *Manager) OnlineUsers(ctx context.Context) ([]string, error) {
	return m.cache.ListOnlineUsers(ctx)
}

// ============================================================================
// 脚本作业口子（executor.ClusterJobs）
// ============================================================================

// SubmitJob 在用户的集群上启动脚本作业
func (m *Manager) SubmitJob(ctx context.Context, userID string, cmd []string, env []string) (string, error) {
	containerID, err := m.liveContainer(ctx, userID)
	if err != nil {
		return "", err
	}
	return m.cluster.StartJob(ctx, containerID, cmd, env)
}

// JobStatus 查询用户集群上的作业状态
func (m *Manager) JobStatus(ctx context.Context, userID string, jobRef string) (bool, int, error) {
	containerID, err := m.liveContainer(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return m.cluster.JobStatus(ctx, containerID, jobRef)
}

// liveContainer 找用户存活会话的容器引用
func (m *Manager) liveContainer(ctx context.Context, userID string) (string, error) {
	ws, err := m.store.GetWorkerSessionByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if ws == nil || !ws.IsLive() || ws.ContainerID == nil {
		return "", fmt.Errorf("no live worker session for user %s", userID)
	}
	return *ws.ContainerID, nil
}

// ============================================================================
// 清扫器
// ============================================================================

// StartSweeper 启动过期会话清扫循环
func (m *Manager) StartSweeper() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.sweepLoop(m.stopCh)
	m.logger.Info("session sweeper started", "interval", m.sweepInterval, "timeout", m.heartbeatTimeout)
}

// StopSweeper 停止清扫循环
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("session sweeper stopped")
}

func (m *Manager) sweepLoop(stopCh chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.sweepInterval*5)
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// Sweep 回收心跳过期的会话
//
// 库里过期但缓存键还活着的会话只是落库滞后，补写心跳放过；
// 两边都死的才真回收。收尾再做一轮孤儿租约回收：登出回收
// （CloseSession）和领取（NextItem）没有共同的互斥，竞态窗口里
// 在途领取可能给已回收的用户落下租约，持有人会话已 terminated、
// 不会再出现在过期列表里，由这一步统一收回。
func (m *Manager) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-m.heartbeatTimeout)
	stale, err := m.store.ListStaleWorkerSessions(ctx, cutoff)
	if err != nil {
		return err
	}

	var firstErr error
	for _, ws := range stale {
		status, err := m.cache.GetSessionHeartbeat(ctx, ws.UserID)
		if err == nil && status != nil {
			if err := m.store.UpdateWorkerHeartbeat(ctx, ws.ID, status.UpdatedAt); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		m.logger.WithUserID(ws.UserID).Info("reclaiming expired session", "session_id", ws.ID)
		if err := m.CloseSession(ctx, ws.UserID); err != nil {
			m.logger.WithUserID(ws.UserID).Error("reclaim failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	orphaned, err := m.store.ReleaseOrphanItemLocks(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if orphaned > 0 {
		m.logger.Info("released orphan item leases", "count", orphaned)
	}
	return firstErr
}
