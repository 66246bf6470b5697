// Package engine 流水线调度引擎
//
// 职责：
//   - 周期性 tick：推进所有 running 流水线
//   - 就绪判定：上游结果全部就绪的 pending 节点启动作业
//   - 进度轮询：running 节点的作业状态落库
//   - 完成判定：所有节点 finished 的流水线收尾
//
// 引擎是唯一写节点状态的地方，执行器只报告事实。paused 流水线
// 不在 running 列表里，自然被整个 tick 跳过。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"anno-admin/internal/pipeline/executor"
	"anno-admin/internal/pipeline/graph"
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	"anno-admin/pkg/logging"
)

// Engine 流水线调度引擎
type Engine struct {
	store    storage.PersistentStore
	registry *executor.Registry
	logger   *logging.Logger
	metrics  *Metrics
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New 创建调度引擎
func New(store storage.PersistentStore, registry *executor.Registry, interval time.Duration, metrics *Metrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default("engine")
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Engine{
		store:    store,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
	}
}

// Start 启动调度循环
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})

	e.wg.Add(1)
	go e.loop(e.stopCh)
	e.logger.Info("scheduler started", "interval", e.interval)
}

// Stop 停止调度循环，等当前 tick 结束
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("scheduler stopped")
}

func (e *Engine) loop(stopCh chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.interval*10)
			if err := e.Tick(ctx); err != nil {
				e.logger.Error("tick failed", "error", err)
			}
			cancel()
		}
	}
}

// Tick 推进一轮调度
//
// 单个流水线出错不中断其余流水线，错误聚合后返回。
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()

	pipes, err := e.store.ListPipesByState(ctx, model.PipeStateRunning)
	if err != nil {
		e.metrics.RecordTick(time.Since(start), 0, true)
		return err
	}

	var firstErr error
	for _, pipe := range pipes {
		if err := e.processPipe(ctx, pipe); err != nil {
			e.logger.WithPipeID(pipe.ID).Error("process pipe failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	e.metrics.RecordTick(time.Since(start), len(pipes), firstErr != nil)
	return firstErr
}

// processPipe 推进一条流水线
func (e *Engine) processPipe(ctx context.Context, pipe *model.Pipe) error {
	elements, err := e.store.ListElementsByPipe(ctx, pipe.ID)
	if err != nil {
		return err
	}
	results, err := e.store.ListResultsByPipe(ctx, pipe.ID)
	if err != nil {
		return err
	}
	links, err := e.store.ListResultLinksByPipe(ctx, pipe.ID)
	if err != nil {
		return err
	}
	view := graph.NewView(elements, results, links)

	for _, pe := range elements {
		switch pe.State {
		case model.ElementStatePending:
			if !view.Ready(pe.ID) {
				continue
			}
			if err := e.startElement(ctx, pe); err != nil {
				return err
			}
		case model.ElementStateRunning:
			if err := e.pollElement(ctx, pe, view); err != nil {
				return err
			}
		}
	}

	return e.finishIfDone(ctx, pipe)
}

// startElement 启动一个就绪的 pending 节点
//
// Start 返回的 ErrJobFailure 记录在节点上（等待显式 re-run），
// 其它错误视为基础设施故障，节点留在 pending 下个 tick 重试。
func (e *Engine) startElement(ctx context.Context, pe *model.PipeElement) error {
	log := e.logger.WithPipeID(pe.PipeID).WithElementID(pe.ID)

	exec, ok := e.registry.Get(pe.Type)
	if !ok {
		msg := fmt.Sprintf("no executor registered for element type %s", pe.Type)
		e.metrics.RecordElement(string(pe.Type), "error")
		return e.store.UpdateElementState(ctx, pe.ID, model.ElementStateError, &msg)
	}

	if err := exec.Start(ctx, pe); err != nil {
		if errors.Is(err, apperr.ErrJobFailure) {
			msg := err.Error()
			log.Error("element start failed", "error", err)
			e.metrics.RecordElement(string(pe.Type), "error")
			return e.store.UpdateElementState(ctx, pe.ID, model.ElementStateError, &msg)
		}
		log.Warn("element start deferred", "error", err)
		return nil
	}

	e.metrics.RecordElement(string(pe.Type), "started")
	log.Info("element started", "type", pe.Type)
	return e.store.UpdateElementState(ctx, pe.ID, model.ElementStateRunning, nil)
}

// pollElement 轮询一个 running 节点的作业
//
// Poll 的 error 是基础设施故障，留到下个 tick；作业失败通过
// Status.FailureMsg 报告并把节点转入 error。
func (e *Engine) pollElement(ctx context.Context, pe *model.PipeElement, view *graph.View) error {
	log := e.logger.WithPipeID(pe.PipeID).WithElementID(pe.ID)

	exec, ok := e.registry.Get(pe.Type)
	if !ok {
		msg := fmt.Sprintf("no executor registered for element type %s", pe.Type)
		return e.store.UpdateElementState(ctx, pe.ID, model.ElementStateError, &msg)
	}

	st, err := exec.Poll(ctx, pe)
	if err != nil {
		log.Warn("element poll failed", "error", err)
		return nil
	}

	if st.FailureMsg != "" {
		log.Error("element job failed", "reason", st.FailureMsg)
		e.metrics.RecordElement(string(pe.Type), "error")
		msg := st.FailureMsg
		return e.store.UpdateElementState(ctx, pe.ID, model.ElementStateError, &msg)
	}
	if !st.Done {
		return nil
	}

	if err := e.store.UpdateElementState(ctx, pe.ID, model.ElementStateFinished, nil); err != nil {
		return err
	}
	for _, resultID := range view.OutResults(pe.ID) {
		if err := e.store.MarkResultSatisfied(ctx, resultID); err != nil {
			return err
		}
	}
	e.metrics.RecordElement(string(pe.Type), "finished")
	e.metrics.RecordElementDuration(string(pe.Type), time.Since(pe.CreatedAt))
	log.Info("element finished", "type", pe.Type)
	return nil
}

// finishIfDone 全部节点完成后给流水线收尾
//
// 用 tick 尾部的新快照判定，刚在本 tick 里完成的节点也算数。
func (e *Engine) finishIfDone(ctx context.Context, pipe *model.Pipe) error {
	elements, err := e.store.ListElementsByPipe(ctx, pipe.ID)
	if err != nil {
		return err
	}
	for _, pe := range elements {
		if pe.State != model.ElementStateFinished {
			return nil
		}
	}

	if err := e.store.UpdatePipeState(ctx, pipe.ID, model.PipeStateFinished); err != nil {
		return err
	}
	e.logger.WithPipeID(pipe.ID).Info("pipe finished", "elements", len(elements))
	return nil
}

// RerunElement 重跑一个失败的节点
//
// 节点回到 pending、错误清空、产出结果复位，下个 tick 重新启动。
// 只有 error 态的节点可以重跑。
func (e *Engine) RerunElement(ctx context.Context, elementID string) error {
	pe, err := e.store.GetElement(ctx, elementID)
	if err != nil {
		return err
	}
	if pe == nil {
		return apperr.ErrNotFound
	}
	if pe.State != model.ElementStateError {
		return apperr.Conflictf("element %s is %s, only error elements can be re-run", elementID, pe.State)
	}

	links, err := e.store.ListResultLinksByPipe(ctx, pe.PipeID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.PeN != elementID {
			continue
		}
		if err := e.store.ResetResult(ctx, l.ResultID); err != nil {
			return err
		}
	}

	if err := e.store.UpdateElementState(ctx, elementID, model.ElementStatePending, nil); err != nil {
		return err
	}
	e.logger.ElementLog("element_rerun", pe.PipeID, elementID)
	return nil
}
