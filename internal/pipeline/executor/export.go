// Package executor 数据导出节点执行器
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/objstore"
	"anno-admin/internal/shared/storage"
	"anno-admin/pkg/logging"
)

// exportRecord 导出文件中的一行
type exportRecord struct {
	AnnoTaskID string          `json:"anno_task_id"`
	ItemID     string          `json:"item_id"`
	MediaPath  string          `json:"media_path"`
	State      model.ItemState `json:"state"`
	Annotation json.RawMessage `json:"annotation,omitempty"`
}

// exportJob 进行中的导出作业
type exportJob struct {
	done chan struct{}
	err  error
}

// ExportExecutor 数据导出节点执行器
//
// 导出在后台 goroutine 里执行：收集流水线内所有标注任务的
// 终止接受条目，打包为 JSON Lines 写入对象存储。作业表是
// 进程内状态；进程重启后 Poll 发现作业丢失会重新启动导出
// （导出是幂等的覆盖写）。
type ExportExecutor struct {
	store  storage.PersistentStore
	files  objstore.FileAccess
	logger *logging.Logger

	mu   sync.Mutex
	jobs map[string]*exportJob // elementID -> 作业
}

// NewExportExecutor 创建导出执行器
func NewExportExecutor(store storage.PersistentStore, files objstore.FileAccess, logger *logging.Logger) *ExportExecutor {
	if logger == nil {
		logger = logging.Default("executor.export")
	}
	return &ExportExecutor{
		store:  store,
		files:  files,
		logger: logger,
		jobs:   make(map[string]*exportJob),
	}
}

func (e *ExportExecutor) Type() model.ElementType {
	return model.ElementTypeDataExport
}

// exportKey 确定导出对象的键
func exportKey(pe *model.PipeElement) (string, error) {
	spec, err := pe.ExportSpec()
	if err != nil {
		return "", err
	}
	if spec.Key != "" {
		return spec.Key, nil
	}
	return fmt.Sprintf("exports/%s.jsonl", pe.ID), nil
}

// Start 启动后台导出作业
func (e *ExportExecutor) Start(ctx context.Context, pe *model.PipeElement) error {
	key, err := exportKey(pe)
	if err != nil {
		return err
	}
	if err := e.store.UpdateElementJobRef(ctx, pe.ID, key); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.jobs[pe.ID]; running {
		return nil
	}
	job := &exportJob{done: make(chan struct{})}
	e.jobs[pe.ID] = job

	pipeID := pe.PipeID
	elementID := pe.ID
	go func() {
		// 作业有自己的超时预算，不随触发它的请求终止
		jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		job.err = e.runExport(jobCtx, pipeID, key)
		close(job.done)
	}()
	e.logger.ElementLog("export_started", pipeID, elementID, "key", key)
	return nil
}

// runExport 收集并写出导出文件
func (e *ExportExecutor) runExport(ctx context.Context, pipeID, key string) error {
	elements, err := e.store.ListElementsByPipe(ctx, pipeID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, pe := range elements {
		if pe.Type != model.ElementTypeAnnoTask {
			continue
		}
		task, err := e.store.GetAnnoTaskByElement(ctx, pe.ID)
		if err != nil {
			return err
		}
		if task == nil {
			continue
		}
		items, err := e.store.ListItemsByTask(ctx, task.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if !item.IsTerminal(task.ReviewEnabled) {
				continue
			}
			rec := exportRecord{
				AnnoTaskID: task.ID,
				ItemID:     item.ID,
				MediaPath:  item.MediaPath,
				State:      item.State,
				Annotation: item.Annotation,
			}
			if err := enc.Encode(&rec); err != nil {
				return err
			}
		}
	}

	return e.files.Upload(ctx, key, &buf, int64(buf.Len()), "application/x-ndjson")
}

// Poll 查询导出作业状态
//
// 进程重启后作业表为空：重新启动导出而不是报错。
func (e *ExportExecutor) Poll(ctx context.Context, pe *model.PipeElement) (*Status, error) {
	e.mu.Lock()
	job, ok := e.jobs[pe.ID]
	e.mu.Unlock()

	if !ok {
		if err := e.Start(ctx, pe); err != nil {
			return nil, err
		}
		return &Status{}, nil
	}

	select {
	case <-job.done:
	default:
		return &Status{}, nil
	}

	e.mu.Lock()
	delete(e.jobs, pe.ID)
	e.mu.Unlock()

	if job.err != nil {
		return &Status{FailureMsg: fmt.Sprintf("export failed: %v", job.err)}, nil
	}
	return &Status{Done: true}, nil
}
