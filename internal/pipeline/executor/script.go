// Package executor 脚本节点执行器
package executor

import (
	"context"
	"fmt"
	"sort"

	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	"anno-admin/pkg/logging"
)

// ClusterJobs 工作集群的作业口子
//
// 由 worker.Manager 实现：作业跑在流水线所有者的专属集群容器里。
type ClusterJobs interface {
	// SubmitJob 在用户的集群上启动作业，返回作业句柄
	SubmitJob(ctx context.Context, userID string, cmd []string, env []string) (string, error)

	// JobStatus 查询作业状态，返回 (是否仍在运行, 退出码)
	JobStatus(ctx context.Context, userID string, jobRef string) (bool, int, error)
}

// ScriptExecutor 脚本节点执行器
//
// 脚本提交到流水线所有者的工作集群执行。集群不可用算作业失败
// （记录在节点上等待 re-run），不是基础设施错误。
type ScriptExecutor struct {
	store  storage.PersistentStore
	jobs   ClusterJobs
	logger *logging.Logger
}

// NewScriptExecutor 创建脚本执行器
func NewScriptExecutor(store storage.PersistentStore, jobs ClusterJobs, logger *logging.Logger) *ScriptExecutor {
	if logger == nil {
		logger = logging.Default("executor.script")
	}
	return &ScriptExecutor{store: store, jobs: jobs, logger: logger}
}

func (e *ScriptExecutor) Type() model.ElementType {
	return model.ElementTypeScript
}

// buildCmd 把脚本描述翻译为命令行
// Args 按键名排序，保证命令行稳定可复现
func buildCmd(spec *model.ScriptSpec) []string {
	cmd := []string{spec.Path}
	keys := make([]string, 0, len(spec.Args))
	for k := range spec.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd = append(cmd, "--"+k, spec.Args[k])
	}
	return cmd
}

// Start 提交脚本作业
func (e *ScriptExecutor) Start(ctx context.Context, pe *model.PipeElement) error {
	spec, err := pe.ScriptSpec()
	if err != nil {
		return fmt.Errorf("%w: bad script spec on element %s: %v", apperr.ErrJobFailure, pe.ID, err)
	}
	if spec.Path == "" {
		return fmt.Errorf("%w: element %s has empty script path", apperr.ErrJobFailure, pe.ID)
	}

	pipe, err := e.store.GetPipe(ctx, pe.PipeID)
	if err != nil {
		return err
	}
	if pipe == nil {
		return apperr.ErrNotFound
	}

	jobRef, err := e.jobs.SubmitJob(ctx, pipe.OwnerID, buildCmd(spec), spec.Envs)
	if err != nil {
		return fmt.Errorf("%w: submit script on cluster of %s: %v", apperr.ErrJobFailure, pipe.OwnerID, err)
	}

	if err := e.store.UpdateElementJobRef(ctx, pe.ID, jobRef); err != nil {
		return err
	}
	e.logger.ElementLog("script_submitted", pe.PipeID, pe.ID, "job_ref", jobRef)
	return nil
}

// Poll 查询脚本作业状态
func (e *ScriptExecutor) Poll(ctx context.Context, pe *model.PipeElement) (*Status, error) {
	if pe.JobRef == nil {
		return &Status{FailureMsg: "script job reference lost"}, nil
	}

	pipe, err := e.store.GetPipe(ctx, pe.PipeID)
	if err != nil {
		return nil, err
	}
	if pipe == nil {
		return nil, apperr.ErrNotFound
	}

	running, exitCode, err := e.jobs.JobStatus(ctx, pipe.OwnerID, *pe.JobRef)
	if err != nil {
		return nil, err
	}
	if running {
		return &Status{}, nil
	}
	if exitCode != 0 {
		return &Status{FailureMsg: fmt.Sprintf("script exited with code %d", exitCode)}, nil
	}
	return &Status{Done: true}, nil
}
