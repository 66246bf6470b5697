// Package apperr 定义跨组件的领域错误分类
//
// 这些错误是对调用方可见的程序化结果，统一通过 errors.Is 判别：
//   - 没有任何错误会被静默吞掉（唯一例外是尽力而为的通知旁路）
//   - ErrConflict / ErrAuthorization 直接上报调用方，不自动重试
//   - ErrJobFailure 记录在出错元素上，等待操作员处理
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGraph DAG 非法（有环或结构损坏）
	// 只在构建期出现，运行期不做环检测
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrConflict 过期状态竞争
	// 锁已被持有、条目不在期望状态等；上报调用方，不自动重试
	ErrConflict = errors.New("conflict")

	// ErrAuthorization 授权失败
	// 租约持有人不匹配、角色不满足；上报调用方，永不重试
	ErrAuthorization = errors.New("not authorized")

	// ErrJobFailure 脚本/导出作业失败
	// 元素转入 error 并记录原因；可被显式 re-run 重置
	ErrJobFailure = errors.New("job failed")

	// ErrResourceExhausted 集群资源申请失败
	// 只影响申请会话本身，不影响其他用户和流水线
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrNotFound 实体不存在
	ErrNotFound = errors.New("not found")
)

// Conflictf 构造带上下文的 ErrConflict
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

// Authorizationf 构造带上下文的 ErrAuthorization
func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrAuthorization}, args...)...)
}

// InvalidGraphf 构造带上下文的 ErrInvalidGraph
func InvalidGraphf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidGraph}, args...)...)
}
