// Package objstore 对象存储访问层
//
// 核心逻辑只通过 FileAccess 接触媒体与导出对象，不直接碰物理路径。
// 生产实现基于 MinIO；MemoryStore 供测试使用。
package objstore

import (
	"context"
	"io"
)

// FileAccess 对象存储访问接口
//
// 条目物化（按前缀列举）、媒体读取和导出写入都走这一个口子。
type FileAccess interface {
	// EnsureBucket 确保 bucket 存在
	EnsureBucket(ctx context.Context) error

	// Upload 上传对象
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download 下载对象，调用方负责关闭返回的 ReadCloser
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// ListByPrefix 按前缀列举对象键，结果按键名升序
	// 标注任务物化条目时依赖这一稳定顺序
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error
}
