// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	PipeIDKey    ContextKey = "pipe_id"
	ElementIDKey ContextKey = "element_id"
	ItemIDKey    ContextKey = "item_id"
	UserIDKey    ContextKey = "user_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger:    slog.New(handler),
		component: cfg.Component,
	}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := []any{slog.String("component", l.component)}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if pipeID, ok := ctx.Value(PipeIDKey).(string); ok && pipeID != "" {
		attrs = append(attrs, slog.String("pipe_id", pipeID))
	}
	if elementID, ok := ctx.Value(ElementIDKey).(string); ok && elementID != "" {
		attrs = append(attrs, slog.String("element_id", elementID))
	}
	if itemID, ok := ctx.Value(ItemIDKey).(string); ok && itemID != "" {
		attrs = append(attrs, slog.String("item_id", itemID))
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}

	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// WithPipeID 添加流水线 ID
func (l *Logger) WithPipeID(pipeID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("pipe_id", pipeID)),
		component: l.component,
	}
}

// WithElementID 添加节点 ID
func (l *Logger) WithElementID(elementID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("element_id", elementID)),
		component: l.component,
	}
}

// WithItemID 添加条目 ID
func (l *Logger) WithItemID(itemID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("item_id", itemID)),
		component: l.component,
	}
}

// WithUserID 添加用户 ID
func (l *Logger) WithUserID(userID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("user_id", userID)),
		component: l.component,
	}
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{
		Logger:    l.Logger.With(slog.String("error", err.Error())),
		component: l.component,
	}
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.Float64("duration_ms", float64(d.Milliseconds()))),
		component: l.component,
	}
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// ElementLog 节点调度日志
func (l *Logger) ElementLog(action, pipeID, elementID string, extra ...any) {
	attrs := []any{
		slog.String("action", action),
		slog.String("pipe_id", pipeID),
		slog.String("element_id", elementID),
	}
	attrs = append(attrs, extra...)
	l.Logger.Info("Element event", attrs...)
}

// AssignmentLog 条目分配日志
func (l *Logger) AssignmentLog(action, taskID, itemID, userID string, extra ...any) {
	attrs := []any{
		slog.String("action", action),
		slog.String("anno_task_id", taskID),
		slog.String("item_id", itemID),
		slog.String("user_id", userID),
	}
	attrs = append(attrs, extra...)
	l.Logger.Info("Assignment event", attrs...)
}
