// Package docker 封装 Docker API 客户端
//
// 使用官方 github.com/moby/moby/client 库
// 提供容器与数据卷管理、容器内作业执行，用于用户工作集群的生命周期
package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// ContainerConfig 容器配置
type ContainerConfig struct {
	Name          string            // 容器名称
	Image         string            // 镜像名称
	Entrypoint    []string          // 入口点（覆盖镜像默认）
	Cmd           []string          // 启动命令
	Env           []string          // 环境变量
	WorkingDir    string            // 工作目录
	Volumes       map[string]string // 挂载卷 volume:container
	NanoCPUs      int64             // CPU 限额（单位 1e-9 核，0 = 不限）
	MemoryBytes   int64             // 内存限额（字节，0 = 不限）
	Labels        map[string]string // 容器标签
}

// Client Docker客户端封装
type Client struct {
	cli *client.Client
}

// NewClient 创建Docker客户端
func NewClient() (*Client, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewClientWithHost 创建指向指定 daemon 的 Docker 客户端
func NewClientWithHost(host string) (*Client, error) {
	if host == "" {
		return NewClient()
	}
	cli, err := client.New(client.WithHost(host))
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping 检查Docker连接
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx, client.PingOptions{})
	return err
}

// CreateVolume 创建数据卷
func (c *Client) CreateVolume(ctx context.Context, name string) error {
	_, err := c.cli.VolumeCreate(ctx, client.VolumeCreateOptions{
		Name: name,
	})
	if err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

// VolumeExists 检查数据卷是否存在
func (c *Client) VolumeExists(ctx context.Context, name string) (bool, error) {
	result, err := c.cli.VolumeList(ctx, client.VolumeListOptions{})
	if err != nil {
		return false, err
	}
	for _, v := range result.Items {
		if v.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// RemoveVolume 删除数据卷
func (c *Client) RemoveVolume(ctx context.Context, name string, force bool) error {
	_, err := c.cli.VolumeRemove(ctx, name, client.VolumeRemoveOptions{Force: force})
	return err
}

// CreateContainer 创建容器
func (c *Client) CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error) {
	// 构建挂载配置
	var binds []string
	for hostPath, containerPath := range cfg.Volumes {
		binds = append(binds, fmt.Sprintf("%s:%s", hostPath, containerPath))
	}

	opts := client.ContainerCreateOptions{
		Name:  cfg.Name,
		Image: cfg.Image,
		Config: &container.Config{
			Entrypoint:   cfg.Entrypoint,
			Cmd:          cfg.Cmd,
			Env:          cfg.Env,
			WorkingDir:   cfg.WorkingDir,
			Labels:       cfg.Labels,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: &container.HostConfig{
			Binds: binds,
			Resources: container.Resources{
				NanoCPUs: cfg.NanoCPUs,
				Memory:   cfg.MemoryBytes,
			},
		},
	}

	result, err := c.cli.ContainerCreate(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return result.ID, nil
}

// StartContainer 启动容器
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	_, err := c.cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return err
}

// StopContainer 停止容器
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout *int) error {
	opts := client.ContainerStopOptions{}
	if timeout != nil {
		opts.Timeout = timeout
	}
	_, err := c.cli.ContainerStop(ctx, containerID, opts)
	return err
}

// RemoveContainer 删除容器
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	_, err := c.cli.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{
		Force:         force,
		RemoveVolumes: false,
	})
	return err
}

// ContainerExists 检查容器是否存在
func (c *Client) ContainerExists(ctx context.Context, containerID string) (bool, error) {
	_, err := c.cli.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsContainerRunning 检查容器是否在运行
func (c *Client) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	result, err := c.cli.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return result.Container.State.Running, nil
}

// StartExec 在容器中异步启动命令，返回 exec ID 供后续查询
func (c *Client) StartExec(ctx context.Context, containerID string, cmd []string, env []string) (string, error) {
	execResult, err := c.cli.ExecCreate(ctx, containerID, client.ExecCreateOptions{
		Cmd: cmd,
		Env: env,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", err)
	}

	if _, err := c.cli.ExecStart(ctx, execResult.ID, client.ExecStartOptions{Detach: true}); err != nil {
		return "", fmt.Errorf("failed to start exec: %w", err)
	}

	return execResult.ID, nil
}

// InspectExec 查询 exec 作业状态
// 返回 (是否仍在运行, 退出码)
func (c *Client) InspectExec(ctx context.Context, execID string) (bool, int, error) {
	result, err := c.cli.ExecInspect(ctx, execID, client.ExecInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, -1, fmt.Errorf("exec %s not found: %w", execID, err)
		}
		return false, -1, err
	}
	return result.Running, result.ExitCode, nil
}

// ExecInContainer 在容器中同步执行命令并返回输出
func (c *Client) ExecInContainer(ctx context.Context, containerID string, cmd []string) (string, error) {
	execResult, err := c.cli.ExecCreate(ctx, containerID, client.ExecCreateOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := c.cli.ExecAttach(ctx, execResult.ID, client.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	output, err := io.ReadAll(attachResp.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to read exec output: %w", err)
	}

	return string(output), nil
}

// ContainerLogs 获取容器日志
func (c *Client) ContainerLogs(ctx context.Context, containerID string, tail string) (io.ReadCloser, error) {
	result, err := c.cli.ContainerLogs(ctx, containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
		Follow:     false,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
