// Package worker 用户工作集群的供给与回收
package worker

import (
	"context"
	"fmt"

	"anno-admin/internal/config"
	"anno-admin/pkg/docker"
)

// Cluster 集群容器的供给接口
//
// 生产实现基于 Docker；测试里用假实现，不碰 daemon。
type Cluster interface {
	// Provision 确保用户的集群容器存在并运行；幂等，返回容器引用
	Provision(ctx context.Context, userID string) (string, error)

	// Teardown 停止并移除集群容器；数据卷保留
	Teardown(ctx context.Context, containerID string) error

	// StartJob 在容器里启动分离作业，返回作业句柄
	StartJob(ctx context.Context, containerID string, cmd []string, env []string) (string, error)

	// JobStatus 查询作业状态，返回 (是否仍在运行, 退出码)
	JobStatus(ctx context.Context, containerID string, jobRef string) (bool, int, error)
}

// DockerCluster 基于 Docker 的集群实现
//
// 每个用户一个长驻容器（sleep 保活）加一个命名数据卷，
// 脚本作业通过 docker exec 投放进去。容器带 CPU/内存限额，
// 失控的脚本只拖垮自己的集群。
type DockerCluster struct {
	cli *docker.Client
	cfg config.WorkerConfig
}

// NewDockerCluster 创建 Docker 集群供给器
func NewDockerCluster(cfg config.WorkerConfig) (*DockerCluster, error) {
	cli, err := docker.NewClientWithHost(cfg.DockerHost)
	if err != nil {
		return nil, err
	}
	return &DockerCluster{cli: cli, cfg: cfg}, nil
}

// containerName 用户集群容器的固定命名
func containerName(userID string) string {
	return "anno-worker-" + userID
}

// volumeName 用户数据卷的固定命名
func volumeName(userID string) string {
	return "anno-worker-data-" + userID
}

// Provision 确保用户的集群容器存在并运行
//
// 幂等分三档：已在运行直接返回；存在但停止则拉起；
// 不存在则建卷、建容器、启动。
func (d *DockerCluster) Provision(ctx context.Context, userID string) (string, error) {
	name := containerName(userID)

	exists, err := d.cli.ContainerExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect cluster container: %w", err)
	}
	if exists {
		running, err := d.cli.IsContainerRunning(ctx, name)
		if err != nil {
			return "", err
		}
		if !running {
			if err := d.cli.StartContainer(ctx, name); err != nil {
				return "", fmt.Errorf("restart cluster container: %w", err)
			}
		}
		return name, nil
	}

	volName := volumeName(userID)
	volExists, err := d.cli.VolumeExists(ctx, volName)
	if err != nil {
		return "", err
	}
	if !volExists {
		if err := d.cli.CreateVolume(ctx, volName); err != nil {
			return "", fmt.Errorf("create cluster volume: %w", err)
		}
	}

	_, err = d.cli.CreateContainer(ctx, &docker.ContainerConfig{
		Name:  name,
		Image: d.cfg.Image,
		Cmd:   []string{"sleep", "infinity"},
		Volumes: map[string]string{
			volName: "/data",
		},
		NanoCPUs:    int64(d.cfg.CPULimit * 1e9),
		MemoryBytes: d.cfg.MemoryLimitMB * 1024 * 1024,
		Labels: map[string]string{
			"app":     "anno-admin",
			"user_id": userID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create cluster container: %w", err)
	}
	if err := d.cli.StartContainer(ctx, name); err != nil {
		return "", fmt.Errorf("start cluster container: %w", err)
	}
	return name, nil
}

// Teardown 停止并移除集群容器
//
// 数据卷有意保留：同一用户下次登录挂回同一份数据。
func (d *DockerCluster) Teardown(ctx context.Context, containerID string) error {
	exists, err := d.cli.ContainerExists(ctx, containerID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	timeout := 10
	if err := d.cli.StopContainer(ctx, containerID, &timeout); err != nil {
		return fmt.Errorf("stop cluster container: %w", err)
	}
	return d.cli.RemoveContainer(ctx, containerID, true)
}

// StartJob 在容器里启动分离作业
func (d *DockerCluster) StartJob(ctx context.Context, containerID string, cmd []string, env []string) (string, error) {
	return d.cli.StartExec(ctx, containerID, cmd, env)
}

// JobStatus 查询作业状态
func (d *DockerCluster) JobStatus(ctx context.Context, containerID string, jobRef string) (bool, int, error) {
	return d.cli.InspectExec(ctx, jobRef)
}

// Close 释放 Docker 连接
func (d *DockerCluster) Close() error {
	return d.cli.Close()
}
