// Package model 定义核心数据模型
//
// user.go 包含用户相关的数据模型定义：
//   - User：系统用户
//   - Role：角色枚举（一个用户可以同时持有多个角色）
package model

import "time"

// ============================================================================
// Role - 角色
// ============================================================================

// Role 表示用户角色
//
// 角色是集合不是互斥枚举：一个用户可以同时是
// Annotator + Designer + Administrator。授予是追加式的，
// 权限判断统一走 auth.HasRole，不做动态鸭子类型检查。
type Role string

const (
	// RoleAnnotator 标注员：领取条目、提交标注
	RoleAnnotator Role = "Annotator"

	// RoleDesigner 设计者：创建流水线、审核标注
	RoleDesigner Role = "Designer"

	// RoleAdministrator 管理员：用户管理
	RoleAdministrator Role = "Administrator"
)

// ============================================================================
// User - 系统用户
// ============================================================================

// User 表示系统用户
//
// 用户不拥有 Item，只持有至多一个条目的租约（见 Item.LockedBy）。
// 租约可被系统在超时或登出时收回。用户的工作集群句柄在
// WorkerSession 中维护，登出时一并回收。
type User struct {
	ID           string    `json:"id" db:"id"`                 // 用户唯一标识
	Username     string    `json:"username" db:"username"`     // 登录名
	Email        string    `json:"email" db:"email"`           // 邮箱
	PasswordHash string    `json:"-" db:"password_hash"`       // bcrypt 口令哈希
	Roles        []Role    `json:"roles" db:"-"`               // 角色集合（user_roles 表）
	CreatedAt    time.Time `json:"created_at" db:"created_at"` // 创建时间
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"` // 更新时间
}

// HasRole 判断用户是否持有指定角色
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
