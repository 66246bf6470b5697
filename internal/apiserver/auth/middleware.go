package auth

import (
	"log"
	"net/http"
	"strings"

	"anno-admin/internal/shared/cache"
	"anno-admin/internal/shared/model"
	pkgauth "anno-admin/pkg/auth"
)

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/api/v1/auth/login",
	"/health",
	"/metrics",
	"/ws/",
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware 创建 JWT 认证中间件
//
// 解析 Bearer Token，按 JTI 查撤销缓存，通过后把 AuthUser 注入
// context。cfg.Enabled() == false 时放行所有请求（无认证模式，
// 只用于本地开发）。
func Middleware(cfg pkgauth.Config, revocation cache.TokenRevocationCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims, err := pkgauth.ParseToken(cfg, parts[1])
			if err != nil {
				log.Printf("[auth] token parse error: %v", err)
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			// 登出过的令牌在有效期内也要拒绝
			if revocation != nil {
				revoked, err := revocation.IsTokenRevoked(r.Context(), claims.ID)
				if err != nil {
					http.Error(w, `{"error":"failed to verify token"}`, http.StatusInternalServerError)
					return
				}
				if revoked {
					http.Error(w, `{"error":"token has been revoked"}`, http.StatusUnauthorized)
					return
				}
			}

			user := &pkgauth.AuthUser{
				ID:       claims.Subject,
				Username: claims.Username,
				Roles:    claims.Roles,
				JTI:      claims.ID,
			}
			next.ServeHTTP(w, r.WithContext(pkgauth.WithAuthUser(r.Context(), user)))
		})
	}
}

// RequireRole 角色专属路由中间件
func RequireRole(role model.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := pkgauth.GetAuthUser(r.Context())
		if user == nil || !user.HasRole(role) {
			http.Error(w, `{"error":"`+string(role)+` role required"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
