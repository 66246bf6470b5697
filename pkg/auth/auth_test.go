// Package auth 认证单元测试
package auth

import (
	"testing"
	"time"

	"anno-admin/internal/shared/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", TokenTTL: time.Hour}
	user := &model.User{
		ID:       "user-001",
		Username: "alice",
		Roles:    []model.Role{model.RoleAnnotator, model.RoleDesigner},
	}

	token, err := GenerateToken(cfg, user)
	require.NoError(t, err)

	claims, err := ParseToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "user-001", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)
	assert.Contains(t, claims.Roles, model.RoleAnnotator)

	// 每个令牌的 JTI 唯一
	token2, err := GenerateToken(cfg, user)
	require.NoError(t, err)
	claims2, err := ParseToken(cfg, token2)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, claims2.ID)
}

func TestParseTokenRejectsBadSecret(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", TokenTTL: time.Hour}
	user := &model.User{ID: "user-001", Username: "alice"}

	token, err := GenerateToken(cfg, user)
	require.NoError(t, err)

	_, err = ParseToken(Config{JWTSecret: "other-secret"}, token)
	assert.Error(t, err)

	_, err = ParseToken(cfg, "not-a-token")
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", TokenTTL: -time.Minute}
	user := &model.User{ID: "user-001", Username: "alice"}

	token, err := GenerateToken(cfg, user)
	require.NoError(t, err)

	_, err = ParseToken(cfg, token)
	assert.Error(t, err)
}

func TestAuthUserHasRole(t *testing.T) {
	u := &AuthUser{ID: "user-001", Roles: []model.Role{model.RoleDesigner}}
	assert.True(t, u.HasRole(model.RoleDesigner))
	assert.False(t, u.HasRole(model.RoleAdministrator))
}
