package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))
	return db
}

func TestAuthService_Register(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Config{JWTSecret: "test-secret"}
	service := NewAuthService(db, cfg)

	// First user should be admin
	admin, err := service.Register("admin@example.com", "password123", "Admin User")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Role)
	assert.NotEmpty(t, admin.PasswordHash)
	assert.NotEqual(t, "password123", admin.PasswordHash)

	user, err := service.Register("User@Example.com", "password123", "Regular User")
	require.NoError(t, err)
	assert.Equal(t, "user", user.Role)
	assert.Equal(t, "user@example.com", user.Email)

	_, err = service.Register("user@example.com", "other", "Dup")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthService_Login(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Config{JWTSecret: "test-secret"}
	service := NewAuthService(db, cfg)

	_, err := service.Register("test@example.com", "password123", "Test User")
	require.NoError(t, err)

	token, err := service.Login("test@example.com", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	token, err = service.Login("test@example.com", "wrongpassword")
	assert.Error(t, err)
	assert.Empty(t, token)
	assert.Equal(t, "invalid credentials", err.Error())

	_, err = service.Login("nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	var user models.User
	require.NoError(t, db.Where("email = ?", "test@example.com").First(&user).Error)
	assert.NotNil(t, user.LastLogin)
}

func TestAuthService_DisabledAccount(t *testing.T) {
	db := setupTestDB(t)
	service := NewAuthService(db, config.Config{JWTSecret: "test-secret"})

	u, err := service.Register("off@example.com", "password123", "Off")
	require.NoError(t, err)
	require.NoError(t, db.Model(u).Update("enabled", false).Error)

	_, err = service.Login("off@example.com", "password123")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestAuthService_TokenRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	service := NewAuthService(db, config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour})

	u, err := service.Register("admin@example.com", "password123", "Admin")
	require.NoError(t, err)

	token, err := service.GenerateToken(u)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, u.UUID, claims.Subject)

	other := NewAuthService(db, config.Config{JWTSecret: "different"})
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = service.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_ExpiredToken(t *testing.T) {
	db := setupTestDB(t)
	service := NewAuthService(db, config.Config{JWTSecret: "test-secret"})
	service.ttl = -time.Minute

	u, err := service.Register("admin@example.com", "password123", "Admin")
	require.NoError(t, err)
	token, err := service.GenerateToken(u)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_EnsureAdmin(t *testing.T) {
	db := setupTestDB(t)
	service := NewAuthService(db, config.Config{JWTSecret: "test-secret"})

	_, created, err := service.EnsureAdmin("admin@localhost", "")
	require.NoError(t, err)
	assert.False(t, created)

	u, created, err := service.EnsureAdmin("admin@localhost", "bootstrap-pass")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, u.IsAdmin())

	_, created, err = service.EnsureAdmin("other@localhost", "bootstrap-pass")
	require.NoError(t, err)
	assert.False(t, created)

	got, err := service.GetUserByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin@localhost", got.Email)
}
