package services

import (
	"errors"
	"fmt"
	"time"

	"crmflow/internal/models"
	"crmflow/pkg/jwt"
	"crmflow/pkg/logger"

	"gorm.io/gorm"
)

// UserService 用户认证与查询
type UserService struct {
	db *gorm.DB
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Authenticate 用户名密码认证，成功返回JWT令牌
func (s *UserService) Authenticate(username, password string) (string, *models.User, error) {
	var user models.User
	err := s.db.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, fmt.Errorf("用户名或密码错误")
	}
	if err != nil {
		return "", nil, err
	}

	if user.Status != models.UserStatusActive {
		return "", nil, fmt.Errorf("账号已停用")
	}
	if !user.CheckPassword(password) {
		return "", nil, fmt.Errorf("用户名或密码错误")
	}

	token, err := jwt.GetJWTManager().GenerateToken(user.ID, user.TenantID, user.Username, user.IsAdmin)
	if err != nil {
		return "", nil, fmt.Errorf("生成令牌失败: %v", err)
	}

	now := time.Now()
	if err := s.db.Model(&user).Update("last_login_at", now).Error; err != nil {
		logger.GetLogger().WithError(err).Warn("更新登录时间失败")
	}

	return token, &user, nil
}

// GetByID 按ID查询用户
func (s *UserService) GetByID(userID uint) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("用户不存在")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IsActive 判断用户是否可用
func (s *UserService) IsActive(userID uint) bool {
	user, err := s.GetByID(userID)
	return err == nil && user.Status == models.UserStatusActive
}
