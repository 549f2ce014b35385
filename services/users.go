package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

type RegisterParams struct {
	Email     string
	Nickname  string
	Password  string
	FirstName string
	LastName  string
}

// UserService - регистрация, вход и проверка токенов
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func (s *UserService) Register(ctx context.Context, params RegisterParams) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || params.Password == "" || params.Nickname == "" {
		return nil, errors.New("email, nickname and password are required")
	}

	var alreadyExists int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR nickname = ?", email, params.Nickname).
		Count(&alreadyExists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if alreadyExists > 0 {
		return nil, ErrUserExists
	}

	passwordHash, err := hashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:     email,
		Nickname:  params.Nickname,
		FirstName: params.FirstName,
		LastName:  params.LastName,
		Password:  passwordHash,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logrus.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

func (s *UserService) FindByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ParticipantNotFoundError{UserID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &user, nil
}

func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user by email: %w", err)
	}
	return &user, nil
}

// Login проверяет пароль и выдаёт новый токен, старые токены пользователя удаляются
func (s *UserService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if errors.Is(err, ErrParticipantNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !checkPassword(user.Password, password) {
		return "", nil, ErrInvalidCredentials
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(tokenBytes)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.UserTokens{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.UserTokens{UserID: user.ID, Token: token}).Error
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}
	return token, user, nil
}

func (s *UserService) Logout(ctx context.Context, userID int64) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserTokens{}).Error
}

// UserIDByToken возвращает владельца токена
func (s *UserService) UserIDByToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	var stored models.UserTokens
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, err
	}
	return stored.UserID, nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

func checkPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	storedHash, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(hash, storedHash) == 1
}
