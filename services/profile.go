package services

import (
	"context"
	"fmt"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"gorm.io/gorm"
)

// ProfileService - чтение подписок, подписчиков и друзей пользователя
type ProfileService struct {
	db      *gorm.DB
	friends *FriendMirror
}

func NewProfileService(db *gorm.DB, friends *FriendMirror) *ProfileService {
	return &ProfileService{db: db, friends: friends}
}

// GetSubscriptions возвращает пользователей, на которых подписан userID (в любом статусе)
func (s *ProfileService) GetSubscriptions(ctx context.Context, userID int64) ([]models.User, error) {
	users := make([]models.User, 0)
	err := s.db.WithContext(ctx).
		Table("users u").
		Joins("JOIN follow_edges e ON e.followee_id = u.id").
		Where("e.follower_id = ?", userID).
		Order("u.id").
		Select("u.*").
		Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	return users, nil
}

// GetSubscribers возвращает подписчиков userID вместе с флагом подтверждения
func (s *ProfileService) GetSubscribers(ctx context.Context, userID int64) ([]models.Subscriber, error) {
	subscribers := make([]models.Subscriber, 0)
	err := s.db.WithContext(ctx).
		Table("users u").
		Joins("JOIN follow_edges e ON e.follower_id = u.id").
		Where("e.followee_id = ?", userID).
		Order("u.id").
		Select("u.*, e.active AS active").
		Scan(&subscribers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get subscribers: %w", err)
	}
	return subscribers, nil
}

// GetPendingSubscribers - входящие неподтверждённые подписки
func (s *ProfileService) GetPendingSubscribers(ctx context.Context, userID int64) ([]models.User, error) {
	users := make([]models.User, 0)
	err := s.db.WithContext(ctx).
		Table("users u").
		Joins("JOIN follow_edges e ON e.follower_id = u.id").
		Where("e.followee_id = ? AND e.active = ?", userID, false).
		Order("u.id").
		Select("u.*").
		Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending subscribers: %w", err)
	}
	return users, nil
}

func (s *ProfileService) GetFriends(ctx context.Context, userID int64) ([]models.User, error) {
	ids, err := s.friends.FriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to get friends: %w", err)
	}
	return users, nil
}
