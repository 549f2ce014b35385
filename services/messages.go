package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"gorm.io/gorm"
)

const (
	DEFAULT_HISTORY_LIMIT = 50
	MAX_HISTORY_LIMIT     = 500
)

// MessageService - личные сообщения. Писать можно только друзьям.
type MessageService struct {
	db      *gorm.DB
	friends *FriendMirror
}

func NewMessageService(db *gorm.DB, friends *FriendMirror) *MessageService {
	return &MessageService{db: db, friends: friends}
}

func (s *MessageService) checkAccess(ctx context.Context, fromID, toID int64) error {
	if fromID == toID {
		return ErrSelfRelation
	}
	ok, err := s.friends.AreFriends(ctx, fromID, toID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}
	return nil
}

func (s *MessageService) Send(ctx context.Context, fromID, toID int64, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.checkAccess(ctx, fromID, toID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		FromUserID: fromID,
		ToUserID:   toID,
		Text:       text,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return msg, nil
}

// History возвращает последние сообщения диалога в хронологическом порядке
func (s *MessageService) History(ctx context.Context, userID, otherID int64, limit int) ([]models.Message, error) {
	if err := s.checkAccess(ctx, userID, otherID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MAX_HISTORY_LIMIT {
		limit = DEFAULT_HISTORY_LIMIT
	}

	messages := make([]models.Message, 0)
	err := s.db.WithContext(ctx).
		Where("(from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)",
			userID, otherID, otherID, userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get dialog: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
