package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSelfRelation - инициатор и цель совпадают
	ErrSelfRelation = errors.New("cannot follow or befriend yourself")
	// ErrRelationNotFound - нет входящей подписки, на которую можно ответить
	ErrRelationNotFound = errors.New("subscription not found")
	// ErrParticipantNotFound - один из участников не найден
	ErrParticipantNotFound = errors.New("user not found")

	ErrNotFriends         = errors.New("you can only exchange messages with friends")
	ErrEmptyMessage       = errors.New("message text is empty")
	ErrPostNotFound       = errors.New("post not found or access denied")
	ErrEmptyPost          = errors.New("post content is empty")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// ParticipantNotFoundError сообщает, какой именно пользователь не найден
type ParticipantNotFoundError struct {
	UserID int64
}

func (e *ParticipantNotFoundError) Error() string {
	return fmt.Sprintf("user %d not found", e.UserID)
}

func (e *ParticipantNotFoundError) Is(target error) bool {
	return target == ErrParticipantNotFound
}
