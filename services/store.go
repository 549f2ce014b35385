package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserDirectory - поиск и сохранение участников операции
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}

// EdgeStore - хранилище направленных подписок, ключ (followee, follower)
type EdgeStore interface {
	// FindEdge возвращает nil, nil если подписки нет
	FindEdge(ctx context.Context, followeeID, followerID int64) (*models.FollowEdge, error)
	SaveEdge(ctx context.Context, edge *models.FollowEdge) error
	DeleteEdge(ctx context.Context, followeeID, followerID int64) error
}

// RelationStore объединяет хранилища, которые меняются одной транзакцией
type RelationStore interface {
	Users() UserDirectory
	Edges() EdgeStore
	Friends() *FriendshipCache
	// InTx выполняет fn в транзакции. Ошибка из fn откатывает все изменения.
	InTx(ctx context.Context, fn func(tx RelationStore) error) error
}

type GormRelationStore struct {
	db *gorm.DB
	// forUpdate включается внутри транзакции: пользователи читаются с блокировкой строки
	forUpdate bool
}

func NewGormRelationStore(db *gorm.DB) *GormRelationStore {
	return &GormRelationStore{db: db}
}

func (s *GormRelationStore) Users() UserDirectory {
	return &gormUserDirectory{db: s.db, forUpdate: s.forUpdate}
}

func (s *GormRelationStore) Edges() EdgeStore {
	return &gormEdgeStore{db: s.db}
}

func (s *GormRelationStore) Friends() *FriendshipCache {
	return NewFriendshipCache(s.db)
}

func (s *GormRelationStore) InTx(ctx context.Context, fn func(tx RelationStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRelationStore{db: tx, forUpdate: true})
	})
}

type gormUserDirectory struct {
	db        *gorm.DB
	forUpdate bool
}

func (d *gormUserDirectory) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := d.db.WithContext(ctx)
	if d.forUpdate {
		// sqlite молча игнорирует FOR UPDATE
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user models.User
	err := query.Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ParticipantNotFoundError{UserID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &user, nil
}

func (d *gormUserDirectory) Save(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	if err := d.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("failed to save user %d: %w", user.ID, err)
	}
	return nil
}

type gormEdgeStore struct {
	db *gorm.DB
}

func (s *gormEdgeStore) FindEdge(ctx context.Context, followeeID, followerID int64) (*models.FollowEdge, error) {
	var edge models.FollowEdge
	err := s.db.WithContext(ctx).
		Where("followee_id = ? AND follower_id = ?", followeeID, followerID).
		First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %d->%d: %w", followerID, followeeID, err)
	}
	return &edge, nil
}

func (s *gormEdgeStore) SaveEdge(ctx context.Context, edge *models.FollowEdge) error {
	now := time.Now()
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = now
	}
	edge.UpdatedAt = now
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "followee_id"}, {Name: "follower_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "updated_at"}),
		}).
		Create(edge).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription %d->%d: %w", edge.FollowerID, edge.FolloweeID, err)
	}
	return nil
}

func (s *gormEdgeStore) DeleteEdge(ctx context.Context, followeeID, followerID int64) error {
	err := s.db.WithContext(ctx).
		Where("followee_id = ? AND follower_id = ?", followeeID, followerID).
		Delete(&models.FollowEdge{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete subscription %d->%d: %w", followerID, followeeID, err)
	}
	return nil
}
