package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DEFAULT_FEED_LIMIT = 20
	MAX_FEED_LIMIT     = 100
)

// PostService - посты и лента. В ленту попадают посты всех, на кого пользователь подписан,
// подтверждение подписки для ленты не требуется.
type PostService struct {
	db *gorm.DB
}

func NewPostService(db *gorm.DB) *PostService {
	return &PostService{db: db}
}

// CreatePost создает новый пост
func (ps *PostService) CreatePost(ctx context.Context, userID int64, title, content string) (*models.Post, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyPost
	}

	now := time.Now()
	post := &models.Post{
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ps.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	logrus.WithFields(logrus.Fields{"user_id": userID, "post_id": post.ID}).Debug("post created")
	return post, nil
}

// DeletePost удаляет пост, если он принадлежит пользователю
func (ps *PostService) DeletePost(ctx context.Context, userID int64, postID int64) error {
	return ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		err := tx.Where("id = ? AND user_id = ?", postID, userID).First(&post).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPostNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load post: %w", err)
		}
		if err := tx.Delete(&post).Error; err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}
		return nil
	})
}

// GetFeed получает ленту подписчика, пагинация по id последнего поста (lastID)
func (ps *PostService) GetFeed(ctx context.Context, subscriberID int64, lastID int64, limit int) (*models.FeedResponse, error) {
	if limit <= 0 || limit > MAX_FEED_LIMIT {
		limit = DEFAULT_FEED_LIMIT
	}

	query := ps.db.WithContext(ctx).
		Table("posts p").
		Select("p.id, p.user_id, u.first_name || ' ' || u.last_name AS user_name, p.title, p.content, p.created_at").
		Joins("JOIN users u ON p.user_id = u.id").
		Joins("JOIN follow_edges e ON e.followee_id = p.user_id").
		Where("e.follower_id = ?", subscriberID).
		Order("p.id DESC").
		Limit(limit)
	if lastID > 0 {
		query = query.Where("p.id < ?", lastID)
	}

	feedPosts := make([]models.FeedPost, 0)
	if err := query.Scan(&feedPosts).Error; err != nil {
		return nil, fmt.Errorf("failed to get feed posts: %w", err)
	}

	return &models.FeedResponse{
		Posts:   feedPosts,
		HasMore: len(feedPosts) == limit,
		LastID:  getLastID(feedPosts),
	}, nil
}

func getLastID(posts []models.FeedPost) int64 {
	if len(posts) == 0 {
		return 0
	}
	return posts[len(posts)-1].ID
}
