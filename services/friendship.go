package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"
)

const (
	FRIENDS_KEY_PREFIX = "user_friends:"
	FRIENDS_CACHE_TTL  = 24 * time.Hour

	// поколение живёт дольше множества, чтобы не вернуться к уже прочитанному значению
	FRIENDS_GEN_KEY_PREFIX = "user_friends_gen:"
	FRIENDS_GEN_TTL        = 7 * 24 * time.Hour

	// пустой набор друзей тоже кешируется, иначе каждый запрос уходит в БД
	friendsEmptyMarker = "-"
)

// FriendshipCache - симметричное множество друзей в таблице friends.
// Менять его может только RelationEngine, остальные компоненты только читают.
type FriendshipCache struct {
	db *gorm.DB
	// onSource - читать с мастера, а не с реплик
	onSource bool
}

func NewFriendshipCache(db *gorm.DB) *FriendshipCache {
	return &FriendshipCache{db: db}
}

func (c *FriendshipCache) fromSource() *FriendshipCache {
	return &FriendshipCache{db: c.db, onSource: true}
}

func (c *FriendshipCache) query(ctx context.Context) *gorm.DB {
	q := c.db.WithContext(ctx)
	if c.onSource {
		q = q.Clauses(dbresolver.Write)
	}
	return q
}

// Add добавляет v в друзья u и u в друзья v
func (c *FriendshipCache) Add(ctx context.Context, u, v int64) error {
	if u == v {
		return ErrSelfRelation
	}
	now := time.Now()
	rows := []models.Friend{
		{UserID: u, FriendID: v, CreatedAt: now},
		{UserID: v, FriendID: u, CreatedAt: now},
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to add friendship %d<->%d: %w", u, v, err)
	}
	return nil
}

// Remove симметрично удаляет дружбу
func (c *FriendshipCache) Remove(ctx context.Context, u, v int64) error {
	if u == v {
		return ErrSelfRelation
	}
	err := c.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", u, v, v, u).
		Delete(&models.Friend{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove friendship %d<->%d: %w", u, v, err)
	}
	return nil
}

func (c *FriendshipCache) Contains(ctx context.Context, u, v int64) (bool, error) {
	var count int64
	err := c.query(ctx).Model(&models.Friend{}).
		Where("user_id = ? AND friend_id = ?", u, v).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check friendship %d<->%d: %w", u, v, err)
	}
	return count > 0, nil
}

func (c *FriendshipCache) FriendIDs(ctx context.Context, u int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := c.query(ctx).Model(&models.Friend{}).
		Where("user_id = ?", u).
		Order("friend_id").
		Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get friends of %d: %w", u, err)
	}
	return ids, nil
}

// FriendMirror - копия множеств друзей в redis для читателей (сообщения, профиль).
// Без redis все запросы идут напрямую в FriendshipCache.
// Каждое изменение дружбы увеличивает поколение пользователя (user_friends_gen:<id>);
// warm записывает множество только если поколение не менялось с момента чтения из БД.
type FriendMirror struct {
	friends *FriendshipCache
	redis   *redis.Client
}

var errMirrorStale = errors.New("friend mirror generation changed")

func NewFriendMirror(friends *FriendshipCache, redisClient *redis.Client) *FriendMirror {
	return &FriendMirror{friends: friends.fromSource(), redis: redisClient}
}

func friendsKey(userID int64) string {
	return FRIENDS_KEY_PREFIX + strconv.FormatInt(userID, 10)
}

func friendsGenKey(userID int64) string {
	return FRIENDS_GEN_KEY_PREFIX + strconv.FormatInt(userID, 10)
}

func (m *FriendMirror) AreFriends(ctx context.Context, u, v int64) (bool, error) {
	if u == v {
		return false, nil
	}
	if m.redis == nil {
		return m.friends.Contains(ctx, u, v)
	}

	key := friendsKey(u)
	pipe := m.redis.TxPipeline()
	exists := pipe.Exists(ctx, key)
	member := pipe.SIsMember(ctx, key, strconv.FormatInt(v, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.WithError(err).WithField("user_id", u).Warn("friend mirror unavailable, reading from db")
		return m.friends.Contains(ctx, u, v)
	}
	if exists.Val() > 0 {
		return member.Val(), nil
	}

	ids, err := m.warm(ctx, u)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, v), nil
}

func (m *FriendMirror) FriendIDs(ctx context.Context, u int64) ([]int64, error) {
	if m.redis == nil {
		return m.friends.FriendIDs(ctx, u)
	}
	// в закешированном множестве всегда есть маркер, пустой ответ - ключа нет
	members, err := m.redis.SMembers(ctx, friendsKey(u)).Result()
	if err != nil {
		logrus.WithError(err).WithField("user_id", u).Warn("friend mirror unavailable, reading from db")
		return m.friends.FriendIDs(ctx, u)
	}
	if len(members) > 0 {
		return parseMembers(members), nil
	}
	return m.warm(ctx, u)
}

// Invalidate сбрасывает зеркало после коммита транзакции движка
func (m *FriendMirror) Invalidate(ctx context.Context, userIDs ...int64) {
	if m.redis == nil || len(userIDs) == 0 {
		return
	}
	pipe := m.redis.TxPipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, friendsGenKey(id))
		pipe.Expire(ctx, friendsGenKey(id), FRIENDS_GEN_TTL)
		pipe.Del(ctx, friendsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.WithError(err).WithField("users", userIDs).Warn("failed to invalidate friend mirror")
	}
}

// warm читает друзей из мастера и кладёт их в redis, если за это время не было Invalidate.
// Возвращает прочитанные из БД id в любом случае.
func (m *FriendMirror) warm(ctx context.Context, u int64) ([]int64, error) {
	genKey := friendsGenKey(u)
	gen, err := m.redis.Get(ctx, genKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logrus.WithError(err).WithField("user_id", u).Warn("friend mirror unavailable, reading from db")
		return m.friends.FriendIDs(ctx, u)
	}

	ids, err := m.friends.FriendIDs(ctx, u)
	if err != nil {
		return nil, err
	}

	members := make([]interface{}, 0, len(ids)+1)
	members = append(members, friendsEmptyMarker)
	for _, id := range ids {
		members = append(members, strconv.FormatInt(id, 10))
	}

	key := friendsKey(u)
	err = m.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errMirrorStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, FRIENDS_CACHE_TTL)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errMirrorStale), errors.Is(err, redis.TxFailedErr):
		logrus.WithField("user_id", u).Debug("friends changed while warming mirror, not cached")
	default:
		logrus.WithError(err).WithField("user_id", u).Warn("failed to warm friend mirror")
	}
	return ids, nil
}

func parseMembers(members []string) []int64 {
	ids := make([]int64, 0, len(members))
	for _, member := range members {
		if member == friendsEmptyMarker {
			continue
		}
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
