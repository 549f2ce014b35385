package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/EvgeniiGolubev/backend-test-task/db"
	"github.com/EvgeniiGolubev/backend-test-task/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var userSeq atomic.Int64

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(database))
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}

// newTestRedis поднимает miniredis и клиент к нему
func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, server
}

func createTestUser(t *testing.T, database *gorm.DB) *models.User {
	t.Helper()
	n := userSeq.Add(1)
	firstName := gofakeit.FirstName()
	user := &models.User{
		Email:     fmt.Sprintf("%s.%d@example.com", strings.ToLower(firstName), n),
		Nickname:  fmt.Sprintf("%s_%d", strings.ToLower(firstName), n),
		FirstName: firstName,
		LastName:  gofakeit.LastName(),
		Password:  "not-a-hash",
	}
	require.NoError(t, database.Create(user).Error)
	return user
}

func createTestUsers(t *testing.T, database *gorm.DB, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, createTestUser(t, database).ID)
	}
	return ids
}

// findEdge возвращает подписку follower -> followee или nil
func findEdge(t *testing.T, database *gorm.DB, followeeID, followerID int64) *models.FollowEdge {
	t.Helper()
	edge, err := (&gormEdgeStore{db: database}).FindEdge(context.Background(), followeeID, followerID)
	require.NoError(t, err)
	return edge
}

func hasFriendRow(t *testing.T, database *gorm.DB, userID, friendID int64) bool {
	t.Helper()
	ok, err := NewFriendshipCache(database).Contains(context.Background(), userID, friendID)
	require.NoError(t, err)
	return ok
}

func countEdges(t *testing.T, database *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, database.Model(&models.FollowEdge{}).Count(&count).Error)
	return count
}

// assertRelationsConsistent проверяет, что friends совпадает с парами взаимных активных подписок
// и что нет записей пользователя о самом себе
func assertRelationsConsistent(t *testing.T, database *gorm.DB, ids []int64) {
	t.Helper()
	for _, a := range ids {
		assert.Nil(t, findEdge(t, database, a, a), "self subscription for %d", a)
		assert.False(t, hasFriendRow(t, database, a, a), "self friendship for %d", a)
		for _, b := range ids {
			if a == b {
				continue
			}
			aFollowsB := findEdge(t, database, b, a)
			bFollowsA := findEdge(t, database, a, b)
			mutual := aFollowsB != nil && bFollowsA != nil && aFollowsB.Active && bFollowsA.Active

			aHasB := hasFriendRow(t, database, a, b)
			bHasA := hasFriendRow(t, database, b, a)
			assert.Equal(t, aHasB, bHasA, "asymmetric friendship %d<->%d", a, b)
			assert.Equal(t, mutual, aHasB, "friendship %d<->%d does not match subscriptions", a, b)
		}
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []RelationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, events []RelationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *recordingNotifier) types() []RelationEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]RelationEventType, 0, len(n.events))
	for _, e := range n.events {
		types = append(types, e.Type)
	}
	return types
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}
