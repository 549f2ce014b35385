package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T) (*RelationEngine, *gorm.DB, *recordingNotifier) {
	t.Helper()
	database := setupTestDB(t)
	notifier := &recordingNotifier{}
	engine := NewRelationEngine(NewGormRelationStore(database), WithNotifier(notifier))
	return engine, database, notifier
}

func TestSelfRelationIsRejected(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	a := createTestUser(t, database).ID

	err := engine.SetFollowing(ctx, a, a, true)
	assert.ErrorIs(t, err, ErrSelfRelation)

	err = engine.SetFollowing(ctx, a, a, false)
	assert.ErrorIs(t, err, ErrSelfRelation)

	err = engine.RespondToFollower(ctx, a, a, true)
	assert.ErrorIs(t, err, ErrSelfRelation)

	assert.Zero(t, countEdges(t, database))
	assert.False(t, hasFriendRow(t, database, a, a))
	assert.Empty(t, notifier.types())
}

func TestFollowCreatesPendingEdge(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))

	edge := findEdge(t, database, b, a)
	require.NotNil(t, edge)
	assert.False(t, edge.Active)
	assert.Nil(t, findEdge(t, database, a, b))
	assert.False(t, hasFriendRow(t, database, a, b))
	assert.False(t, hasFriendRow(t, database, b, a))
	assert.Equal(t, []RelationEventType{EventFollowRequested}, notifier.types())
	assert.Equal(t, b, notifier.events[0].RecipientID)
	assertRelationsConsistent(t, database, ids)
}

func TestMutualFollowMakesFriends(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	notifier.reset()
	require.NoError(t, engine.SetFollowing(ctx, b, a, true))

	aFollowsB := findEdge(t, database, b, a)
	bFollowsA := findEdge(t, database, a, b)
	require.NotNil(t, aFollowsB)
	require.NotNil(t, bFollowsA)
	assert.True(t, aFollowsB.Active)
	assert.True(t, bFollowsA.Active)

	friends := NewFriendshipCache(database)
	aFriends, err := friends.FriendIDs(ctx, a)
	require.NoError(t, err)
	bFriends, err := friends.FriendIDs(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, aFriends)
	assert.Equal(t, []int64{a}, bFriends)

	assert.ElementsMatch(t,
		[]RelationEventType{EventFollowRequested, EventFriendshipCreated, EventFriendshipCreated},
		notifier.types())
	assertRelationsConsistent(t, database, ids)
}

func TestSetFollowingIsIdempotent(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	first := findEdge(t, database, b, a)
	require.NotNil(t, first)

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	second := findEdge(t, database, b, a)
	require.NotNil(t, second)

	assert.Equal(t, first.Active, second.Active)
	assert.Equal(t, int64(1), countEdges(t, database))
	assert.Len(t, notifier.types(), 1)

	// отписка от того, на кого не подписан, ничего не меняет
	require.NoError(t, engine.SetFollowing(ctx, b, a, false))
	assert.Equal(t, int64(1), countEdges(t, database))

	require.NoError(t, engine.SetFollowing(ctx, a, b, false))
	require.NoError(t, engine.SetFollowing(ctx, a, b, false))
	assert.Zero(t, countEdges(t, database))
	assertRelationsConsistent(t, database, ids)
}

func TestFriendsStayFriendsOnRepeatedFollow(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	require.NoError(t, engine.SetFollowing(ctx, b, a, true))
	notifier.reset()

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	require.NoError(t, engine.SetFollowing(ctx, b, a, true))

	assert.True(t, hasFriendRow(t, database, a, b))
	assert.Equal(t, int64(2), countEdges(t, database))
	assert.Empty(t, notifier.types())
	assertRelationsConsistent(t, database, ids)
}

func TestUnfollowBreaksFriendshipUnilaterally(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	require.NoError(t, engine.SetFollowing(ctx, b, a, true))
	require.True(t, hasFriendRow(t, database, a, b))
	notifier.reset()

	require.NoError(t, engine.SetFollowing(ctx, a, b, false))

	assert.Nil(t, findEdge(t, database, b, a))
	bFollowsA := findEdge(t, database, a, b)
	require.NotNil(t, bFollowsA)
	assert.True(t, bFollowsA.Active, "reciprocal subscription must stay untouched")
	assert.False(t, hasFriendRow(t, database, a, b))
	assert.False(t, hasFriendRow(t, database, b, a))
	assert.ElementsMatch(t,
		[]RelationEventType{EventUnfollowed, EventFriendshipRemoved, EventFriendshipRemoved},
		notifier.types())
	assertRelationsConsistent(t, database, ids)

	// повторная подписка восстанавливает дружбу
	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	assert.True(t, hasFriendRow(t, database, a, b))
	assertRelationsConsistent(t, database, ids)
}

func TestRejectDemotesPendingEdge(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	notifier.reset()

	require.NoError(t, engine.RespondToFollower(ctx, b, a, false))

	edge := findEdge(t, database, b, a)
	require.NotNil(t, edge, "rejected subscription must not be deleted")
	assert.False(t, edge.Active)
	assert.Nil(t, findEdge(t, database, a, b))
	assert.False(t, hasFriendRow(t, database, a, b))
	assert.False(t, hasFriendRow(t, database, b, a))
	// заявка и так была неактивной и встречной подписки не было - менять нечего
	assert.Empty(t, notifier.types())
	assertRelationsConsistent(t, database, ids)

	require.NoError(t, engine.RespondToFollower(ctx, b, a, false))
	assert.Equal(t, int64(1), countEdges(t, database))
}

func TestRejectFriendDemotesToPending(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	require.NoError(t, engine.SetFollowing(ctx, b, a, true))
	notifier.reset()

	require.NoError(t, engine.RespondToFollower(ctx, b, a, false))

	aFollowsB := findEdge(t, database, b, a)
	require.NotNil(t, aFollowsB)
	assert.False(t, aFollowsB.Active)
	assert.Nil(t, findEdge(t, database, a, b), "reciprocal subscription must be removed on reject")
	assert.False(t, hasFriendRow(t, database, a, b))
	assert.ElementsMatch(t,
		[]RelationEventType{EventFollowerRejected, EventFriendshipRemoved, EventFriendshipRemoved},
		notifier.types())
	assertRelationsConsistent(t, database, ids)
}

func TestAcceptCreatesReciprocalEdge(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	c, d := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, d, c, true))
	notifier.reset()

	require.NoError(t, engine.RespondToFollower(ctx, c, d, true))

	dFollowsC := findEdge(t, database, c, d)
	cFollowsD := findEdge(t, database, d, c)
	require.NotNil(t, dFollowsC)
	require.NotNil(t, cFollowsD)
	assert.True(t, dFollowsC.Active)
	assert.True(t, cFollowsD.Active)

	friends := NewFriendshipCache(database)
	cFriends, err := friends.FriendIDs(ctx, c)
	require.NoError(t, err)
	dFriends, err := friends.FriendIDs(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, []int64{d}, cFriends)
	assert.Equal(t, []int64{c}, dFriends)

	assert.ElementsMatch(t,
		[]RelationEventType{EventFollowerAccepted, EventFriendshipCreated, EventFriendshipCreated},
		notifier.types())
	assertRelationsConsistent(t, database, ids)

	notifier.reset()
	require.NoError(t, engine.RespondToFollower(ctx, c, d, true))
	assert.Equal(t, int64(2), countEdges(t, database))
	assert.Empty(t, notifier.types())
}

func TestAcceptAfterRejectRestoresFriendship(t *testing.T) {
	engine, database, _ := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	require.NoError(t, engine.RespondToFollower(ctx, b, a, false))
	require.NoError(t, engine.RespondToFollower(ctx, b, a, true))

	assert.True(t, hasFriendRow(t, database, a, b))
	assertRelationsConsistent(t, database, ids)
}

func TestRespondWithoutSubscription(t *testing.T) {
	engine, database, notifier := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	err := engine.RespondToFollower(ctx, b, a, true)
	assert.ErrorIs(t, err, ErrRelationNotFound)

	// подписка b -> a не даёт b права отвечать самому себе за a
	require.NoError(t, engine.SetFollowing(ctx, b, a, true))
	err = engine.RespondToFollower(ctx, b, a, false)
	assert.ErrorIs(t, err, ErrRelationNotFound)

	assert.Equal(t, int64(1), countEdges(t, database))
	assert.Equal(t, []RelationEventType{EventFollowRequested}, notifier.types())
}

func TestUnknownParticipant(t *testing.T) {
	engine, database, _ := newTestEngine(t)
	ctx := context.Background()
	a := createTestUser(t, database).ID
	missing := a + 1000

	err := engine.SetFollowing(ctx, a, missing, true)
	require.ErrorIs(t, err, ErrParticipantNotFound)
	var notFound *ParticipantNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, missing, notFound.UserID)

	err = engine.RespondToFollower(ctx, missing, a, true)
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	assert.Zero(t, countEdges(t, database))
}

// failingStore ломает сохранение пользователя внутри транзакции, чтобы проверить откат
type failingStore struct {
	*GormRelationStore
}

type failingUsers struct {
	UserDirectory
}

var errSaveFailed = errors.New("save failed")

func (failingUsers) Save(context.Context, *models.User) error {
	return errSaveFailed
}

func (s failingStore) Users() UserDirectory {
	return failingUsers{UserDirectory: s.GormRelationStore.Users()}
}

func (s failingStore) InTx(ctx context.Context, fn func(tx RelationStore) error) error {
	return s.GormRelationStore.InTx(ctx, func(tx RelationStore) error {
		return fn(failingStore{GormRelationStore: tx.(*GormRelationStore)})
	})
}

func TestFailedTransitionIsRolledBack(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	engine := NewRelationEngine(NewGormRelationStore(database))
	require.NoError(t, engine.SetFollowing(ctx, a, b, true))

	notifier := &recordingNotifier{}
	broken := NewRelationEngine(failingStore{GormRelationStore: NewGormRelationStore(database)}, WithNotifier(notifier))

	err := broken.SetFollowing(ctx, b, a, true)
	require.ErrorIs(t, err, errSaveFailed)

	// ни встречной подписки, ни активации, ни дружбы
	aFollowsB := findEdge(t, database, b, a)
	require.NotNil(t, aFollowsB)
	assert.False(t, aFollowsB.Active)
	assert.Nil(t, findEdge(t, database, a, b))
	assert.False(t, hasFriendRow(t, database, a, b))
	assert.Empty(t, notifier.types(), "events must not be sent for a rolled back transition")

	err = broken.RespondToFollower(ctx, b, a, true)
	require.ErrorIs(t, err, errSaveFailed)
	assert.Nil(t, findEdge(t, database, a, b))
	assertRelationsConsistent(t, database, ids)
}

func TestReconcileRepairsDriftedFriendship(t *testing.T) {
	engine, database, _ := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	// несимметричная строка, которой не соответствует ни одна подписка
	require.NoError(t, database.Create(&models.Friend{UserID: b, FriendID: a, CreatedAt: time.Now()}).Error)

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	assert.False(t, hasFriendRow(t, database, b, a))
	assertRelationsConsistent(t, database, ids)
}

func TestOperationRecorder(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)

	var mu sync.Mutex
	results := map[string][]string{}
	engine := NewRelationEngine(NewGormRelationStore(database),
		WithOperationRecorder(func(operation, result string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			results[operation] = append(results[operation], result)
		}))

	require.NoError(t, engine.SetFollowing(ctx, ids[0], ids[1], true))
	assert.Error(t, engine.SetFollowing(ctx, ids[0], ids[0], true))
	assert.Error(t, engine.RespondToFollower(ctx, ids[0], ids[1], true))
	assert.Error(t, engine.SetFollowing(ctx, ids[0], ids[1]+100, true))

	assert.Equal(t, []string{"ok", "self_relation", "participant_not_found"}, results["set_following"])
	assert.Equal(t, []string{"relation_not_found"}, results["respond_to_follower"])
}

func TestConcurrentOperationsStayConsistent(t *testing.T) {
	engine, database, _ := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 5)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 40; i++ {
				a := ids[rnd.Intn(len(ids))]
				b := ids[rnd.Intn(len(ids))]
				flag := rnd.Intn(2) == 0
				var err error
				if rnd.Intn(3) == 0 {
					err = engine.RespondToFollower(ctx, a, b, flag)
				} else {
					err = engine.SetFollowing(ctx, a, b, flag)
				}
				if err != nil && !errors.Is(err, ErrSelfRelation) && !errors.Is(err, ErrRelationNotFound) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(int64(w) + 1)
	}
	wg.Wait()

	assertRelationsConsistent(t, database, ids)
}

func TestPairLockerIsUsed(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)

	locker := &countingLocker{}
	engine := NewRelationEngine(NewGormRelationStore(database), WithPairLocker(locker))

	require.NoError(t, engine.SetFollowing(ctx, ids[0], ids[1], true))
	require.NoError(t, engine.RespondToFollower(ctx, ids[1], ids[0], true))
	assert.ErrorIs(t, engine.SetFollowing(ctx, ids[0], ids[0], true), ErrSelfRelation)

	assert.Equal(t, 2, locker.locks)
	assert.Equal(t, 2, locker.unlocks)
	assert.Equal(t, []string{pairLockName(ids[0], ids[1]), pairLockName(ids[1], ids[0])}, locker.names)
}

type countingLocker struct {
	locks, unlocks int
	names          []string
}

func (l *countingLocker) Lock(_ context.Context, a, b int64) (func(), error) {
	l.locks++
	l.names = append(l.names, pairLockName(a, b))
	return func() { l.unlocks++ }, nil
}

func TestRepeatedCallsLeaveUsersUntouched(t *testing.T) {
	engine, database, _ := newTestEngine(t)
	ctx := context.Background()
	ids := createTestUsers(t, database, 2)
	a, b := ids[0], ids[1]

	updatedAt := func(id int64) time.Time {
		var user models.User
		require.NoError(t, database.First(&user, id).Error)
		return user.UpdatedAt
	}

	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	require.NoError(t, engine.RespondToFollower(ctx, b, a, true))
	beforeA, beforeB := updatedAt(a), updatedAt(b)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, engine.SetFollowing(ctx, a, b, true))
	require.NoError(t, engine.SetFollowing(ctx, b, a, true))
	require.NoError(t, engine.RespondToFollower(ctx, b, a, true))
	require.NoError(t, engine.RespondToFollower(ctx, a, b, true))

	assert.True(t, beforeA.Equal(updatedAt(a)), "updated_at of %d changed on a repeated call", a)
	assert.True(t, beforeB.Equal(updatedAt(b)), "updated_at of %d changed on a repeated call", b)

	// реальный переход обновляет обоих
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, engine.SetFollowing(ctx, a, b, false))
	assert.True(t, updatedAt(a).After(beforeA))
	assert.True(t, updatedAt(b).After(beforeB))
}
