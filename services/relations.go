package services

import (
	"context"
	"errors"
	"time"

	"github.com/EvgeniiGolubev/backend-test-task/models"

	"github.com/sirupsen/logrus"
)

// OperationRecorder получает длительность и результат каждой операции движка (метрики)
type OperationRecorder func(operation, result string, duration time.Duration)

// RelationEngine управляет подписками и дружбой.
// Дружба A<->B существует тогда и только тогда, когда обе подписки A->B и B->A есть и активны;
// таблица friends пересчитывается из подписок в конце каждой операции.
type RelationEngine struct {
	store    RelationStore
	locker   PairLocker
	mirror   *FriendMirror
	notifier Notifier
	record   OperationRecorder
}

type EngineOption func(*RelationEngine)

func WithPairLocker(locker PairLocker) EngineOption {
	return func(e *RelationEngine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

func WithFriendMirror(mirror *FriendMirror) EngineOption {
	return func(e *RelationEngine) { e.mirror = mirror }
}

func WithNotifier(notifier Notifier) EngineOption {
	return func(e *RelationEngine) { e.notifier = notifier }
}

func WithOperationRecorder(record OperationRecorder) EngineOption {
	return func(e *RelationEngine) { e.record = record }
}

func NewRelationEngine(store RelationStore, opts ...EngineOption) *RelationEngine {
	engine := &RelationEngine{
		store:  store,
		locker: NoopLocker{},
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// SetFollowing подписывает (wantFollow=true) или отписывает followerID от followeeID.
// Если followee уже подписан на follower, обе подписки активируются и пользователи становятся друзьями.
// Отписка удаляет только свою подписку, встречная подписка остаётся как есть.
func (e *RelationEngine) SetFollowing(ctx context.Context, followerID, followeeID int64, wantFollow bool) (err error) {
	start := time.Now()
	defer func() { e.observe("set_following", start, err) }()

	if followerID == followeeID {
		return ErrSelfRelation
	}

	unlock, err := e.locker.Lock(ctx, followerID, followeeID)
	if err != nil {
		return err
	}
	defer unlock()

	var events []RelationEvent
	err = e.store.InTx(ctx, func(tx RelationStore) error {
		events = nil

		follower, followee, err := loadParticipants(ctx, tx.Users(), followerID, followeeID)
		if err != nil {
			return err
		}

		edges := tx.Edges()
		forward, err := edges.FindEdge(ctx, followeeID, followerID)
		if err != nil {
			return err
		}
		reverse, err := edges.FindEdge(ctx, followerID, followeeID)
		if err != nil {
			return err
		}

		mutated := false
		if wantFollow {
			forwardChanged := false
			if forward == nil {
				forward = &models.FollowEdge{FolloweeID: followeeID, FollowerID: followerID}
				forwardChanged = true
				events = append(events, newRelationEvent(EventFollowRequested, followeeID, followerID, followeeID))
			}
			// встречная подписка уже есть - подписка становится взаимной
			if reverse != nil && !(forward.Active && reverse.Active) {
				forward.Active = true
				forwardChanged = true
				if !reverse.Active {
					reverse.Active = true
					if err := edges.SaveEdge(ctx, reverse); err != nil {
						return err
					}
					mutated = true
				}
			}
			if forwardChanged {
				if err := edges.SaveEdge(ctx, forward); err != nil {
					return err
				}
				mutated = true
			}
		} else if forward != nil {
			if err := edges.DeleteEdge(ctx, followeeID, followerID); err != nil {
				return err
			}
			forward = nil
			mutated = true
			events = append(events, newRelationEvent(EventUnfollowed, followeeID, followerID, followeeID))
		}

		changed, err := e.reconcileFriendship(ctx, tx.Friends(), followerID, followeeID, forward, reverse)
		if err != nil {
			return err
		}
		events = append(events, changed...)

		// повторный вызов ничего не меняет, в том числе updated_at участников
		if !mutated && len(changed) == 0 {
			return nil
		}
		return saveParticipants(ctx, tx.Users(), follower, followee)
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"follower_id": followerID,
		"followee_id": followeeID,
		"follow":      wantFollow,
		"events":      len(events),
	}).Debug("subscription changed")

	e.afterCommit(ctx, events, followerID, followeeID)
	return nil
}

// RespondToFollower - ответ followeeID на входящую подписку followerID.
// accept: подписка активируется, встречная подписка создаётся (или активируется), пользователи становятся друзьями.
// reject: подписка остаётся, но становится неактивной, встречная подписка удаляется, дружба разрывается.
func (e *RelationEngine) RespondToFollower(ctx context.Context, followeeID, followerID int64, accept bool) (err error) {
	start := time.Now()
	defer func() { e.observe("respond_to_follower", start, err) }()

	if followeeID == followerID {
		return ErrSelfRelation
	}

	unlock, err := e.locker.Lock(ctx, followeeID, followerID)
	if err != nil {
		return err
	}
	defer unlock()

	var events []RelationEvent
	err = e.store.InTx(ctx, func(tx RelationStore) error {
		events = nil

		followee, follower, err := loadParticipants(ctx, tx.Users(), followeeID, followerID)
		if err != nil {
			return err
		}

		edges := tx.Edges()
		forward, err := edges.FindEdge(ctx, followeeID, followerID)
		if err != nil {
			return err
		}
		if forward == nil {
			return ErrRelationNotFound
		}
		reverse, err := edges.FindEdge(ctx, followerID, followeeID)
		if err != nil {
			return err
		}

		mutated := false
		if accept {
			if !forward.Active {
				forward.Active = true
				if err := edges.SaveEdge(ctx, forward); err != nil {
					return err
				}
				events = append(events, newRelationEvent(EventFollowerAccepted, followeeID, followerID, followerID))
				mutated = true
			}
			if reverse == nil {
				reverse = &models.FollowEdge{FolloweeID: followerID, FollowerID: followeeID, Active: true}
				if err := edges.SaveEdge(ctx, reverse); err != nil {
					return err
				}
				mutated = true
			} else if !reverse.Active {
				reverse.Active = true
				if err := edges.SaveEdge(ctx, reverse); err != nil {
					return err
				}
				mutated = true
			}
		} else {
			rejected := false
			if forward.Active {
				forward.Active = false
				if err := edges.SaveEdge(ctx, forward); err != nil {
					return err
				}
				rejected = true
			}
			if reverse != nil {
				if err := edges.DeleteEdge(ctx, followerID, followeeID); err != nil {
					return err
				}
				reverse = nil
				rejected = true
			}
			if rejected {
				mutated = true
				events = append(events, newRelationEvent(EventFollowerRejected, followeeID, followerID, followerID))
			}
		}

		changed, err := e.reconcileFriendship(ctx, tx.Friends(), followeeID, followerID, reverse, forward)
		if err != nil {
			return err
		}
		events = append(events, changed...)

		if !mutated && len(changed) == 0 {
			return nil
		}
		return saveParticipants(ctx, tx.Users(), followee, follower)
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"followee_id": followeeID,
		"follower_id": followerID,
		"accept":      accept,
		"events":      len(events),
	}).Debug("subscriber status changed")

	e.afterCommit(ctx, events, followeeID, followerID)
	return nil
}

// reconcileFriendship приводит friends в соответствие с подписками a->b (aFollowsB) и b->a (bFollowsA).
// Подписка a->b хранится как FollowEdge{FolloweeID: b, FollowerID: a}; nil - подписки нет.
func (e *RelationEngine) reconcileFriendship(ctx context.Context, friends *FriendshipCache, a, b int64, aFollowsB, bFollowsA *models.FollowEdge) ([]RelationEvent, error) {
	want := aFollowsB != nil && bFollowsA != nil && aFollowsB.Active && bFollowsA.Active

	was, err := friends.Contains(ctx, a, b)
	if err != nil {
		return nil, err
	}

	// Add и Remove идемпотентны и чинят несимметричные строки, поэтому вызываются всегда
	if want {
		err = friends.Add(ctx, a, b)
	} else {
		err = friends.Remove(ctx, a, b)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case want && !was:
		return []RelationEvent{
			newRelationEvent(EventFriendshipCreated, a, b, a),
			newRelationEvent(EventFriendshipCreated, a, b, b),
		}, nil
	case !want && was:
		return []RelationEvent{
			newRelationEvent(EventFriendshipRemoved, a, b, a),
			newRelationEvent(EventFriendshipRemoved, a, b, b),
		}, nil
	}
	return nil, nil
}

func (e *RelationEngine) afterCommit(ctx context.Context, events []RelationEvent, a, b int64) {
	if e.mirror != nil {
		e.mirror.Invalidate(ctx, a, b)
	}
	if e.notifier != nil && len(events) > 0 {
		e.notifier.Notify(ctx, events)
	}
}

func (e *RelationEngine) observe(operation string, start time.Time, err error) {
	if e.record == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrSelfRelation):
		result = "self_relation"
	case errors.Is(err, ErrRelationNotFound):
		result = "relation_not_found"
	case errors.Is(err, ErrParticipantNotFound):
		result = "participant_not_found"
	default:
		result = "error"
	}
	e.record(operation, result, time.Since(start))
}

// loadParticipants читает пользователей по возрастанию id, чтобы блокировки строк всегда брались в одном порядке
func loadParticipants(ctx context.Context, users UserDirectory, a, b int64) (*models.User, *models.User, error) {
	first, second := a, b
	if first > second {
		first, second = second, first
	}
	firstUser, err := users.FindByID(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	secondUser, err := users.FindByID(ctx, second)
	if err != nil {
		return nil, nil, err
	}
	if first == a {
		return firstUser, secondUser, nil
	}
	return secondUser, firstUser, nil
}

func saveParticipants(ctx context.Context, users UserDirectory, participants ...*models.User) error {
	for _, user := range participants {
		if err := users.Save(ctx, user); err != nil {
			return err
		}
	}
	return nil
}
