package models

import "time"

// FollowEdge - направленная подписка follower -> followee.
// Active=false - заявка ждёт подтверждения, Active=true - подписка подтверждена и учитывается в дружбе.
// Пара (followee_id, follower_id) - первичный ключ, поэтому на упорядоченную пару не больше одной записи.
type FollowEdge struct {
	FolloweeID int64     `gorm:"primaryKey;autoIncrement:false;check:chk_follow_edges_not_self,followee_id <> follower_id" json:"followee_id"`
	FollowerID int64     `gorm:"primaryKey;autoIncrement:false;index" json:"follower_id"`
	Active     bool      `gorm:"not null;default:false" json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (FollowEdge) TableName() string {
	return "follow_edges"
}

// Friend - одна сторона дружбы. На каждую пару друзей хранится две строки: (A, B) и (B, A).
type Friend struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false;check:chk_friends_not_self,user_id <> friend_id" json:"user_id"`
	FriendID  int64     `gorm:"primaryKey;autoIncrement:false;index" json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Friend) TableName() string {
	return "friends"
}

// Subscriber - входящая подписка вместе с данными подписчика
type Subscriber struct {
	User
	Active bool `json:"active"`
}
