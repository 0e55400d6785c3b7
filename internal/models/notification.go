package models

import "time"

// NotificationKind identifies what happened to the recipient's content.
type NotificationKind string

const (
	KindLike    NotificationKind = "LIKE"
	KindComment NotificationKind = "COMMENT"
	KindFollow  NotificationKind = "FOLLOW"
	KindPost    NotificationKind = "POST"
)

// Valid reports whether k is one of the known kinds.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindLike, KindComment, KindFollow, KindPost:
		return true
	}
	return false
}

// PushTitle is the title used for the mobile push that accompanies a notification of this kind.
func (k NotificationKind) PushTitle() string {
	switch k {
	case KindLike:
		return "New like"
	case KindComment:
		return "New comment"
	case KindFollow:
		return "New follower"
	case KindPost:
		return "New post"
	}
	return "New notification"
}

// Notification represents a user notification (PostgreSQL)
type Notification struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	Kind        NotificationKind `json:"kind" gorm:"size:20;index"`
	Message     string           `json:"message"`
	RecipientID uint             `json:"recipient_id" gorm:"index;not null"`
	SenderID    *uint            `json:"sender_id" gorm:"index"` // nil once the sender is gone
	PinID       *uint            `json:"pin_id" gorm:"index"`
	PostID      *uint            `json:"post_id" gorm:"index"`
	IsRead      bool             `json:"is_read" gorm:"default:false;index"`
	CreatedAt   time.Time        `json:"created_at" gorm:"index"`
}

// NotificationView is the shape sent to clients, both over REST and on the live stream.
type NotificationView struct {
	ID             uint             `json:"id"`
	Kind           NotificationKind `json:"kind"`
	Message        string           `json:"message"`
	SenderID       *uint            `json:"senderId"`
	SenderUsername string           `json:"senderUsername"`
	PinID          *uint            `json:"pinId"`
	PinImageURL    string           `json:"pinImageUrl"`
	PostID         *uint            `json:"postId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	IsRead         bool             `json:"isRead"`
}

// GroupedNotifications buckets a recipient's notifications by age.
type GroupedNotifications struct {
	Today     []NotificationView `json:"today"`
	Yesterday []NotificationView `json:"yesterday"`
	ThisWeek  []NotificationView `json:"thisWeek"`
	Older     []NotificationView `json:"older"`
}
