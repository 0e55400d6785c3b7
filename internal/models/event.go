package models

// NotificationEvent describes a user action that may produce notifications.
// It is the JSON payload carried by the event queue.
type NotificationEvent struct {
	Kind        NotificationKind `json:"kind"`
	SenderID    uint             `json:"senderId"`
	TargetID    uint             `json:"targetId"`    // pin for LIKE/COMMENT, user for FOLLOW, post for POST
	CommentText *string          `json:"commentText"` // COMMENT only
}

// NewLikeEvent builds the event published when senderID likes a pin.
func NewLikeEvent(senderID, pinID uint) NotificationEvent {
	return NotificationEvent{Kind: KindLike, SenderID: senderID, TargetID: pinID}
}

// NewCommentEvent builds the event published when senderID comments on a pin.
func NewCommentEvent(senderID, pinID uint, text string) NotificationEvent {
	return NotificationEvent{Kind: KindComment, SenderID: senderID, TargetID: pinID, CommentText: &text}
}

// NewFollowEvent builds the event published when senderID follows userID.
func NewFollowEvent(senderID, userID uint) NotificationEvent {
	return NotificationEvent{Kind: KindFollow, SenderID: senderID, TargetID: userID}
}

// NewPostEvent builds the event published when senderID shares a post.
func NewPostEvent(senderID, postID uint) NotificationEvent {
	return NotificationEvent{Kind: KindPost, SenderID: senderID, TargetID: postID}
}
