// Package events carries notification events from request handlers to the notification consumer over Pub/Sub.
package events

import (
	"fmt"

	"github.com/anonto42/nano-midea/notifications/internal/models"
)

// commentPreviewRunes is how much of a comment is quoted in its notification.
const commentPreviewRunes = 50

func likeMessage(username string) string {
	return fmt.Sprintf("%s liked your pin", username)
}

func commentMessage(username, text string) string {
	return fmt.Sprintf("%s commented: %s", username, previewComment(text))
}

func followMessage(username string) string {
	return fmt.Sprintf("%s started following you", username)
}

func postMessage(username string) string {
	return fmt.Sprintf("%s shared a new post", username)
}

// previewComment keeps the first 50 characters of text and marks the cut with an ellipsis.
func previewComment(text string) string {
	runes := []rune(text)
	if len(runes) <= commentPreviewRunes {
		return text
	}
	return string(runes[:commentPreviewRunes]) + "…"
}

// BuildMessage renders the notification text for an event. The comment text is only read for COMMENT.
func BuildMessage(kind models.NotificationKind, username string, commentText string) string {
	switch kind {
	case models.KindLike:
		return likeMessage(username)
	case models.KindComment:
		return commentMessage(username, commentText)
	case models.KindFollow:
		return followMessage(username)
	case models.KindPost:
		return postMessage(username)
	}
	return ""
}
