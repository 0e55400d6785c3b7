package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PushToken holds the structure for the push_tokens collection in mongo
type PushToken struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID    uint               `json:"user_id" bson:"user_id"`
	Token     string             `json:"-" bson:"token"` // device-issued FCM registration token
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// PushTokenRequest defines the request body for registering or removing a device token
type PushTokenRequest struct {
	Token string `json:"token" validate:"required,min=8,max=4096"`
}
