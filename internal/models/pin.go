package models

import "time"

// Pin is an image pinned by a user. Likes and comments on it notify the owner.
type Pin struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	OwnerID   uint      `json:"owner_id" gorm:"index;not null"`
	Title     string    `json:"title" gorm:"size:120"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// CreatePinRequest defines the request body for creating a new pin
type CreatePinRequest struct {
	Title    string `json:"title" validate:"required,min=1,max=120"`
	ImageURL string `json:"image_url" validate:"required,url"`
}
