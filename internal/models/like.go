package models

import "time"

// Like represents a like on a pin
type Like struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PinID     uint      `json:"pin_id" gorm:"index;uniqueIndex:idx_like_pin_user"`
	UserID    uint      `json:"user_id" gorm:"index;uniqueIndex:idx_like_pin_user"`
	CreatedAt time.Time `json:"created_at"`
}
