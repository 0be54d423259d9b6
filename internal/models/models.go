package models

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"  json:"-"`
	Username     string    `gorm:"uniqueIndex;not null"      json:"username"`
	PasswordHash string    `gorm:"not null"                  json:"-"`
	IsModerator  bool      `gorm:"not null;default:false"    json:"isModerator"`
	CreatedAt    time.Time `                                 json:"-"`
}
