package entity

import (
	"fmt"
	"time"
)

// User is a platform account that interacted with the bot.
// CaptchaPassed is authoritative; any in-memory copy is a cache.
type User struct {
	UserId        int64     `json:"user_id" bson:"user_id"`
	Username      string    `json:"username" bson:"username"`
	FullName      string    `json:"full_name" bson:"full_name"`
	Banned        bool      `json:"banned" bson:"banned"`
	CaptchaPassed bool      `json:"captcha_passed" bson:"captcha_passed"`
	FirstSeen     time.Time `json:"first_seen" bson:"first_seen"`
	LastActivity  time.Time `json:"last_activity" bson:"last_activity"`
}

func (u *User) DisplayName() string {
	if u.Username != "" {
		return fmt.Sprintf("@%s (%d)", u.Username, u.UserId)
	}
	if u.FullName != "" {
		return fmt.Sprintf("%s (%d)", u.FullName, u.UserId)
	}
	return fmt.Sprintf("%d", u.UserId)
}
