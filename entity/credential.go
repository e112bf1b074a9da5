package entity

import "time"

// Credential is a personal invite link issued to one user for one channel.
// At most one credential per (UserId, ChannelId) may be valid at a time, and
// a credential that became inactive is never reactivated.
type Credential struct {
	Id          int64     `json:"id" bson:"id"`
	UserId      int64     `json:"user_id" bson:"user_id"`
	ChannelId   int64     `json:"channel_id" bson:"channel_id"`
	InviteLink  string    `json:"invite_link" bson:"invite_link"`
	Token       string    `json:"-" bson:"-"`
	ExpiresAt   time.Time `json:"expires_at" bson:"expires_at"`
	MaxUses     int       `json:"max_uses" bson:"max_uses"`
	CurrentUses int       `json:"current_uses" bson:"current_uses"`
	Active      bool      `json:"active" bson:"active"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UsedAt      time.Time `json:"used_at,omitempty" bson:"used_at,omitempty"`
}

// IsValid reports whether the credential can still be consumed at now.
func (c *Credential) IsValid(now time.Time) bool {
	return c.Active && c.ExpiresAt.After(now) && c.CurrentUses < c.MaxUses
}

// LinkHistoryItem is one row of a user's credential history.
type LinkHistoryItem struct {
	ChannelTitle string    `json:"channel_title"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CurrentUses  int       `json:"current_uses"`
	MaxUses      int       `json:"max_uses"`
	Active       bool      `json:"active"`
}
