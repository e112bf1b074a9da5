package entity

import (
	"fmt"
	"time"
)

// Channel is a managed group the bot can hand out invite links for.
// ChatId is the platform identifier; Id is the internal row key that
// credentials and daily stats reference.
type Channel struct {
	Id         int64     `json:"id" bson:"id"`
	ChatId     int64     `json:"chat_id" bson:"chat_id" validate:"required"`
	Title      string    `json:"title" bson:"title" validate:"required,max=255"`
	Username   string    `json:"username" bson:"username" validate:"omitempty,max=64"`
	InviteLink string    `json:"invite_link" bson:"invite_link" validate:"omitempty,url"`
	Active     bool      `json:"active" bson:"active"`
	BotIsAdmin bool      `json:"bot_is_admin" bson:"bot_is_admin"`
	AddedAt    time.Time `json:"added_at" bson:"added_at"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
}

// ChannelInfo carries the platform-owned descriptive fields refreshed by the
// membership monitor.
type ChannelInfo struct {
	Title      string
	Username   string
	InviteLink string
}

// FallbackLink returns the static join URL used when a personal link cannot
// be minted. It carries no single-use or expiry enforcement.
func (c *Channel) FallbackLink() string {
	if c.InviteLink != "" {
		return c.InviteLink
	}
	if c.Username != "" {
		return fmt.Sprintf("https://t.me/%s", c.Username)
	}
	return ""
}

func (c *Channel) DisplayName() string {
	if c.Username != "" {
		return fmt.Sprintf("%s (@%s)", c.Title, c.Username)
	}
	return c.Title
}
