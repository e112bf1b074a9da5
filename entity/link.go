package entity

import "time"

// Link is what a user receives for one channel.
// Enforced is false for the channel's static fallback URL: such a link has no
// usage limit or expiry behind it.
type Link struct {
	ChannelId       int64     `json:"channel_id"`
	ChannelTitle    string    `json:"channel_title"`
	ChannelUsername string    `json:"channel_username,omitempty"`
	URL             string    `json:"url"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	Enforced        bool      `json:"enforced"`
	New             bool      `json:"new"`
}
