package entity

import "time"

// UsageEvent records one consumption attempt. Rows are append-only.
// CredentialId and ChannelId are zero when the token matched nothing.
type UsageEvent struct {
	Id           int64     `json:"id"`
	CredentialId int64     `json:"credential_id,omitempty"`
	ChannelId    int64     `json:"channel_id,omitempty"`
	UserId       int64     `json:"user_id"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
