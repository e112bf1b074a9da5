// Package provider talks to the messaging platform that owns the channels:
// it mints invite links and reports the bot's membership in a channel.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Member statuses as reported by the platform
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

var (
	// ErrPermission means the bot lacks the rights for the operation
	ErrPermission = errors.New("insufficient permissions")
	// ErrRateLimited is matched by every *RateLimitError
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("provider unavailable")
	// ErrNotFound means the chat does not exist or is not visible to the bot
	ErrNotFound = errors.New("chat not found")
)

// RateLimitError carries the wait the platform asked for
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter returns the wait requested by a rate limit error, zero otherwise
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

type Membership struct {
	Status          string
	IsAdministrator bool
	CanInviteUsers  bool
}

// Present reports whether the bot is still inside the chat
func (m Membership) Present() bool {
	return m.Status != StatusLeft && m.Status != StatusKicked
}

type ChatInfo struct {
	Title      string
	Username   string
	InviteLink string
}

// Provider is the platform side of invite management. Implementations must
// be safe for concurrent use and must return the package's typed errors.
type Provider interface {
	CreateInvite(ctx context.Context, chatId int64, ttl time.Duration, maxUses int, name string) (string, error)
	RevokeInvite(ctx context.Context, chatId int64, link string) error
	Membership(ctx context.Context, chatId int64) (Membership, error)
	ChatInfo(ctx context.Context, chatId int64) (ChatInfo, error)
}
