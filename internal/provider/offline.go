package provider

import (
	"context"
	"time"
)

// Offline stands in when no platform connection is configured. Every call
// fails with ErrUnavailable, so users only receive fallback links.
type Offline struct{}

func (Offline) CreateInvite(context.Context, int64, time.Duration, int, string) (string, error) {
	return "", ErrUnavailable
}

func (Offline) RevokeInvite(context.Context, int64, string) error {
	return ErrUnavailable
}

func (Offline) Membership(context.Context, int64) (Membership, error) {
	return Membership{}, ErrUnavailable
}

func (Offline) ChatInfo(context.Context, int64) (ChatInfo, error) {
	return ChatInfo{}, ErrUnavailable
}
