package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

const requestTimeout = 15 * time.Second

// Telegram implements Provider with the Bot API
type Telegram struct {
	api *tgbotapi.Bot
}

func NewTelegram(api *tgbotapi.Bot) *Telegram {
	return &Telegram{api: api}
}

func (t *Telegram) requestOpts() *tgbotapi.RequestOpts {
	return &tgbotapi.RequestOpts{Timeout: requestTimeout}
}

// CreateInvite mints a link limited to maxUses joins that expires after ttl.
// name is attached to the link and returned in join updates.
func (t *Telegram) CreateInvite(ctx context.Context, chatId int64, ttl time.Duration, maxUses int, name string) (string, error) {
	opts := &tgbotapi.CreateChatInviteLinkOpts{
		Name:        name,
		ExpireDate:  time.Now().Add(ttl).Unix(),
		MemberLimit: int64(maxUses),
		RequestOpts: t.requestOpts(),
	}
	link, err := t.api.CreateChatInviteLinkWithContext(ctx, chatId, opts)
	if err != nil {
		return "", Classify(err)
	}
	return link.InviteLink, nil
}

func (t *Telegram) RevokeInvite(ctx context.Context, chatId int64, link string) error {
	_, err := t.api.RevokeChatInviteLinkWithContext(ctx, chatId, link, &tgbotapi.RevokeChatInviteLinkOpts{
		RequestOpts: t.requestOpts(),
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// Membership reports the bot's own status in the chat
func (t *Telegram) Membership(ctx context.Context, chatId int64) (Membership, error) {
	member, err := t.api.GetChatMemberWithContext(ctx, chatId, t.api.Id, &tgbotapi.GetChatMemberOpts{
		RequestOpts: t.requestOpts(),
	})
	if err != nil {
		return Membership{}, Classify(err)
	}
	return MembershipOf(member), nil
}

// MembershipOf reads status and invite rights from a Bot API member record
func MembershipOf(member tgbotapi.ChatMember) Membership {
	m := Membership{Status: member.GetStatus()}
	switch v := member.(type) {
	case tgbotapi.ChatMemberOwner, *tgbotapi.ChatMemberOwner:
		m.IsAdministrator = true
		m.CanInviteUsers = true
	case tgbotapi.ChatMemberAdministrator:
		m.IsAdministrator = true
		m.CanInviteUsers = v.CanInviteUsers
	case *tgbotapi.ChatMemberAdministrator:
		m.IsAdministrator = true
		m.CanInviteUsers = v.CanInviteUsers
	}
	return m
}

func (t *Telegram) ChatInfo(ctx context.Context, chatId int64) (ChatInfo, error) {
	chat, err := t.api.GetChatWithContext(ctx, chatId, &tgbotapi.GetChatOpts{
		RequestOpts: t.requestOpts(),
	})
	if err != nil {
		return ChatInfo{}, Classify(err)
	}
	return ChatInfo{
		Title:      chat.Title,
		Username:   chat.Username,
		InviteLink: chat.InviteLink,
	}, nil
}

// Classify maps a Bot API failure onto the package's typed errors
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var tgErr *tgbotapi.TelegramError
	if !errors.As(err, &tgErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	desc := strings.ToLower(tgErr.Description)
	switch {
	case tgErr.Code == 429:
		wait := time.Second
		if tgErr.ResponseParams != nil && tgErr.ResponseParams.RetryAfter > 0 {
			wait = time.Duration(tgErr.ResponseParams.RetryAfter) * time.Second
		}
		return &RateLimitError{RetryAfter: wait}
	case tgErr.Code == 403:
		return fmt.Errorf("%w: %s", ErrPermission, tgErr.Description)
	case tgErr.Code == 400 && strings.Contains(desc, "chat not found"):
		return fmt.Errorf("%w: %s", ErrNotFound, tgErr.Description)
	case tgErr.Code == 400 && (strings.Contains(desc, "rights") || strings.Contains(desc, "admin") || strings.Contains(desc, "not enough")):
		return fmt.Errorf("%w: %s", ErrPermission, tgErr.Description)
	case tgErr.Code >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, tgErr.Description)
	default:
		return fmt.Errorf("%w: %d %s", ErrUnavailable, tgErr.Code, tgErr.Description)
	}
}
