package bot

import (
	"errors"
	"fmt"
	"log/slog"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/internal/provider"
	"invitegate/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

func anyMember(_ *tgbotapi.ChatMemberUpdated) bool {
	return true
}

// onMyChatMember follows the bot's own membership: joining a channel or
// a group registers it, leaving or being removed deactivates it
func (t *TgBot) onMyChatMember(_ *tgbotapi.Bot, ctx *ext.Context) error {
	upd := ctx.MyChatMember
	if t.core == nil || upd == nil || upd.Chat.Type == "private" {
		return nil
	}
	m := provider.MembershipOf(upd.NewChatMember)
	log := t.log.With(
		slog.Int64("chat_id", upd.Chat.Id),
		slog.String("status", m.Status),
		sl.User(upd.From.Id),
	)
	c, cancel := t.context()
	defer cancel()

	if !m.Present() {
		n, err := t.core.DeregisterChannel(c, upd.Chat.Id)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			log.Error("deregistering channel", sl.Err(err))
			return nil
		}
		log.Info("bot removed from channel")
		t.NotifyAdmins(fmt.Sprintf("Bot was removed from %s (%d), %d links deactivated", upd.Chat.Title, upd.Chat.Id, n))
		return nil
	}

	ch, err := t.core.RegisterChannel(c, &entity.Channel{
		ChatId:     upd.Chat.Id,
		Title:      upd.Chat.Title,
		Username:   upd.Chat.Username,
		BotIsAdmin: m.IsAdministrator && m.CanInviteUsers,
	})
	if err != nil {
		log.Error("registering channel", sl.Err(err))
		return nil
	}
	if ch.BotIsAdmin {
		t.NotifyAdmins(fmt.Sprintf("Channel %s is ready for personal links", ch.DisplayName()))
	} else {
		t.NotifyAdmins(fmt.Sprintf("Bot joined %s without invite rights, users get the public link", ch.DisplayName()))
	}
	return nil
}

// onChatMember consumes the credential behind a join; the link name
// carries its token
func (t *TgBot) onChatMember(_ *tgbotapi.Bot, ctx *ext.Context) error {
	upd := ctx.ChatMember
	if t.core == nil || upd == nil || upd.InviteLink == nil {
		return nil
	}
	before := provider.MembershipOf(upd.OldChatMember)
	after := provider.MembershipOf(upd.NewChatMember)
	if before.Present() || !after.Present() {
		return nil
	}
	user := upd.NewChatMember.GetUser()
	c, cancel := t.context()
	defer cancel()

	_, err := t.core.ConsumeJoin(c, upd.InviteLink.Name, upd.InviteLink.InviteLink, user.Id)
	if err != nil {
		// joins through links this engine did not issue land here too
		t.log.With(slog.Int64("chat_id", upd.Chat.Id), sl.User(user.Id)).Debug("join not consumed", sl.Err(err))
	}
	return nil
}
