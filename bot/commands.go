package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"invitegate/entity"
	"invitegate/impl/core"
	"invitegate/internal/captcha"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

func isPrivate(ctx *ext.Context) bool {
	return ctx.EffectiveChat != nil && ctx.EffectiveChat.Type == "private"
}

// touch records the sender and reports whether the update should be handled
func (t *TgBot) touch(ctx *ext.Context) bool {
	if t.core == nil || ctx.EffectiveUser == nil || !isPrivate(ctx) {
		return false
	}
	c, cancel := t.context()
	defer cancel()
	u := ctx.EffectiveUser
	err := t.core.TouchUser(c, &entity.User{
		UserId:   u.Id,
		Username: u.Username,
		FullName: fullName(u),
	})
	if err != nil {
		t.reportError(u.Id, "touch", err)
		return false
	}
	return true
}

func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if !t.touch(ctx) {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	c, cancel := t.context()
	defer cancel()

	settings, err := t.core.Settings(c)
	if err != nil {
		t.reportError(chatId, "/start", err)
		return nil
	}
	t.plainResponse(chatId, Sanitize(settings.WelcomeMessage))
	t.sendLinks(chatId, "/start", false)
	return nil
}

func (t *TgBot) links(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if !t.touch(ctx) {
		return nil
	}
	t.sendLinks(ctx.EffectiveUser.Id, "/links", false)
	return nil
}

func (t *TgBot) refresh(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if !t.touch(ctx) {
		return nil
	}
	t.sendLinks(ctx.EffectiveUser.Id, "/refresh", true)
	return nil
}

// sendLinks answers with the user's links, or a captcha challenge when the
// user has not passed it yet
func (t *TgBot) sendLinks(chatId int64, command string, refresh bool) {
	c, cancel := t.context()
	defer cancel()

	var links []*entity.Link
	var err error
	if refresh {
		links, err = t.core.RefreshLinks(c, chatId)
	} else {
		links, err = t.core.RequestLinks(c, chatId)
	}
	switch {
	case errors.Is(err, core.ErrBanned):
		t.plainResponse(chatId, "Access denied\\.")
	case errors.Is(err, core.ErrCaptchaRequired):
		t.sendChallenge(chatId)
	case err != nil:
		t.reportError(chatId, command, err)
	default:
		t.sendWithKeyboard(chatId, formatLinks(links, time.Now()), linksKeyboard())
	}
}

func (t *TgBot) sendChallenge(chatId int64) {
	code, err := t.core.IssueCaptcha(chatId)
	if err != nil {
		t.reportError(chatId, "captcha", err)
		return
	}
	t.plainResponse(chatId, fmt.Sprintf("Please confirm you are human\\. Send this code back:\n\n`%s`", code))
}

// onText handles a captcha answer; other text is ignored
func (t *TgBot) onText(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.core == nil || ctx.EffectiveUser == nil || !isPrivate(ctx) {
		return nil
	}
	text := ctx.EffectiveMessage.Text
	chatId := ctx.EffectiveUser.Id
	if strings.HasPrefix(text, "/") || !t.core.AwaitingCaptcha(chatId) {
		return nil
	}

	c, cancel := t.context()
	defer cancel()
	err := t.core.AnswerCaptcha(c, chatId, text)
	switch {
	case errors.Is(err, captcha.ErrWrongAnswer):
		t.plainResponse(chatId, "Wrong code, try again\\.")
	case errors.Is(err, captcha.ErrTooManyAttempts), errors.Is(err, captcha.ErrNoChallenge):
		t.plainResponse(chatId, "The code is no longer valid\\. Use /links to get a new one\\.")
	case err != nil:
		t.reportError(chatId, "captcha answer", err)
	default:
		t.plainResponse(chatId, "Verified\\!")
		t.sendLinks(chatId, "captcha answer", false)
	}
	return nil
}

func (t *TgBot) history(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if !t.touch(ctx) {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	c, cancel := t.context()
	defer cancel()
	items, err := t.core.LinkHistory(c, chatId)
	if err != nil {
		t.reportError(chatId, "/history", err)
		return nil
	}
	t.plainResponse(chatId, formatHistory(items))
	return nil
}

func (t *TgBot) help(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil || !isPrivate(ctx) {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	var sb strings.Builder
	sb.WriteString("*Commands*\n\n")
	for _, cmd := range commandsUser {
		sb.WriteString(fmt.Sprintf("/%s \\- %s\n", cmd.Command, Sanitize(cmd.Description)))
	}
	if t.isAdmin(chatId) {
		sb.WriteString("\n*Admin*\n\n")
		for _, cmd := range commandsAdmin[len(commandsUser):] {
			sb.WriteString(fmt.Sprintf("/%s \\- %s\n", cmd.Command, Sanitize(cmd.Description)))
		}
	}
	t.plainResponse(chatId, sb.String())
	return nil
}
