package bot

import (
	"errors"
	"strings"

	"invitegate/internal/linkgen"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// Callback data prefixes; Telegram limits callback data to 64 bytes
const (
	cbLinks   = "l:" // l:get, l:refresh
	cbConfirm = "c:" // c:emergency, c:regenerate, c:cancel

	actionEmergency  = "emergency"
	actionRegenerate = "regenerate"
	actionCancel     = "cancel"
)

func linksKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{{
		{Text: "Show links", CallbackData: cbLinks + "get"},
		{Text: "New links", CallbackData: cbLinks + "refresh"},
	}}}
}

func confirmKeyboard(action string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{{
		{Text: "Confirm", CallbackData: cbConfirm + action},
		{Text: "Cancel", CallbackData: cbConfirm + actionCancel},
	}}}
}

func (t *TgBot) answer(b *tgbotapi.Bot, cb *tgbotapi.CallbackQuery, text string) {
	_, err := cb.Answer(b, &tgbotapi.AnswerCallbackQueryOpts{Text: text})
	if err != nil {
		t.log.Debug("answering callback", "error", err)
	}
}

func (t *TgBot) onLinksCallback(b *tgbotapi.Bot, ctx *ext.Context) error {
	cb := ctx.CallbackQuery
	t.answer(b, cb, "")
	if !t.touch(ctx) {
		return nil
	}
	refresh := strings.TrimPrefix(cb.Data, cbLinks) == "refresh"
	t.sendLinks(cb.From.Id, "links button", refresh)
	return nil
}

func (t *TgBot) onConfirmCallback(b *tgbotapi.Bot, ctx *ext.Context) error {
	cb := ctx.CallbackQuery
	chatId, ok := t.admin(ctx)
	if !ok {
		t.answer(b, cb, "Not allowed")
		return nil
	}
	action := strings.TrimPrefix(cb.Data, cbConfirm)
	switch action {
	case actionEmergency:
		t.answer(b, cb, "Running emergency cleanup")
		c, cancel := t.context()
		defer cancel()
		report, err := t.core.EmergencyCleanup(c)
		if err != nil {
			t.reportError(chatId, "emergency", err)
			return nil
		}
		t.plainResponse(chatId, formatReport(report))
		t.NotifyAdmins("Emergency cleanup was run by " + cb.From.FirstName)
	case actionRegenerate:
		err := t.core.RegenerateAll(t.bulkDone(chatId))
		if errors.Is(err, linkgen.ErrBulkRunning) {
			t.answer(b, cb, "A bulk job is already running")
			return nil
		}
		if err != nil {
			t.answer(b, cb, "")
			t.reportError(chatId, "regenerate", err)
			return nil
		}
		t.answer(b, cb, "Regeneration started")
	default:
		t.answer(b, cb, "Cancelled")
	}
	return nil
}
