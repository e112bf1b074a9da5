package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/internal/linkgen"
	"invitegate/internal/provider"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// admin returns the sender id when the sender may run admin commands
func (t *TgBot) admin(ctx *ext.Context) (int64, bool) {
	if t.core == nil || ctx.EffectiveUser == nil || !isPrivate(ctx) {
		return 0, false
	}
	id := ctx.EffectiveUser.Id
	return id, t.isAdmin(id)
}

// idArgument parses the single numeric argument of a command
func (t *TgBot) idArgument(ctx *ext.Context, chatId int64, usage string) (int64, bool) {
	args := commandArgs(ctx)
	if len(args) != 1 {
		t.plainResponse(chatId, "Usage: `"+usage+"`")
		return 0, false
	}
	id, err := parseId(args[0])
	if err != nil {
		t.plainResponse(chatId, Sanitize(err.Error()))
		return 0, false
	}
	return id, true
}

func (t *TgBot) channels(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	c, cancel := t.context()
	defer cancel()
	list, err := t.core.Channels(c)
	if err != nil {
		t.reportError(chatId, "/channels", err)
		return nil
	}
	t.plainResponse(chatId, formatChannels(list))
	return nil
}

func (t *TgBot) addChannel(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	id, ok := t.idArgument(ctx, chatId, "/addchannel <chat_id>")
	if !ok {
		return nil
	}
	c, cancel := t.context()
	defer cancel()
	ch, err := t.core.AddChannel(c, id)
	switch {
	case errors.Is(err, provider.ErrNotFound), errors.Is(err, provider.ErrPermission):
		t.plainResponse(chatId, Sanitize(fmt.Sprintf("Cannot add %d: %v. Add the bot to the channel as admin first.", id, err)))
	case err != nil:
		t.reportError(chatId, "/addchannel", err)
	default:
		text := fmt.Sprintf("Channel %s registered\\.", Sanitize(ch.DisplayName()))
		if !ch.BotIsAdmin {
			text += " The bot cannot invite users there yet\\."
		}
		t.plainResponse(chatId, text)
	}
	return nil
}

func (t *TgBot) removeChannel(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	id, ok := t.idArgument(ctx, chatId, "/removechannel <chat_id>")
	if !ok {
		return nil
	}
	c, cancel := t.context()
	defer cancel()
	n, err := t.core.DeregisterChannel(c, id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		t.plainResponse(chatId, "Channel not found\\.")
	case err != nil:
		t.reportError(chatId, "/removechannel", err)
	default:
		t.plainResponse(chatId, fmt.Sprintf("Channel deactivated, %d links revoked\\.", n))
	}
	return nil
}

func (t *TgBot) ban(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	id, ok := t.idArgument(ctx, chatId, "/ban <user_id>")
	if !ok {
		return nil
	}
	c, cancel := t.context()
	defer cancel()
	n, err := t.core.BanUser(c, id)
	if err != nil {
		t.reportError(chatId, "/ban", err)
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf("User `%d` banned, %d links deactivated\\.", id, n))
	return nil
}

func (t *TgBot) unban(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	id, ok := t.idArgument(ctx, chatId, "/unban <user_id>")
	if !ok {
		return nil
	}
	c, cancel := t.context()
	defer cancel()
	if err := t.core.UnbanUser(c, id); err != nil {
		t.reportError(chatId, "/unban", err)
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf("User `%d` unbanned\\.", id))
	return nil
}

type settingChange struct {
	key    string
	number int
	flag   bool
	text   string
}

// parseSetting reads "/settings <key> <value>"; the welcome text keeps its
// spacing and may span lines
func parseSetting(text string) (settingChange, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return settingChange{}, errors.New("usage: /settings ttl|uses|captcha|cleanup|welcome <value>")
	}
	change := settingChange{key: strings.ToLower(fields[1])}
	value := fields[2]
	var err error
	switch change.key {
	case "ttl", "uses", "cleanup":
		change.number, err = strconv.Atoi(value)
		if err != nil {
			return settingChange{}, fmt.Errorf("%s must be a number", change.key)
		}
	case "captcha":
		switch strings.ToLower(value) {
		case "on", "true", "yes", "1":
			change.flag = true
		case "off", "false", "no", "0":
			change.flag = false
		default:
			return settingChange{}, errors.New("captcha must be on or off")
		}
	case "welcome":
		rest := text[strings.Index(text, fields[0])+len(fields[0]):]
		rest = rest[strings.Index(rest, fields[1])+len(fields[1]):]
		change.text = strings.TrimSpace(rest)
	default:
		return settingChange{}, fmt.Errorf("unknown setting %q", fields[1])
	}
	return change, nil
}

func (t *TgBot) settings(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	c, cancel := t.context()
	defer cancel()

	if len(commandArgs(ctx)) == 0 {
		s, err := t.core.Settings(c)
		if err != nil {
			t.reportError(chatId, "/settings", err)
			return nil
		}
		t.plainResponse(chatId, formatSettings(s))
		return nil
	}

	change, err := parseSetting(ctx.EffectiveMessage.Text)
	if err != nil {
		t.plainResponse(chatId, Sanitize(err.Error()))
		return nil
	}
	var s entity.Settings
	switch change.key {
	case "ttl":
		s, err = t.core.SetLinkTTL(c, change.number)
	case "uses":
		s, err = t.core.SetMaxUses(c, change.number)
	case "captcha":
		s, err = t.core.SetCaptchaRequired(c, change.flag)
	case "cleanup":
		s, err = t.core.SetCleanupInterval(c, change.number)
	case "welcome":
		s, err = t.core.SetWelcomeMessage(c, change.text)
	}
	if errors.Is(err, database.ErrInvalid) {
		t.plainResponse(chatId, Sanitize(err.Error()))
		return nil
	}
	if err != nil {
		t.reportError(chatId, "/settings", err)
		return nil
	}
	t.plainResponse(chatId, formatSettings(s))
	return nil
}

func (t *TgBot) stats(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	c, cancel := t.context()
	defer cancel()
	o, err := t.core.Overview(c)
	if err != nil {
		t.reportError(chatId, "/stats", err)
		return nil
	}
	cs, err := t.core.CleanupStats(c)
	if err != nil {
		t.reportError(chatId, "/stats", err)
		return nil
	}
	t.plainResponse(chatId, formatStats(o, t.core.GeneratorStats(), cs))
	return nil
}

func (t *TgBot) cleanup(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	t.plainResponse(chatId, "Cleanup started\\.\\.\\.")
	c, cancel := t.context()
	defer cancel()
	report, err := t.core.RunMaintenance(c)
	if err != nil {
		t.reportError(chatId, "/cleanup", err)
		return nil
	}
	t.plainResponse(chatId, formatReport(report))
	return nil
}

func (t *TgBot) emergency(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	t.sendWithKeyboard(chatId, "Deactivate *every* link and purge usage history?", confirmKeyboard(actionEmergency))
	return nil
}

func (t *TgBot) regenerate(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	t.sendWithKeyboard(chatId, "Deactivate every link and issue new ones to all users?", confirmKeyboard(actionRegenerate))
	return nil
}

// bulk starts a job for all eligible users, or shows the running one
func (t *TgBot) bulk(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	err := t.core.Bulk(nil, t.bulkDone(chatId))
	if errors.Is(err, linkgen.ErrBulkRunning) {
		report, _ := t.core.BulkProgress()
		t.plainResponse(chatId, formatBulk(report, true))
		return nil
	}
	if err != nil {
		t.reportError(chatId, "/bulk", err)
		return nil
	}
	t.plainResponse(chatId, "Bulk generation started\\. Use /bulk to see progress, /abort to stop\\.")
	return nil
}

func (t *TgBot) abort(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId, ok := t.admin(ctx)
	if !ok {
		return nil
	}
	if t.core.AbortBulk() {
		t.plainResponse(chatId, "Abort requested, started links will still complete\\.")
	} else {
		t.plainResponse(chatId, "No bulk job is running\\.")
	}
	return nil
}

func (t *TgBot) bulkDone(chatId int64) func(report linkgen.BulkReport, err error) {
	return func(report linkgen.BulkReport, err error) {
		if err != nil {
			t.plainResponse(chatId, Sanitize(fmt.Sprintf("Bulk job failed: %v", err)))
			return
		}
		t.plainResponse(chatId, formatBulk(report, false))
	}
}
