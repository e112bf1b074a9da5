// Package bot is the Telegram surface of the engine.
//
//   - tgbot.go      TgBot lifecycle, dispatcher wiring, Core interface
//   - commands.go   user commands and the captcha answer
//   - admin.go      admin commands
//   - callbacks.go  inline keyboard buttons
//   - members.go    my_chat_member and chat_member updates
//   - menus.go      per-role command menus
//   - messaging.go  admin notifications, digest routing for warnings
//   - format.go     MarkdownV2 rendering of links, stats and reports
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/internal/linkgen"
	"invitegate/internal/maintenance"
	"invitegate/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
)

const commandTimeout = 30 * time.Second

// Core is the engine as seen from chat; implemented by impl/core
type Core interface {
	TouchUser(ctx context.Context, u *entity.User) error
	Settings(ctx context.Context) (entity.Settings, error)
	NeedsCaptcha(ctx context.Context, userId int64) (bool, error)
	IssueCaptcha(userId int64) (string, error)
	AwaitingCaptcha(userId int64) bool
	AnswerCaptcha(ctx context.Context, userId int64, answer string) error
	RequestLinks(ctx context.Context, userId int64) ([]*entity.Link, error)
	RefreshLinks(ctx context.Context, userId int64) ([]*entity.Link, error)
	LinkHistory(ctx context.Context, userId int64) ([]*entity.LinkHistoryItem, error)
	ConsumeJoin(ctx context.Context, name, link string, actor int64) (*database.ConsumeResult, error)

	BanUser(ctx context.Context, userId int64) (int64, error)
	UnbanUser(ctx context.Context, userId int64) error
	RegisterChannel(ctx context.Context, ch *entity.Channel) (*entity.Channel, error)
	AddChannel(ctx context.Context, chatId int64) (*entity.Channel, error)
	DeregisterChannel(ctx context.Context, chatId int64) (int64, error)
	Channels(ctx context.Context) ([]*entity.Channel, error)
	RunMaintenance(ctx context.Context) (maintenance.Report, error)
	EmergencyCleanup(ctx context.Context) (maintenance.Report, error)
	SetLinkTTL(ctx context.Context, hours int) (entity.Settings, error)
	SetMaxUses(ctx context.Context, uses int) (entity.Settings, error)
	SetCaptchaRequired(ctx context.Context, required bool) (entity.Settings, error)
	SetCleanupInterval(ctx context.Context, hours int) (entity.Settings, error)
	SetWelcomeMessage(ctx context.Context, text string) (entity.Settings, error)
	Bulk(userIds []int64, done func(report linkgen.BulkReport, err error)) error
	RegenerateAll(done func(report linkgen.BulkReport, err error)) error
	AbortBulk() bool
	BulkProgress() (linkgen.BulkReport, bool)
	Overview(ctx context.Context) (entity.Overview, error)
	GeneratorStats() linkgen.Stats
	CleanupStats(ctx context.Context) (entity.CleanupStats, error)
}

type Config struct {
	AdminIds       []int64
	DigestInterval time.Duration
}

type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	core     Core
	adminIds []int64
	updater  *ext.Updater
	digest   *DigestBuffer
}

func NewTgBot(api *tgbotapi.Bot, log *slog.Logger, conf Config) *TgBot {
	if conf.DigestInterval <= 0 {
		conf.DigestInterval = 30 * time.Minute
	}
	t := &TgBot{
		log:      log.With(sl.Module("tgbot")),
		api:      api,
		adminIds: slices.Clone(conf.AdminIds),
	}
	t.digest = NewDigestBuffer(t, conf.DigestInterval)
	t.digest.StartTicker()
	return t
}

// SetCore attaches the engine; without it the bot only relays notifications
func (t *TgBot) SetCore(core Core) {
	t.core = core
}

func (t *TgBot) Start() error {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	// user commands
	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("links", t.links))
	dispatcher.AddHandler(handlers.NewCommand("refresh", t.refresh))
	dispatcher.AddHandler(handlers.NewCommand("history", t.history))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	// admin commands
	dispatcher.AddHandler(handlers.NewCommand("channels", t.channels))
	dispatcher.AddHandler(handlers.NewCommand("addchannel", t.addChannel))
	dispatcher.AddHandler(handlers.NewCommand("removechannel", t.removeChannel))
	dispatcher.AddHandler(handlers.NewCommand("ban", t.ban))
	dispatcher.AddHandler(handlers.NewCommand("unban", t.unban))
	dispatcher.AddHandler(handlers.NewCommand("settings", t.settings))
	dispatcher.AddHandler(handlers.NewCommand("cleanup", t.cleanup))
	dispatcher.AddHandler(handlers.NewCommand("emergency", t.emergency))
	dispatcher.AddHandler(handlers.NewCommand("stats", t.stats))
	dispatcher.AddHandler(handlers.NewCommand("bulk", t.bulk))
	dispatcher.AddHandler(handlers.NewCommand("abort", t.abort))
	dispatcher.AddHandler(handlers.NewCommand("regenerate", t.regenerate))

	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbLinks), t.onLinksCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbConfirm), t.onConfirmCallback))

	dispatcher.AddHandler(handlers.NewMyChatMember(anyMember, t.onMyChatMember))
	dispatcher.AddHandler(handlers.NewChatMember(anyMember, t.onChatMember))

	// anything else typed in a private chat may answer a captcha
	dispatcher.AddHandler(handlers.NewMessage(message.Text, t.onText))

	t.setDefaultCommands()
	t.setAdminCommands()

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout:        9,
			AllowedUpdates: []string{"message", "callback_query", "my_chat_member", "chat_member"},
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.log.With(slog.String("username", t.api.Username), slog.Int("admins", len(t.adminIds))).Info("bot started")
	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.digest != nil {
		t.digest.Stop()
	}
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

func (t *TgBot) isAdmin(id int64) bool {
	return slices.Contains(t.adminIds, id)
}

func (t *TgBot) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}
