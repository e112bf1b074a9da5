// Package core is the single entry point for every inbound trigger: bot
// commands, platform updates and the HTTP API all go through Core.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/internal/linkgen"
	"invitegate/internal/maintenance"
	"invitegate/internal/provider"
	"invitegate/lib/sl"
)

var (
	ErrBanned          = errors.New("user is banned")
	ErrCaptchaRequired = errors.New("captcha required")
	ErrNotConnected    = errors.New("service not connected")
)

type Store interface {
	TouchUser(ctx context.Context, u *entity.User) error
	User(ctx context.Context, userId int64) (*entity.User, error)
	SetUserBanned(ctx context.Context, userId int64, banned bool) error
	DeactivateUserCredentials(ctx context.Context, userId int64) (int64, error)
	UpsertChannel(ctx context.Context, ch *entity.Channel) (*entity.Channel, error)
	ChannelByChatId(ctx context.Context, chatId int64) (*entity.Channel, error)
	AllChannels(ctx context.Context) ([]*entity.Channel, error)
	DeactivateChannel(ctx context.Context, id int64) (int64, error)
	Consume(ctx context.Context, token string, actor int64) (*database.ConsumeResult, error)
	CredentialByLink(ctx context.Context, link string) (*entity.Credential, error)
	UserHistory(ctx context.Context, userId int64, limit int) ([]*entity.LinkHistoryItem, error)
	EligibleUsers(ctx context.Context) ([]int64, error)
	Settings(ctx context.Context) (entity.Settings, error)
	SaveSettings(ctx context.Context, settings entity.Settings) error
}

type Generator interface {
	ForUser(ctx context.Context, userId int64) ([]*entity.Link, error)
	Refresh(ctx context.Context, userId int64) ([]*entity.Link, error)
	Bulk(ctx context.Context, userIds, channelIds []int64) (linkgen.BulkReport, error)
	RegenerateAll(ctx context.Context) (linkgen.BulkReport, error)
	Abort() bool
	Running() bool
	Progress() (linkgen.BulkReport, bool)
	Stats() linkgen.Stats
}

type Maintenance interface {
	RunNow(ctx context.Context) maintenance.Report
	Emergency(ctx context.Context) maintenance.Report
}

type StatsService interface {
	Overview(ctx context.Context) (entity.Overview, error)
	ChannelPerformance(ctx context.Context, channelId int64, days int) (entity.ChannelPerformance, error)
	Cleanup(ctx context.Context) (entity.CleanupStats, error)
}

type CaptchaGate interface {
	Passed(ctx context.Context, userId int64) (bool, error)
	MarkPassed(ctx context.Context, userId int64) error
	Challenge(userId int64) (string, error)
	HasChallenge(userId int64) bool
	Verify(ctx context.Context, userId int64, answer string) error
	Reset(ctx context.Context, userId int64) error
}

// BulkDone is called when an asynchronous bulk job ends
type BulkDone = func(report linkgen.BulkReport, err error)

type Core struct {
	store    Store
	gen      Generator
	maint    Maintenance
	stats    StatsService
	captcha  CaptchaGate
	provider provider.Provider
	log      *slog.Logger
}

func New(store Store, gen Generator, log *slog.Logger) *Core {
	if store == nil || gen == nil {
		panic("core requires a store and a generator")
	}
	return &Core{
		store: store,
		gen:   gen,
		log:   log.With(sl.Module("core")),
	}
}

func (c *Core) SetMaintenance(m Maintenance) {
	c.maint = m
}

func (c *Core) SetStats(s StatsService) {
	c.stats = s
}

func (c *Core) SetCaptcha(g CaptchaGate) {
	c.captcha = g
}

func (c *Core) SetProvider(p provider.Provider) {
	c.provider = p
}

// TouchUser records that the user interacted with the bot
func (c *Core) TouchUser(ctx context.Context, u *entity.User) error {
	return c.store.TouchUser(ctx, u)
}

func (c *Core) Settings(ctx context.Context) (entity.Settings, error) {
	return c.store.Settings(ctx)
}

// NeedsCaptcha is true when captcha is enabled and the user has not passed it
func (c *Core) NeedsCaptcha(ctx context.Context, userId int64) (bool, error) {
	if c.captcha == nil {
		return false, nil
	}
	settings, err := c.store.Settings(ctx)
	if err != nil {
		return false, err
	}
	if !settings.RequireCaptcha {
		return false, nil
	}
	passed, err := c.captcha.Passed(ctx, userId)
	if err != nil {
		return false, err
	}
	return !passed, nil
}

func (c *Core) IssueCaptcha(userId int64) (string, error) {
	if c.captcha == nil {
		return "", ErrNotConnected
	}
	return c.captcha.Challenge(userId)
}

func (c *Core) AwaitingCaptcha(userId int64) bool {
	return c.captcha != nil && c.captcha.HasChallenge(userId)
}

// AnswerCaptcha checks a challenge answer and records a pass
func (c *Core) AnswerCaptcha(ctx context.Context, userId int64, answer string) error {
	if c.captcha == nil {
		return ErrNotConnected
	}
	return c.captcha.Verify(ctx, userId, answer)
}

// PassCaptcha marks the user as verified without a challenge
func (c *Core) PassCaptcha(ctx context.Context, userId int64) error {
	if c.captcha == nil {
		return ErrNotConnected
	}
	return c.captcha.MarkPassed(ctx, userId)
}

func (c *Core) checkEligible(ctx context.Context, userId int64) error {
	user, err := c.store.User(ctx, userId)
	if err != nil {
		return fmt.Errorf("user %d: %w", userId, err)
	}
	if user.Banned {
		return ErrBanned
	}
	need, err := c.NeedsCaptcha(ctx, userId)
	if err != nil {
		return err
	}
	if need {
		return ErrCaptchaRequired
	}
	return nil
}

// RequestLinks returns one link per active channel for an eligible user
func (c *Core) RequestLinks(ctx context.Context, userId int64) ([]*entity.Link, error) {
	if err := c.checkEligible(ctx, userId); err != nil {
		return nil, err
	}
	return c.gen.ForUser(ctx, userId)
}

// RefreshLinks replaces every credential of the user with a new one
func (c *Core) RefreshLinks(ctx context.Context, userId int64) ([]*entity.Link, error) {
	if err := c.checkEligible(ctx, userId); err != nil {
		return nil, err
	}
	return c.gen.Refresh(ctx, userId)
}

func (c *Core) LinkHistory(ctx context.Context, userId int64) ([]*entity.LinkHistoryItem, error) {
	return c.store.UserHistory(ctx, userId, 20)
}

// ConsumeToken records a join made through the credential with this token
func (c *Core) ConsumeToken(ctx context.Context, token string, actor int64) (*database.ConsumeResult, error) {
	res, err := c.store.Consume(ctx, token, actor)
	log := c.log.With(sl.Secret("token", token), slog.Int64("actor", actor))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrLimitExceeded) {
			log.Info("consumption rejected", sl.Err(err))
		} else {
			log.Error("consumption failed", sl.Err(err))
		}
		return nil, err
	}
	log.With(sl.Channel(res.Credential.ChannelId), slog.Bool("exhausted", res.Exhausted)).Info("credential consumed")
	return res, nil
}

// ConsumeJoin resolves the credential of a join update. The link name
// carries the token; a join without a name is matched by its URL.
func (c *Core) ConsumeJoin(ctx context.Context, name, link string, actor int64) (*database.ConsumeResult, error) {
	token := name
	if token == "" {
		if link == "" {
			return nil, database.ErrNotFound
		}
		cred, err := c.store.CredentialByLink(ctx, link)
		if err != nil {
			return nil, err
		}
		token = cred.Token
	}
	return c.ConsumeToken(ctx, token, actor)
}

// BanUser bans the user and deactivates every credential they hold. An
// unbanned user has to pass the captcha again.
func (c *Core) BanUser(ctx context.Context, userId int64) (int64, error) {
	if err := c.store.SetUserBanned(ctx, userId, true); err != nil {
		return 0, err
	}
	n, err := c.store.DeactivateUserCredentials(ctx, userId)
	if err != nil {
		return 0, err
	}
	if c.captcha != nil {
		if err = c.captcha.Reset(ctx, userId); err != nil {
			c.log.With(sl.User(userId)).Warn("resetting captcha", sl.Err(err))
		}
	}
	c.log.With(sl.User(userId), slog.Int64("deactivated", n)).Info("user banned")
	return n, nil
}

func (c *Core) UnbanUser(ctx context.Context, userId int64) error {
	if err := c.store.SetUserBanned(ctx, userId, false); err != nil {
		return err
	}
	c.log.With(sl.User(userId)).Info("user unbanned")
	return nil
}

// RegisterChannel stores a channel seen through a membership update or added
// by an admin. Chat info from the provider fills the static link.
func (c *Core) RegisterChannel(ctx context.Context, ch *entity.Channel) (*entity.Channel, error) {
	if c.provider != nil {
		if info, err := c.provider.ChatInfo(ctx, ch.ChatId); err == nil {
			if info.Title != "" {
				ch.Title = info.Title
			}
			ch.Username = info.Username
			ch.InviteLink = info.InviteLink
		} else {
			c.log.With(slog.Int64("chat_id", ch.ChatId)).Debug("reading chat info", sl.Err(err))
		}
	}
	if ch.Title == "" {
		ch.Title = fmt.Sprintf("%d", ch.ChatId)
	}
	stored, err := c.store.UpsertChannel(ctx, ch)
	if err != nil {
		return nil, err
	}
	c.log.With(sl.Channel(stored.Id), slog.Int64("chat_id", stored.ChatId), slog.Bool("admin", stored.BotIsAdmin)).
		Info("channel registered")
	return stored, nil
}

// AddChannel registers a channel by chat id after checking the bot's rights
func (c *Core) AddChannel(ctx context.Context, chatId int64) (*entity.Channel, error) {
	if c.provider == nil {
		return nil, ErrNotConnected
	}
	m, err := c.provider.Membership(ctx, chatId)
	if err != nil {
		return nil, err
	}
	if !m.Present() {
		return nil, fmt.Errorf("bot is not a member: %w", provider.ErrPermission)
	}
	return c.RegisterChannel(ctx, &entity.Channel{
		ChatId:     chatId,
		BotIsAdmin: m.IsAdministrator && m.CanInviteUsers,
	})
}

// DeregisterChannel deactivates a channel and all of its credentials
func (c *Core) DeregisterChannel(ctx context.Context, chatId int64) (int64, error) {
	ch, err := c.store.ChannelByChatId(ctx, chatId)
	if err != nil {
		return 0, err
	}
	n, err := c.store.DeactivateChannel(ctx, ch.Id)
	if err != nil {
		return 0, err
	}
	c.log.With(sl.Channel(ch.Id), slog.Int64("credentials", n)).Info("channel deregistered")
	return n, nil
}

func (c *Core) Channels(ctx context.Context) ([]*entity.Channel, error) {
	return c.store.AllChannels(ctx)
}

func (c *Core) RunMaintenance(ctx context.Context) (maintenance.Report, error) {
	if c.maint == nil {
		return maintenance.Report{}, ErrNotConnected
	}
	return c.maint.RunNow(ctx), nil
}

func (c *Core) EmergencyCleanup(ctx context.Context) (maintenance.Report, error) {
	if c.maint == nil {
		return maintenance.Report{}, ErrNotConnected
	}
	return c.maint.Emergency(ctx), nil
}

func (c *Core) updateSettings(ctx context.Context, change func(s *entity.Settings)) (entity.Settings, error) {
	settings, err := c.store.Settings(ctx)
	if err != nil {
		return settings, err
	}
	change(&settings)
	if err = c.store.SaveSettings(ctx, settings); err != nil {
		return settings, err
	}
	c.log.With(slog.Any("settings", settings)).Info("settings updated")
	return settings, nil
}

func (c *Core) SetLinkTTL(ctx context.Context, hours int) (entity.Settings, error) {
	return c.updateSettings(ctx, func(s *entity.Settings) { s.LinkTTLHours = hours })
}

func (c *Core) SetMaxUses(ctx context.Context, uses int) (entity.Settings, error) {
	return c.updateSettings(ctx, func(s *entity.Settings) { s.MaxLinkUses = uses })
}

func (c *Core) SetCaptchaRequired(ctx context.Context, required bool) (entity.Settings, error) {
	return c.updateSettings(ctx, func(s *entity.Settings) { s.RequireCaptcha = required })
}

func (c *Core) SetCleanupInterval(ctx context.Context, hours int) (entity.Settings, error) {
	return c.updateSettings(ctx, func(s *entity.Settings) { s.CleanupIntervalHours = hours })
}

func (c *Core) SetWelcomeMessage(ctx context.Context, text string) (entity.Settings, error) {
	return c.updateSettings(ctx, func(s *entity.Settings) { s.WelcomeMessage = text })
}

// Bulk starts a background job for the given users, or all eligible users
// when none are given. done may be nil.
func (c *Core) Bulk(userIds []int64, done BulkDone) error {
	if c.gen.Running() {
		return linkgen.ErrBulkRunning
	}
	go func() {
		ctx := context.Background()
		users := userIds
		var err error
		if len(users) == 0 {
			if users, err = c.store.EligibleUsers(ctx); err != nil {
				c.bulkDone(done, linkgen.BulkReport{}, err)
				return
			}
		}
		report, err := c.gen.Bulk(ctx, users, nil)
		c.bulkDone(done, report, err)
	}()
	return nil
}

// RegenerateAll deactivates every credential and regenerates in background
func (c *Core) RegenerateAll(done BulkDone) error {
	if c.gen.Running() {
		return linkgen.ErrBulkRunning
	}
	go func() {
		report, err := c.gen.RegenerateAll(context.Background())
		c.bulkDone(done, report, err)
	}()
	return nil
}

func (c *Core) bulkDone(done BulkDone, report linkgen.BulkReport, err error) {
	if err != nil {
		c.log.Error("bulk job", sl.Err(err))
	}
	if done != nil {
		done(report, err)
	}
}

func (c *Core) AbortBulk() bool {
	return c.gen.Abort()
}

func (c *Core) BulkProgress() (linkgen.BulkReport, bool) {
	return c.gen.Progress()
}

func (c *Core) GeneratorStats() linkgen.Stats {
	return c.gen.Stats()
}

func (c *Core) Overview(ctx context.Context) (entity.Overview, error) {
	if c.stats == nil {
		return entity.Overview{}, ErrNotConnected
	}
	return c.stats.Overview(ctx)
}

func (c *Core) ChannelPerformance(ctx context.Context, channelId int64, days int) (entity.ChannelPerformance, error) {
	if c.stats == nil {
		return entity.ChannelPerformance{}, ErrNotConnected
	}
	return c.stats.ChannelPerformance(ctx, channelId, days)
}

func (c *Core) CleanupStats(ctx context.Context) (entity.CleanupStats, error) {
	if c.stats == nil {
		return entity.CleanupStats{}, ErrNotConnected
	}
	return c.stats.Cleanup(ctx)
}

// Health is a cheap liveness probe of the store
func (c *Core) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.store.Settings(ctx)
	return err
}
