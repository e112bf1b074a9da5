// Package monitor reconciles stored channels with the bot's actual
// membership on the platform.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"invitegate/entity"
	"invitegate/internal/provider"
	"invitegate/lib/sl"
)

type Store interface {
	ActiveChannels(ctx context.Context) ([]*entity.Channel, error)
	DeactivateChannel(ctx context.Context, id int64) (int64, error)
	SetChannelAdmin(ctx context.Context, id int64, isAdmin bool) error
	UpdateChannelInfo(ctx context.Context, id int64, info entity.ChannelInfo) error
}

// Notifier delivers plain text to the bot admins
type Notifier interface {
	NotifyAdmins(text string)
}

type Config struct {
	Interval time.Duration
	// consecutive transient failures tolerated before a channel is deactivated
	Grace int
}

// Result summarises one reconciliation pass
type Result struct {
	Checked      int `json:"checked"`
	Deactivated  int `json:"deactivated"`
	AdminChanged int `json:"admin_changed"`
	Updated      int `json:"updated"`
	Failed       int `json:"failed"`
}

type Monitor struct {
	store    Store
	provider provider.Provider
	notifier Notifier
	log      *slog.Logger
	conf     Config

	mu       sync.Mutex
	failures map[int64]int
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
}

func New(store Store, p provider.Provider, conf Config, log *slog.Logger) *Monitor {
	if conf.Interval <= 0 {
		conf.Interval = time.Hour
	}
	if conf.Grace < 1 {
		conf.Grace = 3
	}
	return &Monitor{
		store:    store,
		provider: p,
		log:      log.With(sl.Module("monitor")),
		conf:     conf,
		failures: make(map[int64]int),
	}
}

func (m *Monitor) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Monitor) notify(format string, args ...any) {
	if m.notifier != nil {
		m.notifier.NotifyAdmins(fmt.Sprintf(format, args...))
	}
}

// Start checks all channels at once and then every interval
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	stopCh := make(chan struct{})
	done := make(chan struct{})
	m.stopCh, m.done = stopCh, done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.conf.Interval)
		defer ticker.Stop()
		m.runOnce()
		for {
			select {
			case <-ticker.C:
				m.runOnce()
			case <-stopCh:
				return
			}
		}
	}()
}

func (m *Monitor) runOnce() {
	if _, err := m.CheckAll(context.Background()); err != nil {
		m.log.Error("channel check", sl.Err(err))
	}
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	close(stopCh)
	<-done
	m.log.Info("monitor stopped")
}

// CheckAll reconciles every active channel
func (m *Monitor) CheckAll(ctx context.Context) (Result, error) {
	var res Result
	channels, err := m.store.ActiveChannels(ctx)
	if err != nil {
		return res, fmt.Errorf("channels: %w", err)
	}
	for _, ch := range channels {
		if err = ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		m.check(ctx, ch, &res)
	}
	m.log.With(
		slog.Int("checked", res.Checked),
		slog.Int("deactivated", res.Deactivated),
		slog.Int("admin_changed", res.AdminChanged),
		slog.Int("failed", res.Failed),
	).Info("channels checked")
	return res, nil
}

func (m *Monitor) check(ctx context.Context, ch *entity.Channel, res *Result) {
	log := m.log.With(sl.Channel(ch.Id), slog.Int64("chat_id", ch.ChatId))

	membership, err := m.provider.Membership(ctx, ch.ChatId)
	if err != nil {
		res.Failed++
		if errors.Is(err, provider.ErrNotFound) || errors.Is(err, provider.ErrPermission) {
			log.Warn("channel is no longer accessible", sl.Err(err))
			m.deactivate(ctx, ch, err.Error(), res)
			return
		}
		n := m.recordFailure(ch.Id)
		log.With(slog.Int("failures", n)).Warn("membership check failed", sl.Err(err))
		if n >= m.conf.Grace {
			m.deactivate(ctx, ch, fmt.Sprintf("%d consecutive check failures", n), res)
		}
		return
	}
	m.resetFailures(ch.Id)

	if !membership.Present() {
		m.deactivate(ctx, ch, "bot status is "+membership.Status, res)
		return
	}

	isAdmin := membership.IsAdministrator && membership.CanInviteUsers
	if isAdmin != ch.BotIsAdmin {
		if err = m.store.SetChannelAdmin(ctx, ch.Id, isAdmin); err != nil {
			log.Error("updating admin flag", sl.Err(err))
		} else {
			res.AdminChanged++
			log.With(slog.Bool("admin", isAdmin)).Info("admin flag changed")
			if !isAdmin {
				m.notify("Bot lost invite rights in %s, users get the public link until rights are restored", ch.DisplayName())
			}
		}
	}

	info, err := m.provider.ChatInfo(ctx, ch.ChatId)
	if err != nil {
		log.Debug("reading chat info", sl.Err(err))
		return
	}
	if info.Title != ch.Title || info.Username != ch.Username || (info.InviteLink != "" && info.InviteLink != ch.InviteLink) {
		err = m.store.UpdateChannelInfo(ctx, ch.Id, entity.ChannelInfo{
			Title:      info.Title,
			Username:   info.Username,
			InviteLink: info.InviteLink,
		})
		if err != nil {
			log.Error("updating channel info", sl.Err(err))
			return
		}
		res.Updated++
	}
}

func (m *Monitor) deactivate(ctx context.Context, ch *entity.Channel, reason string, res *Result) {
	n, err := m.store.DeactivateChannel(ctx, ch.Id)
	if err != nil {
		m.log.With(sl.Channel(ch.Id)).Error("deactivating channel", sl.Err(err))
		return
	}
	m.resetFailures(ch.Id)
	res.Deactivated++
	m.log.With(sl.Channel(ch.Id), slog.String("reason", reason), slog.Int64("credentials", n)).
		Warn("channel deactivated")
	m.notify("Channel %s deactivated: %s", ch.DisplayName(), reason)
}

func (m *Monitor) recordFailure(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id]++
	return m.failures[id]
}

func (m *Monitor) resetFailures(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, id)
}
