// Package linkgen decides, per (user, channel), whether to reuse a valid
// credential or mint a new one, and runs bulk regeneration jobs.
package linkgen

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/internal/provider"
	"invitegate/lib/sl"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Store is the subset of the link store the generator needs
type Store interface {
	Settings(ctx context.Context) (entity.Settings, error)
	ActiveChannels(ctx context.Context) ([]*entity.Channel, error)
	ChannelById(ctx context.Context, id int64) (*entity.Channel, error)
	SetChannelAdmin(ctx context.Context, id int64, isAdmin bool) error
	ActiveCredential(ctx context.Context, userId, channelId int64) (*entity.Credential, error)
	IssueCredential(ctx context.Context, p database.IssueParams) (*entity.Credential, error)
	DeactivateUserCredentials(ctx context.Context, userId int64) (int64, error)
	DeactivateAllCredentials(ctx context.Context) (int64, error)
	EligibleUsers(ctx context.Context) ([]int64, error)
}

type Config struct {
	Concurrency  int
	BulkWorkers  int
	BulkRate     float64
	RetryLimited int
	MaxRetryWait time.Duration
}

func (c *Config) defaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 5
	}
	if c.BulkWorkers < 1 {
		c.BulkWorkers = 10
	}
	if c.BulkRate <= 0 {
		c.BulkRate = 10
	}
	if c.RetryLimited < 0 {
		c.RetryLimited = 0
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = 30 * time.Second
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeReused
	outcomeCreated
	outcomeFallback
)

// Stats are process-lifetime counters
type Stats struct {
	Created     int64 `json:"created"`
	Reused      int64 `json:"reused"`
	Fallback    int64 `json:"fallback"`
	Failed      int64 `json:"failed"`
	RateLimited int64 `json:"rate_limited"`
}

type Generator struct {
	store    Store
	provider provider.Provider
	log      *slog.Logger
	conf     Config
	sem      *semaphore.Weighted
	newToken func() (string, error)

	created     atomic.Int64
	reused      atomic.Int64
	fallback    atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64

	bulk bulkState
}

func New(store Store, p provider.Provider, conf Config, log *slog.Logger) *Generator {
	conf.defaults()
	return &Generator{
		store:    store,
		provider: p,
		log:      log.With(sl.Module("linkgen")),
		conf:     conf,
		sem:      semaphore.NewWeighted(int64(conf.Concurrency)),
		newToken: NewToken,
	}
}

// NewToken returns 32 url-safe characters from 24 random bytes
func NewToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (g *Generator) Stats() Stats {
	return Stats{
		Created:     g.created.Load(),
		Reused:      g.reused.Load(),
		Fallback:    g.fallback.Load(),
		Failed:      g.failed.Load(),
		RateLimited: g.rateLimited.Load(),
	}
}

// ForUser returns one link per active channel, reusing valid credentials.
// Channels without any usable link are left out.
func (g *Generator) ForUser(ctx context.Context, userId int64) ([]*entity.Link, error) {
	settings, err := g.store.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	channels, err := g.store.ActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}

	links := make([]*entity.Link, len(channels))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		eg.Go(func() error {
			if err := g.sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer g.sem.Release(1)
			links[i], _ = g.forPair(egCtx, userId, ch, settings)
			return nil
		})
	}
	if err = eg.Wait(); err != nil {
		return nil, err
	}

	result := make([]*entity.Link, 0, len(links))
	for _, l := range links {
		if l != nil {
			result = append(result, l)
		}
	}
	g.log.With(sl.User(userId), slog.Int("channels", len(channels)), slog.Int("links", len(result))).Debug("links for user")
	return result, nil
}

// Refresh deactivates every credential of the user and issues new ones
func (g *Generator) Refresh(ctx context.Context, userId int64) ([]*entity.Link, error) {
	n, err := g.store.DeactivateUserCredentials(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("deactivate: %w", err)
	}
	g.log.With(sl.User(userId), slog.Int64("deactivated", n)).Info("refreshing links")
	return g.ForUser(ctx, userId)
}

func (g *Generator) forPair(ctx context.Context, userId int64, ch *entity.Channel, settings entity.Settings) (*entity.Link, outcome) {
	log := g.log.With(sl.User(userId), sl.Channel(ch.Id))

	existing, err := g.store.ActiveCredential(ctx, userId, ch.Id)
	if err == nil {
		g.reused.Add(1)
		return credentialLink(ch, existing, false), outcomeReused
	}
	if !errors.Is(err, database.ErrNotFound) {
		log.Warn("reading active credential", sl.Err(err))
		return g.fallbackLink(ch), outcomeFallback
	}

	if !ch.BotIsAdmin {
		log.Debug("bot is not admin, using fallback link")
		return g.fallbackLink(ch), outcomeFallback
	}

	token, err := g.newToken()
	if err != nil {
		log.Error("generating token", sl.Err(err))
		return g.fallbackLink(ch), outcomeFallback
	}
	ttl := time.Duration(settings.LinkTTLHours) * time.Hour

	url, err := g.createInvite(ctx, ch.ChatId, ttl, settings.MaxLinkUses, token)
	if err != nil {
		g.failed.Add(1)
		log.Warn("creating invite", sl.Err(err))
		// the monitor sets the flag again once invite rights come back
		if errors.Is(err, provider.ErrPermission) {
			if err = g.store.SetChannelAdmin(ctx, ch.Id, false); err != nil {
				log.Error("clearing admin flag", sl.Err(err))
			}
		}
		return g.fallbackLink(ch), outcomeFallback
	}

	cred, err := g.store.IssueCredential(ctx, database.IssueParams{
		UserId:     userId,
		ChannelId:  ch.Id,
		InviteLink: url,
		Token:      token,
		TTL:        ttl,
		MaxUses:    settings.MaxLinkUses,
	})
	if errors.Is(err, database.ErrActiveExists) && cred != nil {
		g.revoke(ch.ChatId, url)
		g.reused.Add(1)
		return credentialLink(ch, cred, false), outcomeReused
	}
	if err != nil {
		g.revoke(ch.ChatId, url)
		g.failed.Add(1)
		log.Error("issuing credential", sl.Err(err))
		return g.fallbackLink(ch), outcomeFallback
	}
	g.created.Add(1)
	log.With(sl.Secret("token", token)).Info("credential issued")
	return credentialLink(ch, cred, true), outcomeCreated
}

// createInvite retries rate-limited calls, waiting as asked but no longer
// than MaxRetryWait
func (g *Generator) createInvite(ctx context.Context, chatId int64, ttl time.Duration, maxUses int, token string) (string, error) {
	for attempt := 0; ; attempt++ {
		url, err := g.provider.CreateInvite(ctx, chatId, ttl, maxUses, token)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, provider.ErrRateLimited) || attempt >= g.conf.RetryLimited {
			return "", err
		}
		g.rateLimited.Add(1)
		wait := min(provider.RetryAfter(err), g.conf.MaxRetryWait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// revoke is best effort; the link is unreachable to users either way
func (g *Generator) revoke(chatId int64, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := g.provider.RevokeInvite(ctx, chatId, url); err != nil {
		g.log.With(slog.Int64("chat_id", chatId)).Debug("revoking unused invite", sl.Err(err))
	}
}

func (g *Generator) fallbackLink(ch *entity.Channel) *entity.Link {
	url := ch.FallbackLink()
	if url == "" {
		return nil
	}
	g.fallback.Add(1)
	return &entity.Link{
		ChannelId:       ch.Id,
		ChannelTitle:    ch.Title,
		ChannelUsername: ch.Username,
		URL:             url,
		Enforced:        false,
	}
}

func credentialLink(ch *entity.Channel, c *entity.Credential, isNew bool) *entity.Link {
	return &entity.Link{
		ChannelId:       ch.Id,
		ChannelTitle:    ch.Title,
		ChannelUsername: ch.Username,
		URL:             c.InviteLink,
		ExpiresAt:       c.ExpiresAt,
		Enforced:        true,
		New:             isNew,
	}
}
