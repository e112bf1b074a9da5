package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"invitegate/entity"
	"invitegate/internal/captcha"
	"invitegate/internal/database"
	"invitegate/internal/linkgen"
	"invitegate/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu         sync.Mutex
	membership map[int64]provider.Membership
	info       map[int64]provider.ChatInfo
}

func (p *stubProvider) CreateInvite(_ context.Context, chatId int64, _ time.Duration, _ int, name string) (string, error) {
	return fmt.Sprintf("https://t.me/+%d_%s", -chatId, name), nil
}

func (p *stubProvider) RevokeInvite(context.Context, int64, string) error { return nil }

func (p *stubProvider) Membership(_ context.Context, chatId int64) (provider.Membership, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.membership[chatId]
	if !ok {
		return provider.Membership{}, provider.ErrNotFound
	}
	return m, nil
}

func (p *stubProvider) ChatInfo(_ context.Context, chatId int64) (provider.ChatInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.info[chatId]
	if !ok {
		return provider.ChatInfo{}, provider.ErrNotFound
	}
	return info, nil
}

type fixture struct {
	core  *Core
	store *database.Store
	p     *stubProvider
}

func setup(t *testing.T) fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := database.NewSQLite(filepath.Join(t.TempDir(), "core.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p := &stubProvider{
		membership: map[int64]provider.Membership{
			-100: {Status: provider.StatusAdministrator, IsAdministrator: true, CanInviteUsers: true},
			-200: {Status: provider.StatusLeft},
		},
		info: map[int64]provider.ChatInfo{
			-100: {Title: "News", Username: "news"},
		},
	}
	gen := linkgen.New(s, p, linkgen.Config{Concurrency: 5, BulkWorkers: 2, BulkRate: 1000}, log)
	c := New(s, gen, log)
	c.SetProvider(p)
	c.SetCaptcha(captcha.New(s))
	return fixture{core: c, store: s, p: p}
}

func (f fixture) user(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, f.core.TouchUser(context.Background(), &entity.User{UserId: id, FullName: "user"}))
}

func TestRequestLinksRequiresCaptcha(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.user(t, 1)
	_, err := f.core.AddChannel(ctx, -100)
	require.NoError(t, err)

	need, err := f.core.NeedsCaptcha(ctx, 1)
	require.NoError(t, err)
	assert.True(t, need)

	_, err = f.core.RequestLinks(ctx, 1)
	assert.ErrorIs(t, err, ErrCaptchaRequired)

	code, err := f.core.IssueCaptcha(1)
	require.NoError(t, err)
	assert.True(t, f.core.AwaitingCaptcha(1))
	assert.ErrorIs(t, f.core.AnswerCaptcha(ctx, 1, "nope"), captcha.ErrWrongAnswer)
	require.NoError(t, f.core.AnswerCaptcha(ctx, 1, strings.ToLower(code)))

	links, err := f.core.RequestLinks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].Enforced)
	assert.Equal(t, "News", links[0].ChannelTitle)
}

func TestRequestLinksWithoutCaptcha(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.user(t, 1)
	_, err := f.core.AddChannel(ctx, -100)
	require.NoError(t, err)
	_, err = f.core.SetCaptchaRequired(ctx, false)
	require.NoError(t, err)

	first, err := f.core.RequestLinks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := f.core.RequestLinks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first[0].URL, again[0].URL)

	refreshed, err := f.core.RefreshLinks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, refreshed, 1)
	assert.NotEqual(t, first[0].URL, refreshed[0].URL)
}

func TestUnknownUserIsRejected(t *testing.T) {
	f := setup(t)
	_, err := f.core.RequestLinks(context.Background(), 42)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBanDeactivatesCredentials(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.user(t, 1)
	_, err := f.core.AddChannel(ctx, -100)
	require.NoError(t, err)
	require.NoError(t, f.core.PassCaptcha(ctx, 1))
	_, err = f.core.RequestLinks(ctx, 1)
	require.NoError(t, err)

	n, err := f.core.BanUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.core.RequestLinks(ctx, 1)
	assert.ErrorIs(t, err, ErrBanned)

	require.NoError(t, f.core.UnbanUser(ctx, 1))
	_, err = f.core.RequestLinks(ctx, 1)
	assert.ErrorIs(t, err, ErrCaptchaRequired)

	require.NoError(t, f.core.PassCaptcha(ctx, 1))
	links, err := f.core.RequestLinks(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestConsumeJoin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.user(t, 1)
	_, err := f.core.AddChannel(ctx, -100)
	require.NoError(t, err)
	require.NoError(t, f.core.PassCaptcha(ctx, 1))
	links, err := f.core.RequestLinks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, links, 1)

	// name is empty, so the credential is found by its URL
	res, err := f.core.ConsumeJoin(ctx, "", links[0].URL, 1)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)

	_, err = f.core.ConsumeJoin(ctx, "", links[0].URL, 1)
	assert.True(t, errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrLimitExceeded))

	_, err = f.core.ConsumeJoin(ctx, "", "", 1)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAddChannel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ch, err := f.core.AddChannel(ctx, -100)
	require.NoError(t, err)
	assert.True(t, ch.BotIsAdmin)
	assert.Equal(t, "news", ch.Username)

	_, err = f.core.AddChannel(ctx, -200)
	assert.ErrorIs(t, err, provider.ErrPermission)

	_, err = f.core.AddChannel(ctx, -300)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	n, err := f.core.DeregisterChannel(ctx, -100)
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := f.core.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)

	_, err = f.core.DeregisterChannel(ctx, -999)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSettings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s, err := f.core.SetLinkTTL(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 24, s.LinkTTLHours)

	_, err = f.core.SetLinkTTL(ctx, 0)
	assert.ErrorIs(t, err, database.ErrInvalid)

	s, err = f.core.SetMaxUses(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxLinkUses)
	assert.Equal(t, 24, s.LinkTTLHours)

	s, err = f.core.SetCleanupInterval(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, s.CleanupIntervalHours)

	s, err = f.core.SetWelcomeMessage(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", s.WelcomeMessage)

	stored, err := f.core.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, stored)
}

func TestBulk(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.core.AddChannel(ctx, -100)
	require.NoError(t, err)
	for id := int64(1); id <= 3; id++ {
		f.user(t, id)
		require.NoError(t, f.core.PassCaptcha(ctx, id))
	}

	done := make(chan linkgen.BulkReport, 1)
	require.NoError(t, f.core.Bulk(nil, func(report linkgen.BulkReport, err error) {
		assert.NoError(t, err)
		done <- report
	}))

	select {
	case report := <-done:
		assert.Equal(t, 3, report.Total)
		assert.Equal(t, int64(3), report.Created)
	case <-time.After(5 * time.Second):
		t.Fatal("bulk job did not finish")
	}
}

func TestWithoutServices(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.core.RunMaintenance(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = f.core.Overview(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, f.core.Health(ctx))
}
