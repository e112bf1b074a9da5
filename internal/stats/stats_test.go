package stats

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"invitegate/entity"
	"invitegate/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memArchive struct {
	rows []entity.DailyChannelStat
}

func (m *memArchive) ArchiveDailyStats(_ context.Context, stats []entity.DailyChannelStat) error {
	m.rows = append(m.rows, stats...)
	return nil
}

func setup(t *testing.T) (*database.Store, *Aggregator, *entity.Channel) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := database.NewSQLite(filepath.Join(t.TempDir(), "stats.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.SetClock(func() time.Time { return time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC) })

	ctx := context.Background()
	ch, err := store.UpsertChannel(ctx, &entity.Channel{ChatId: -1, Title: "News", BotIsAdmin: true})
	require.NoError(t, err)
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, store.TouchUser(ctx, &entity.User{UserId: id}))
		_, err = store.IssueCredential(ctx, database.IssueParams{
			UserId: id, ChannelId: ch.Id, InviteLink: "https://t.me/+" + string(rune('a'+id)),
			Token: string(rune('a' + id)), TTL: time.Hour, MaxUses: 1,
		})
		require.NoError(t, err)
	}
	_, err = store.Consume(ctx, "b", 1)
	require.NoError(t, err)
	_, err = store.Consume(ctx, "c", 2)
	require.NoError(t, err)
	_, err = store.Consume(ctx, "c", 2)
	require.ErrorIs(t, err, database.ErrLimitExceeded)

	return store, New(store, log), ch
}

func TestRecomputeIsIdempotent(t *testing.T) {
	store, agg, ch := setup(t)
	ctx := context.Background()

	first, err := agg.Recompute(ctx, ch.Id, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, entity.DailyChannelStat{
		ChannelId: ch.Id, Day: "2024-06-01", LinksGenerated: 3, LinksUsed: 2, UniqueUsers: 2,
	}, first)

	second, err := agg.Recompute(ctx, ch.Id, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := store.DailyStat(ctx, ch.Id, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, first, stored)

	empty, err := agg.Recompute(ctx, ch.Id, "2024-05-31")
	require.NoError(t, err)
	assert.Zero(t, empty.LinksGenerated)

	_, err = agg.Recompute(ctx, ch.Id, "not-a-day")
	assert.ErrorIs(t, err, database.ErrInvalid)
}

func TestRecomputeRecentArchives(t *testing.T) {
	_, agg, _ := setup(t)
	archive := &memArchive{}
	agg.SetArchive(archive)

	require.NoError(t, agg.RecomputeRecent(context.Background()))
	require.Len(t, archive.rows, 2)
	assert.Equal(t, "2024-05-31", archive.rows[0].Day)
	assert.Equal(t, "2024-06-01", archive.rows[1].Day)
	assert.Equal(t, int64(2), archive.rows[1].LinksUsed)
}

func TestChannelPerformanceAndOverview(t *testing.T) {
	_, agg, ch := setup(t)
	ctx := context.Background()

	perf, err := agg.ChannelPerformance(ctx, ch.Id, 7)
	require.NoError(t, err)
	assert.Equal(t, "News", perf.Title)
	assert.Equal(t, int64(3), perf.Generated)
	assert.Equal(t, int64(2), perf.Used)
	assert.InDelta(t, 66.67, perf.UsageRate, 0.01)

	o, err := agg.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.ActiveLinks)
	assert.Equal(t, int64(2), o.LinksUsedToday)
	assert.Equal(t, int64(1), o.FailedToday)

	c, err := agg.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.UsedUp)
	assert.Equal(t, []string{"no action needed"}, c.Recommendations())
}
