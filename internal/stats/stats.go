// Package stats derives per-channel daily counters from committed link
// and usage records.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"invitegate/entity"
	"invitegate/lib/clock"
	"invitegate/lib/sl"
)

type Store interface {
	Now() time.Time
	ActiveChannels(ctx context.Context) ([]*entity.Channel, error)
	ChannelById(ctx context.Context, id int64) (*entity.Channel, error)
	CountDay(ctx context.Context, channelId int64, day string) (entity.DailyChannelStat, error)
	PutDailyStat(ctx context.Context, stat entity.DailyChannelStat) error
	DailyStats(ctx context.Context, channelId int64, fromDay, toDay string) ([]entity.DailyChannelStat, error)
	Overview(ctx context.Context) (entity.Overview, error)
	CleanupStats(ctx context.Context, usageRetention, channelRetention time.Duration) (entity.CleanupStats, error)
}

// Archive receives recomputed rows; the aggregator works without one
type Archive interface {
	ArchiveDailyStats(ctx context.Context, stats []entity.DailyChannelStat) error
}

type Aggregator struct {
	store   Store
	archive Archive
	log     *slog.Logger

	usageRetention   time.Duration
	channelRetention time.Duration
}

func New(store Store, log *slog.Logger) *Aggregator {
	return &Aggregator{
		store:            store,
		log:              log.With(sl.Module("stats")),
		usageRetention:   30 * 24 * time.Hour,
		channelRetention: 7 * 24 * time.Hour,
	}
}

func (a *Aggregator) SetArchive(archive Archive) {
	a.archive = archive
}

// SetRetention aligns cleanup reporting with the maintenance windows
func (a *Aggregator) SetRetention(usage, channels time.Duration) {
	a.usageRetention = usage
	a.channelRetention = channels
}

// Recompute counts the day from scratch and overwrites the row, so running
// it twice yields the same row
func (a *Aggregator) Recompute(ctx context.Context, channelId int64, day string) (entity.DailyChannelStat, error) {
	stat, err := a.store.CountDay(ctx, channelId, day)
	if err != nil {
		return stat, fmt.Errorf("count: %w", err)
	}
	if err = a.store.PutDailyStat(ctx, stat); err != nil {
		return stat, fmt.Errorf("save: %w", err)
	}
	return stat, nil
}

// RecomputeDay recomputes every active channel; one failing channel does not
// stop the others
func (a *Aggregator) RecomputeDay(ctx context.Context, day string) ([]entity.DailyChannelStat, error) {
	channels, err := a.store.ActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	var result []entity.DailyChannelStat
	var errs []error
	for _, ch := range channels {
		stat, err := a.Recompute(ctx, ch.Id, day)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", ch.Id, err))
			continue
		}
		result = append(result, stat)
	}
	if a.archive != nil && len(result) > 0 {
		if err = a.archive.ArchiveDailyStats(ctx, result); err != nil {
			a.log.Warn("archiving daily stats", sl.Err(err))
		}
	}
	a.log.With(slog.String("day", day), slog.Int("channels", len(result))).Debug("daily stats recomputed")
	return result, errors.Join(errs...)
}

// RecomputeRecent refreshes yesterday and today. Older days are left alone
// because reaped credentials would lower their counts.
func (a *Aggregator) RecomputeRecent(ctx context.Context) error {
	now := a.store.Now()
	var errs []error
	for _, t := range []time.Time{now.AddDate(0, 0, -1), now} {
		if _, err := a.RecomputeDay(ctx, clock.Day(t)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Aggregator) Overview(ctx context.Context) (entity.Overview, error) {
	return a.store.Overview(ctx)
}

// ChannelPerformance totals the last days of a channel's stat rows
func (a *Aggregator) ChannelPerformance(ctx context.Context, channelId int64, days int) (entity.ChannelPerformance, error) {
	if days < 1 {
		days = 7
	}
	perf := entity.ChannelPerformance{ChannelId: channelId, Days: days}
	ch, err := a.store.ChannelById(ctx, channelId)
	if err != nil {
		return perf, err
	}
	perf.Title = ch.Title

	now := a.store.Now()
	rows, err := a.store.DailyStats(ctx, channelId, clock.Day(now.AddDate(0, 0, 1-days)), clock.Day(now))
	if err != nil {
		return perf, err
	}
	for _, r := range rows {
		perf.Generated += r.LinksGenerated
		perf.Used += r.LinksUsed
		perf.UniqueUsers += r.UniqueUsers
	}
	if perf.Generated > 0 {
		perf.UsageRate = float64(perf.Used) / float64(perf.Generated) * 100
	}
	return perf, nil
}

// Cleanup reports reclaimable state
func (a *Aggregator) Cleanup(ctx context.Context) (entity.CleanupStats, error) {
	return a.store.CleanupStats(ctx, a.usageRetention, a.channelRetention)
}
