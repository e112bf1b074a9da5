package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"invitegate/entity"
	"invitegate/lib/clock"
)

// CountDay computes the stat row for a channel and UTC day from committed
// credentials and usage events
func (s *Store) CountDay(ctx context.Context, channelId int64, day string) (entity.DailyChannelStat, error) {
	stat := entity.DailyChannelStat{ChannelId: channelId, Day: day}
	from, to, err := clock.DayBounds(day)
	if err != nil {
		return stat, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	err = s.withRetry(ctx, func() error {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM credentials WHERE channel_id = ? AND created_at >= ? AND created_at < ?`,
			channelId, from, to).Scan(&stat.LinksGenerated); err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), COUNT(DISTINCT user_id) FROM usage_events
			WHERE channel_id = ? AND success = 1 AND created_at >= ? AND created_at < ?`,
			channelId, from, to).Scan(&stat.LinksUsed, &stat.UniqueUsers)
	})
	return stat, err
}

// PutDailyStat overwrites the stat row for (channel, day)
func (s *Store) PutDailyStat(ctx context.Context, stat entity.DailyChannelStat) error {
	_, err := s.exec(ctx, s.d.putDailyStat, stat.ChannelId, stat.Day, stat.LinksGenerated, stat.LinksUsed, stat.UniqueUsers)
	return err
}

func (s *Store) DailyStat(ctx context.Context, channelId int64, day string) (entity.DailyChannelStat, error) {
	stat := entity.DailyChannelStat{ChannelId: channelId, Day: day}
	err := s.withRetry(ctx, func() error {
		return notFound(s.db.QueryRowContext(ctx,
			`SELECT links_generated, links_used, unique_users FROM daily_channel_stats WHERE channel_id = ? AND day = ?`,
			channelId, day).Scan(&stat.LinksGenerated, &stat.LinksUsed, &stat.UniqueUsers))
	})
	return stat, err
}

// DailyStats returns rows with fromDay <= day <= toDay ordered by day
func (s *Store) DailyStats(ctx context.Context, channelId int64, fromDay, toDay string) ([]entity.DailyChannelStat, error) {
	var list []entity.DailyChannelStat
	err := s.withRetry(ctx, func() error {
		list = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT channel_id, day, links_generated, links_used, unique_users FROM daily_channel_stats
			WHERE channel_id = ? AND day >= ? AND day <= ? ORDER BY day`,
			channelId, fromDay, toDay)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var st entity.DailyChannelStat
			if err = rows.Scan(&st.ChannelId, &st.Day, &st.LinksGenerated, &st.LinksUsed, &st.UniqueUsers); err != nil {
				return err
			}
			list = append(list, st)
		}
		return rows.Err()
	})
	return list, err
}

// Overview collects the system-wide counters for today
func (s *Store) Overview(ctx context.Context) (entity.Overview, error) {
	var o entity.Overview
	now := s.now()
	from, to, err := clock.DayBounds(clock.Day(now))
	if err != nil {
		return o, err
	}
	queries := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&o.ActiveChannels, `SELECT COUNT(*) FROM channels WHERE active = 1`, nil},
		{&o.TotalUsers, `SELECT COUNT(*) FROM users WHERE banned = 0`, nil},
		{&o.BannedUsers, `SELECT COUNT(*) FROM users WHERE banned = 1`, nil},
		{&o.ActiveLinks, `SELECT COUNT(*) FROM credentials WHERE active = 1 AND expires_at > ? AND current_uses < max_uses`,
			[]any{now.UnixMilli()}},
		{&o.LinksUsedToday, `SELECT COUNT(*) FROM usage_events WHERE success = 1 AND created_at >= ? AND created_at < ?`,
			[]any{from, to}},
		{&o.FailedToday, `SELECT COUNT(*) FROM usage_events WHERE success = 0 AND created_at >= ? AND created_at < ?`,
			[]any{from, to}},
	}
	for _, q := range queries {
		if *q.dst, err = s.count(ctx, q.query, q.args...); err != nil {
			return o, err
		}
	}
	return o, nil
}

// CleanupStats reports how much state the next maintenance run would reclaim
func (s *Store) CleanupStats(ctx context.Context, usageRetention, channelRetention time.Duration) (entity.CleanupStats, error) {
	var c entity.CleanupStats
	now := s.now()
	var err error
	if c.ExpiredActive, err = s.count(ctx,
		`SELECT COUNT(*) FROM credentials WHERE active = 1 AND expires_at <= ?`, now.UnixMilli()); err != nil {
		return c, err
	}
	if c.UsedUp, err = s.count(ctx,
		`SELECT COUNT(*) FROM credentials WHERE current_uses >= max_uses`); err != nil {
		return c, err
	}
	if c.OldUsageRecords, err = s.count(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE created_at < ?`, now.Add(-usageRetention).UnixMilli()); err != nil {
		return c, err
	}
	c.InactiveChannel, err = s.count(ctx,
		`SELECT COUNT(*) FROM channels WHERE active = 0 AND updated_at < ?`, now.Add(-channelRetention).UnixMilli())
	return c, err
}

// PruneDailyStats deletes stat rows for days before now-olderThan
func (s *Store) PruneDailyStats(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.exec(ctx, `DELETE FROM daily_channel_stats WHERE day < ?`, clock.Day(s.now().Add(-olderThan)))
}

// PruneUsageEvents deletes events created before now-olderThan
func (s *Store) PruneUsageEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.exec(ctx, `DELETE FROM usage_events WHERE created_at < ?`, s.now().Add(-olderThan).UnixMilli())
}

// UsageEvents lists the newest events, mainly for diagnostics
func (s *Store) UsageEvents(ctx context.Context, limit int) ([]entity.UsageEvent, error) {
	var list []entity.UsageEvent
	err := s.withRetry(ctx, func() error {
		list = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, credential_id, channel_id, user_id, success, error, created_at FROM usage_events
			ORDER BY id DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e entity.UsageEvent
			var cred, ch sql.NullInt64
			var created int64
			if err = rows.Scan(&e.Id, &cred, &ch, &e.UserId, &e.Success, &e.Error, &created); err != nil {
				return err
			}
			e.CredentialId = cred.Int64
			e.ChannelId = ch.Int64
			e.CreatedAt = clock.FromMillis(created)
			list = append(list, e)
		}
		return rows.Err()
	})
	return list, err
}
