package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"invitegate/entity"
	"invitegate/lib/clock"
)

const channelColumns = `id, chat_id, title, username, invite_link, active, bot_is_admin, added_at, updated_at`

func scanChannel(row rowScanner) (*entity.Channel, error) {
	var c entity.Channel
	var addedAt, updatedAt int64
	err := row.Scan(&c.Id, &c.ChatId, &c.Title, &c.Username, &c.InviteLink, &c.Active, &c.BotIsAdmin, &addedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.AddedAt = clock.FromMillis(addedAt)
	c.UpdatedAt = clock.FromMillis(updatedAt)
	return &c, nil
}

// UpsertChannel registers a channel or reactivates a known one
func (s *Store) UpsertChannel(ctx context.Context, ch *entity.Channel) (*entity.Channel, error) {
	if ch.ChatId == 0 {
		return nil, fmt.Errorf("%w: chat id is required", ErrInvalid)
	}
	now := s.now().UnixMilli()
	_, err := s.exec(ctx, s.d.upsertChannel,
		ch.ChatId, ch.Title, ch.Username, ch.InviteLink, ch.BotIsAdmin, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert channel: %w", err)
	}
	return s.ChannelByChatId(ctx, ch.ChatId)
}

func (s *Store) ChannelByChatId(ctx context.Context, chatId int64) (*entity.Channel, error) {
	return s.queryChannel(ctx, `SELECT `+channelColumns+` FROM channels WHERE chat_id = ?`, chatId)
}

func (s *Store) ChannelById(ctx context.Context, id int64) (*entity.Channel, error) {
	return s.queryChannel(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
}

func (s *Store) queryChannel(ctx context.Context, query string, arg int64) (*entity.Channel, error) {
	var ch *entity.Channel
	err := s.withRetry(ctx, func() error {
		var err error
		ch, err = scanChannel(s.db.QueryRowContext(ctx, query, arg))
		return notFound(err)
	})
	return ch, err
}

func (s *Store) ActiveChannels(ctx context.Context) ([]*entity.Channel, error) {
	return s.listChannels(ctx, `SELECT `+channelColumns+` FROM channels WHERE active = 1 ORDER BY id`)
}

func (s *Store) AllChannels(ctx context.Context) ([]*entity.Channel, error) {
	return s.listChannels(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY active DESC, id`)
}

func (s *Store) listChannels(ctx context.Context, query string) ([]*entity.Channel, error) {
	var list []*entity.Channel
	err := s.withRetry(ctx, func() error {
		list = nil
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			ch, err := scanChannel(rows)
			if err != nil {
				return err
			}
			list = append(list, ch)
		}
		return rows.Err()
	})
	return list, err
}

// DeactivateChannel marks the channel inactive and deactivates its
// credentials in the same transaction. Returns the number of credentials
// deactivated.
func (s *Store) DeactivateChannel(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE channels SET active = 0, bot_is_admin = 0, updated_at = ? WHERE id = ?`, s.now().UnixMilli(), id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		res, err = tx.ExecContext(ctx, `UPDATE credentials SET active = 0 WHERE channel_id = ? AND active = 1`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// UpdateChannelInfo refreshes platform-owned fields; an empty invite link
// keeps the stored one
func (s *Store) UpdateChannelInfo(ctx context.Context, id int64, info entity.ChannelInfo) error {
	_, err := s.exec(ctx,
		`UPDATE channels SET title = ?, username = ?,
			invite_link = CASE WHEN ? = '' THEN invite_link ELSE ? END,
			updated_at = ?
		WHERE id = ?`,
		info.Title, info.Username, info.InviteLink, info.InviteLink, s.now().UnixMilli(), id)
	return err
}

func (s *Store) SetChannelAdmin(ctx context.Context, id int64, isAdmin bool) error {
	_, err := s.exec(ctx, `UPDATE channels SET bot_is_admin = ?, updated_at = ? WHERE id = ?`,
		isAdmin, s.now().UnixMilli(), id)
	return err
}

// PruneInactiveChannels hard deletes channels inactive for longer than
// olderThan together with their credentials and stats
func (s *Store) PruneInactiveChannels(ctx context.Context, olderThan time.Duration) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cutoff := s.now().Add(-olderThan).UnixMilli()
		stale := `SELECT id FROM channels WHERE active = 0 AND updated_at < ?`
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE channel_id IN (`+stale+`)`, cutoff); err != nil {
			return fmt.Errorf("delete credentials: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM daily_channel_stats WHERE channel_id IN (`+stale+`)`, cutoff); err != nil {
			return fmt.Errorf("delete stats: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE active = 0 AND updated_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("delete channels: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
