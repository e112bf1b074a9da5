package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"invitegate/entity"
	"invitegate/lib/clock"
	"invitegate/lib/sl"
)

const credentialColumns = `id, user_id, channel_id, invite_link, token, expires_at, max_uses, current_uses, active, created_at, used_at`

// IssueParams describes a credential to persist after the provider minted
// its link
type IssueParams struct {
	UserId     int64
	ChannelId  int64
	InviteLink string
	Token      string
	TTL        time.Duration
	MaxUses    int
}

func (p IssueParams) validate() error {
	if p.UserId == 0 || p.ChannelId == 0 {
		return fmt.Errorf("%w: user and channel are required", ErrInvalid)
	}
	if p.Token == "" || p.InviteLink == "" {
		return fmt.Errorf("%w: token and link are required", ErrInvalid)
	}
	if p.TTL <= 0 || p.MaxUses < 1 {
		return fmt.Errorf("%w: ttl and max uses must be positive", ErrInvalid)
	}
	return nil
}

// ConsumeResult is returned for an accepted consumption
type ConsumeResult struct {
	Credential *entity.Credential
	// Exhausted is true when this use reached max_uses and deactivated the credential
	Exhausted bool
}

// ReapResult counts rows touched by ReapExpired
type ReapResult struct {
	Deactivated int64
	Deleted     int64
}

func scanCredential(row rowScanner) (*entity.Credential, error) {
	var c entity.Credential
	var expiresAt, createdAt, usedAt int64
	err := row.Scan(
		&c.Id,
		&c.UserId,
		&c.ChannelId,
		&c.InviteLink,
		&c.Token,
		&expiresAt,
		&c.MaxUses,
		&c.CurrentUses,
		&c.Active,
		&createdAt,
		&usedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = clock.FromMillis(expiresAt)
	c.CreatedAt = clock.FromMillis(createdAt)
	c.UsedAt = clock.FromMillis(usedAt)
	return &c, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) selectValid(ctx context.Context, q querier, userId, channelId int64, now time.Time) (*entity.Credential, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		WHERE user_id = ? AND channel_id = ? AND active = 1 AND expires_at > ? AND current_uses < max_uses
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		userId, channelId, now.UnixMilli())
	c, err := scanCredential(row)
	return c, notFound(err)
}

// ActiveCredential returns the newest valid credential for the pair or ErrNotFound
func (s *Store) ActiveCredential(ctx context.Context, userId, channelId int64) (*entity.Credential, error) {
	var c *entity.Credential
	err := s.withRetry(ctx, func() error {
		var err error
		c, err = s.selectValid(ctx, s.db, userId, channelId, s.now())
		return err
	})
	return c, err
}

// IssueCredential persists a freshly minted credential. If another valid
// credential already holds the pair it is returned together with
// ErrActiveExists and nothing is written.
func (s *Store) IssueCredential(ctx context.Context, p IssueParams) (*entity.Credential, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var issued, existing *entity.Credential

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		issued, existing = nil, nil
		now := s.now()

		var uid int64
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM users WHERE user_id = ?`+s.d.lockSuffix, p.UserId).Scan(&uid)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("user %d: %w", p.UserId, ErrNotFound)
			}
			return err
		}

		// stale rows still flagged active would block the unique slot
		_, err = tx.ExecContext(ctx,
			`UPDATE credentials SET active = 0
			WHERE user_id = ? AND channel_id = ? AND active = 1 AND (expires_at <= ? OR current_uses >= max_uses)`,
			p.UserId, p.ChannelId, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("deactivating stale: %w", err)
		}

		existing, err = s.selectValid(ctx, tx, p.UserId, p.ChannelId, now)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		existing = nil

		c := &entity.Credential{
			UserId:     p.UserId,
			ChannelId:  p.ChannelId,
			InviteLink: p.InviteLink,
			Token:      p.Token,
			ExpiresAt:  now.Add(p.TTL).Truncate(time.Millisecond),
			MaxUses:    p.MaxUses,
			Active:     true,
			CreatedAt:  now.Truncate(time.Millisecond),
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO credentials (user_id, channel_id, invite_link, token, expires_at, max_uses, current_uses, active, created_at, used_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?, 0)`,
			c.UserId, c.ChannelId, c.InviteLink, c.Token, c.ExpiresAt.UnixMilli(), c.MaxUses, c.CreatedAt.UnixMilli())
		if err != nil {
			if s.d.isUnique(err) {
				existing, err = s.selectValid(ctx, tx, p.UserId, p.ChannelId, now)
				if err != nil {
					return fmt.Errorf("insert credential: %w", ErrActiveExists)
				}
				return nil
			}
			return fmt.Errorf("insert credential: %w", err)
		}
		if c.Id, err = res.LastInsertId(); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, s.d.bumpGenerated, c.ChannelId, clock.Day(now)); err != nil {
			return fmt.Errorf("bump generated: %w", err)
		}
		issued = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrActiveExists
	}
	return issued, nil
}

// Consume records one use of the credential identified by token. Rejected
// attempts still commit a failed usage event before the error is returned.
// actor is the account that used the link; zero means the owner.
func (s *Store) Consume(ctx context.Context, token string, actor int64) (*ConsumeResult, error) {
	var result *ConsumeResult
	var rejected error

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, rejected = nil, nil
		now := s.now()

		row := tx.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE token = ?`+s.d.lockSuffix, token)
		c, err := scanCredential(row)
		if errors.Is(err, sql.ErrNoRows) {
			rejected = ErrNotFound
			return s.insertEvent(ctx, tx, 0, 0, actor, false, reasonNotFound, now)
		}
		if err != nil {
			return err
		}

		user := actor
		if user == 0 {
			user = c.UserId
		}
		if actor != 0 && actor != c.UserId {
			s.log.With(sl.User(c.UserId), slog.Int64("actor", actor), sl.Channel(c.ChannelId)).
				Warn("credential used by another account")
		}

		switch {
		case c.CurrentUses >= c.MaxUses:
			rejected = ErrLimitExceeded
			return s.insertEvent(ctx, tx, c.Id, c.ChannelId, user, false, reasonLimit, now)
		case !c.Active:
			rejected = ErrNotFound
			return s.insertEvent(ctx, tx, c.Id, c.ChannelId, user, false, reasonInactive, now)
		case !c.ExpiresAt.After(now):
			rejected = ErrNotFound
			return s.insertEvent(ctx, tx, c.Id, c.ChannelId, user, false, reasonExpired, now)
		}

		// active is assigned first, MySQL evaluates SET left to right
		res, err := tx.ExecContext(ctx,
			`UPDATE credentials SET
				active = CASE WHEN current_uses + 1 >= max_uses THEN 0 ELSE active END,
				current_uses = current_uses + 1,
				used_at = ?
			WHERE id = ? AND current_uses < max_uses`,
			now.UnixMilli(), c.Id)
		if err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			rejected = ErrLimitExceeded
			return s.insertEvent(ctx, tx, c.Id, c.ChannelId, user, false, reasonLimit, now)
		}

		c.CurrentUses++
		c.UsedAt = now.Truncate(time.Millisecond)
		exhausted := c.CurrentUses >= c.MaxUses
		if exhausted {
			c.Active = false
		}
		if err = s.insertEvent(ctx, tx, c.Id, c.ChannelId, user, true, "", now); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, s.d.bumpUsed, c.ChannelId, clock.Day(now)); err != nil {
			return fmt.Errorf("bump used: %w", err)
		}
		result = &ConsumeResult{Credential: c, Exhausted: exhausted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	return result, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, credentialId, channelId, userId int64, success bool, reason string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO usage_events (credential_id, channel_id, user_id, success, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		nullInt(credentialId), nullInt(channelId), userId, success, reason, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// CredentialByLink finds a credential by its invite URL, used when a join
// event carries the link but no name
func (s *Store) CredentialByLink(ctx context.Context, link string) (*entity.Credential, error) {
	var c *entity.Credential
	err := s.withRetry(ctx, func() error {
		var err error
		row := s.db.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE invite_link = ? ORDER BY id DESC LIMIT 1`, link)
		c, err = scanCredential(row)
		return notFound(err)
	})
	return c, err
}

// UserCredentials returns valid credentials of a user keyed by channel id
func (s *Store) UserCredentials(ctx context.Context, userId int64) (map[int64]*entity.Credential, error) {
	result := make(map[int64]*entity.Credential)
	err := s.withRetry(ctx, func() error {
		clear(result)
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials
			WHERE user_id = ? AND active = 1 AND expires_at > ? AND current_uses < max_uses`,
			userId, s.now().UnixMilli())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCredential(rows)
			if err != nil {
				return err
			}
			result[c.ChannelId] = c
		}
		return rows.Err()
	})
	return result, err
}

// UserHistory lists the newest credentials of a user with channel titles
func (s *Store) UserHistory(ctx context.Context, userId int64, limit int) ([]*entity.LinkHistoryItem, error) {
	var items []*entity.LinkHistoryItem
	err := s.withRetry(ctx, func() error {
		items = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT ch.title, c.created_at, c.expires_at, c.current_uses, c.max_uses, c.active
			FROM credentials c JOIN channels ch ON ch.id = c.channel_id
			WHERE c.user_id = ? ORDER BY c.created_at DESC, c.id DESC LIMIT ?`,
			userId, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var item entity.LinkHistoryItem
			var created, expires int64
			if err = rows.Scan(&item.ChannelTitle, &created, &expires, &item.CurrentUses, &item.MaxUses, &item.Active); err != nil {
				return err
			}
			item.CreatedAt = clock.FromMillis(created)
			item.ExpiresAt = clock.FromMillis(expires)
			items = append(items, &item)
		}
		return rows.Err()
	})
	return items, err
}

// DeactivateUserCredentials flips every active credential of a user
func (s *Store) DeactivateUserCredentials(ctx context.Context, userId int64) (int64, error) {
	return s.exec(ctx, `UPDATE credentials SET active = 0 WHERE user_id = ? AND active = 1`, userId)
}

func (s *Store) DeactivateAllCredentials(ctx context.Context) (int64, error) {
	return s.exec(ctx, `UPDATE credentials SET active = 0 WHERE active = 1`)
}

// ReapExpired deactivates expired credentials and deletes inactive ones that
// expired more than retention ago. Rows created yesterday or today are kept
// whatever the retention, since CountDay still derives links_generated from
// them.
func (s *Store) ReapExpired(ctx context.Context, retention time.Duration) (ReapResult, error) {
	var r ReapResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		keepFrom, _, err := clock.DayBounds(clock.Day(now.AddDate(0, 0, -1)))
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credentials SET active = 0 WHERE active = 1 AND expires_at <= ?`, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("deactivate expired: %w", err)
		}
		if r.Deactivated, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`DELETE FROM credentials WHERE active = 0 AND expires_at < ? AND created_at < ?`,
			now.Add(-retention).UnixMilli(), keepFrom)
		if err != nil {
			return fmt.Errorf("delete expired: %w", err)
		}
		r.Deleted, err = res.RowsAffected()
		return err
	})
	return r, err
}
