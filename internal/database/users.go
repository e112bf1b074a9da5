package database

import (
	"context"
	"errors"
	"fmt"

	"invitegate/entity"
	"invitegate/lib/clock"
)

// TouchUser registers a user or refreshes names and last activity
func (s *Store) TouchUser(ctx context.Context, u *entity.User) error {
	if u.UserId == 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	now := s.now().UnixMilli()
	_, err := s.exec(ctx, s.d.upsertUser, u.UserId, u.Username, u.FullName, now, now)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *Store) User(ctx context.Context, userId int64) (*entity.User, error) {
	var u entity.User
	err := s.withRetry(ctx, func() error {
		var first, last int64
		err := s.db.QueryRowContext(ctx,
			`SELECT user_id, username, full_name, banned, captcha_passed, first_seen, last_activity FROM users WHERE user_id = ?`,
			userId).Scan(&u.UserId, &u.Username, &u.FullName, &u.Banned, &u.CaptchaPassed, &first, &last)
		if err != nil {
			return notFound(err)
		}
		u.FirstSeen = clock.FromMillis(first)
		u.LastActivity = clock.FromMillis(last)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUserBanned creates the user row when the id was never seen, so a ban
// can precede the first contact
func (s *Store) SetUserBanned(ctx context.Context, userId int64, banned bool) error {
	now := s.now().UnixMilli()
	_, err := s.exec(ctx, s.d.upsertUserBanned, userId, banned, now, now)
	return err
}

func (s *Store) SetUserCaptcha(ctx context.Context, userId int64, passed bool) error {
	_, err := s.exec(ctx, `UPDATE users SET captcha_passed = ? WHERE user_id = ?`, passed, userId)
	return err
}

// CaptchaPassed reads the authoritative captcha flag; unknown users have not passed
func (s *Store) CaptchaPassed(ctx context.Context, userId int64) (bool, error) {
	var passed bool
	err := s.withRetry(ctx, func() error {
		return notFound(s.db.QueryRowContext(ctx, `SELECT captcha_passed FROM users WHERE user_id = ?`, userId).Scan(&passed))
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return passed, err
}

// EligibleUsers lists ids of users that are not banned
func (s *Store) EligibleUsers(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.withRetry(ctx, func() error {
		ids = nil
		rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users WHERE banned = 0 ORDER BY user_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err = rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}
