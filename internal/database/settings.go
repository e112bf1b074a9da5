package database

import (
	"context"
	"fmt"
	"strconv"

	"invitegate/entity"
)

// SetDefaults replaces the fallback values of unsaved settings keys
func (s *Store) SetDefaults(defaults entity.Settings) error {
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s.defaults = defaults
	return nil
}

// Settings reads the settings table over the defaults
func (s *Store) Settings(ctx context.Context) (entity.Settings, error) {
	settings := s.defaults
	values := make(map[string]string)
	err := s.withRetry(ctx, func() error {
		clear(values)
		rows, err := s.db.QueryContext(ctx, `SELECT setting_key, setting_value FROM settings`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err = rows.Scan(&k, &v); err != nil {
				return err
			}
			values[k] = v
		}
		return rows.Err()
	})
	if err != nil {
		return settings, err
	}

	for k, v := range values {
		switch k {
		case entity.SettingLinkTTLHours:
			settings.LinkTTLHours = parseInt(v, settings.LinkTTLHours)
		case entity.SettingMaxLinkUses:
			settings.MaxLinkUses = parseInt(v, settings.MaxLinkUses)
		case entity.SettingCleanupIntervalHours:
			settings.CleanupIntervalHours = parseInt(v, settings.CleanupIntervalHours)
		case entity.SettingRequireCaptcha:
			if b, err := strconv.ParseBool(v); err == nil {
				settings.RequireCaptcha = b
			}
		case entity.SettingWelcomeMessage:
			settings.WelcomeMessage = v
		}
	}
	return settings, nil
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// SaveSettings validates and writes every key
func (s *Store) SaveSettings(ctx context.Context, settings entity.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	values := map[string]string{
		entity.SettingLinkTTLHours:         strconv.Itoa(settings.LinkTTLHours),
		entity.SettingMaxLinkUses:          strconv.Itoa(settings.MaxLinkUses),
		entity.SettingCleanupIntervalHours: strconv.Itoa(settings.CleanupIntervalHours),
		entity.SettingRequireCaptcha:       strconv.FormatBool(settings.RequireCaptcha),
		entity.SettingWelcomeMessage:       settings.WelcomeMessage,
	}
	now := s.now().UnixMilli()
	for k, v := range values {
		if _, err := s.exec(ctx, s.d.putSetting, k, v, now); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	return nil
}
