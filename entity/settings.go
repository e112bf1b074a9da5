package entity

import "invitegate/lib/validate"

// Setting keys stored in the flat settings table.
const (
	SettingLinkTTLHours         = "link_ttl_hours"
	SettingMaxLinkUses          = "max_link_uses"
	SettingRequireCaptcha       = "require_captcha"
	SettingCleanupIntervalHours = "cleanup_interval_hours"
	SettingWelcomeMessage       = "welcome_message"
)

// Settings are runtime-adjustable engine parameters. Absent keys fall back to
// DefaultSettings.
type Settings struct {
	LinkTTLHours         int    `json:"link_ttl_hours" validate:"min=1,max=720"`
	MaxLinkUses          int    `json:"max_link_uses" validate:"min=1,max=99999"`
	RequireCaptcha       bool   `json:"require_captcha"`
	CleanupIntervalHours int    `json:"cleanup_interval_hours" validate:"min=1,max=168"`
	WelcomeMessage       string `json:"welcome_message" validate:"max=4000"`
}

func DefaultSettings() Settings {
	return Settings{
		LinkTTLHours:         1,
		MaxLinkUses:          1,
		RequireCaptcha:       true,
		CleanupIntervalHours: 1,
		WelcomeMessage:       "Welcome! Here you can get personal one-time links to join our channels.",
	}
}

func (s *Settings) Validate() error {
	return validate.Struct(s)
}
