package bot

import (
	"log/slog"
)

// NotifyAdmins sends plain text to every admin; the text is escaped here
func (t *TgBot) NotifyAdmins(text string) {
	t.notifyAdmins(Sanitize(text))
}

// NotifyAdminsWithLevel takes preformatted MarkdownV2. Errors go out at
// once, lower levels wait for the next digest.
func (t *TgBot) NotifyAdminsWithLevel(msg string, level slog.Level) {
	if level < slog.LevelError && t.digest != nil {
		for _, id := range t.adminIds {
			t.digest.Add(id, msg, level)
		}
		return
	}
	t.notifyAdmins(msg)
}

func (t *TgBot) notifyAdmins(msg string) {
	for _, id := range t.adminIds {
		t.plainResponse(id, msg)
	}
}
