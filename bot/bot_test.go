package bot

import (
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"invitegate/entity"
	"invitegate/internal/linkgen"
	"invitegate/internal/maintenance"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "plain text", Sanitize("plain text"))
	assert.Equal(t, `a\_b \(c\) 1\.5\!`, Sanitize("a_b (c) 1.5!"))
	assert.Equal(t, `https://t\.me/\+abc\-def`, Sanitize("https://t.me/+abc-def"))
	assert.Equal(t, `\\`, Sanitize(`\`))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("line one\nline two\nline three", 12)
	assert.Equal(t, []string{"line one\n", "line two\n", "line three"}, parts)

	long := strings.Repeat("ж", 10)
	parts = splitMessage(long, 5)
	require.NotEmpty(t, parts)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 5)
		assert.True(t, utf8.ValidString(p))
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}

func TestParseSetting(t *testing.T) {
	c, err := parseSetting("/settings ttl 24")
	require.NoError(t, err)
	assert.Equal(t, "ttl", c.key)
	assert.Equal(t, 24, c.number)

	c, err = parseSetting("/settings captcha off")
	require.NoError(t, err)
	assert.False(t, c.flag)

	c, err = parseSetting("/settings CAPTCHA on")
	require.NoError(t, err)
	assert.Equal(t, "captcha", c.key)
	assert.True(t, c.flag)

	c, err = parseSetting("/settings welcome Hello there,\nwelcome!")
	require.NoError(t, err)
	assert.Equal(t, "Hello there,\nwelcome!", c.text)

	_, err = parseSetting("/settings uses many")
	assert.Error(t, err)
	_, err = parseSetting("/settings colour red")
	assert.Error(t, err)
	_, err = parseSetting("/settings ttl")
	assert.Error(t, err)
}

func TestCommandArgs(t *testing.T) {
	ctx := &ext.Context{EffectiveMessage: &tgbotapi.Message{Text: "/ban  42 "}}
	assert.Equal(t, []string{"42"}, commandArgs(ctx))

	ctx = &ext.Context{EffectiveMessage: &tgbotapi.Message{Text: "/ban"}}
	assert.Empty(t, commandArgs(ctx))

	id, err := parseId("-1001234")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), id)
	_, err = parseId("abc")
	assert.Error(t, err)
}

func TestFormatLinks(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	text := formatLinks([]*entity.Link{
		{ChannelTitle: "News", URL: "https://t.me/+abc", ExpiresAt: now.Add(90 * time.Minute), Enforced: true},
		{ChannelTitle: "Chat", URL: "https://t.me/chat"},
	}, now)
	assert.Contains(t, text, `https://t\.me/\+abc`)
	assert.Contains(t, text, "1h 30m")
	assert.Contains(t, text, "public link")

	assert.Contains(t, formatLinks(nil, now), "No channels")
}

func TestFormatReports(t *testing.T) {
	text := formatBulk(linkgen.BulkReport{Id: "job-1", Total: 20, Processed: 5, Created: 4, Reused: 1}, true)
	assert.Contains(t, text, "running")
	assert.Contains(t, text, "\\(25%\\)")
	assert.Contains(t, text, `job\-1`)

	assert.Contains(t, formatBulk(linkgen.BulkReport{Aborted: true}, false), "aborted")

	r := formatReport(maintenance.Report{Emergency: true, Deactivated: 7, Errors: []string{"vacuum: locked"}})
	assert.Contains(t, r, "Emergency")
	assert.Contains(t, r, "`7`")
	assert.Contains(t, r, "vacuum: locked")

	s := formatStats(entity.Overview{ActiveChannels: 3}, linkgen.Stats{Created: 2}, entity.CleanupStats{})
	assert.Contains(t, s, "no action needed")
}

func TestFormatChannels(t *testing.T) {
	text := formatChannels([]*entity.Channel{
		{ChatId: -100, Title: "News", Username: "news", Active: true, BotIsAdmin: true},
		{ChatId: -200, Title: "Old", Active: false},
	})
	assert.Contains(t, text, "`-100`")
	assert.Contains(t, text, "inactive, no invite rights")
	assert.NotContains(t, strings.Split(text, "\n")[2], "inactive")
}

func TestDigestBuffer(t *testing.T) {
	var mu sync.Mutex
	sent := map[int64]string{}
	d := newDigestBuffer(func(chatId int64, text string) {
		mu.Lock()
		defer mu.Unlock()
		sent[chatId] = text
	}, time.Hour)

	d.Add(1, "first", slog.LevelWarn)
	d.Add(1, "second", slog.LevelInfo)
	d.Add(2, "other", slog.LevelWarn)
	d.Flush()

	mu.Lock()
	assert.Contains(t, sent[1], "\\(2 messages\\)")
	assert.Contains(t, sent[1], "second")
	assert.Contains(t, sent[2], "other")
	sent = map[int64]string{}
	mu.Unlock()

	d.Flush()
	mu.Lock()
	assert.Empty(t, sent)
	mu.Unlock()

	d.StartTicker()
	d.Add(3, "on stop", slog.LevelWarn)
	d.Stop()
	mu.Lock()
	assert.Contains(t, sent[3], "on stop")
	mu.Unlock()
}

func TestDigestFoldsRepeats(t *testing.T) {
	var sent string
	d := newDigestBuffer(func(_ int64, text string) { sent = text }, time.Hour)
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return at }

	d.Add(1, "check failed", slog.LevelInfo)
	d.Add(1, "bot lost rights", slog.LevelWarn)
	at = at.Add(2 * time.Hour)
	d.Add(1, "check failed", slog.LevelWarn)
	d.Add(1, "stats recomputed", slog.LevelInfo)
	assert.Equal(t, 4, d.Pending(1))
	assert.Zero(t, d.Pending(2))

	d.Flush()
	assert.Zero(t, d.Pending(1))
	assert.Contains(t, sent, "\\(4 messages\\)")
	assert.Contains(t, sent, "`09:00-11:00` x2 check failed")
	assert.Contains(t, sent, "`09:00` bot lost rights")
	assert.Equal(t, 1, strings.Count(sent, "check failed"))

	// a repeat at a higher level moves the entry to that section
	warnings := strings.Index(sent, "*Warnings*")
	info := strings.Index(sent, "*Info*")
	require.True(t, warnings >= 0 && info > warnings)
	assert.Less(t, strings.Index(sent, "check failed"), info)
	assert.Greater(t, strings.Index(sent, "stats recomputed"), info)
}

func TestNotifyAdminsWithLevelBuffersWarnings(t *testing.T) {
	var mu sync.Mutex
	var sent []int64
	b := &TgBot{adminIds: []int64{10, 20}}
	b.digest = newDigestBuffer(func(chatId int64, _ string) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, chatId)
	}, time.Hour)

	b.NotifyAdminsWithLevel("warn", slog.LevelWarn)
	b.digest.Flush()
	assert.ElementsMatch(t, []int64{10, 20}, sent)
	assert.True(t, b.isAdmin(20))
	assert.False(t, b.isAdmin(30))
}
