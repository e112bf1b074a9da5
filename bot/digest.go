package bot

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DigestEntry is one distinct notification; repeats of the same text raise
// Count and move Last forward
type DigestEntry struct {
	Message string
	Level   slog.Level
	Count   int
	First   time.Time
	Last    time.Time
}

type chatDigest struct {
	entries []*DigestEntry
	byText  map[string]*DigestEntry
	total   int
}

// DigestBuffer holds sub-error admin notifications until the next tick.
// The monitor and the maintenance loop repeat the same warning every run,
// so identical texts are folded into one line.
type DigestBuffer struct {
	mu       sync.Mutex
	chats    map[int64]*chatDigest
	interval time.Duration
	send     func(chatId int64, text string)
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewDigestBuffer(bot *TgBot, interval time.Duration) *DigestBuffer {
	return newDigestBuffer(bot.plainResponse, interval)
}

func newDigestBuffer(send func(chatId int64, text string), interval time.Duration) *DigestBuffer {
	return &DigestBuffer{
		chats:    make(map[int64]*chatDigest),
		interval: interval,
		send:     send,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *DigestBuffer) Add(chatId int64, msg string, level slog.Level) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.chats[chatId]
	if !ok {
		c = &chatDigest{byText: make(map[string]*DigestEntry)}
		d.chats[chatId] = c
	}
	c.total++
	if e, ok := c.byText[msg]; ok {
		e.Count++
		e.Last = now
		e.Level = max(e.Level, level)
		return
	}
	e := &DigestEntry{Message: msg, Level: level, Count: 1, First: now, Last: now}
	c.entries = append(c.entries, e)
	c.byText[msg] = e
}

// Pending is the number of notifications waiting for a chat, repeats included
func (d *DigestBuffer) Pending(chatId int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.chats[chatId]; ok {
		return c.total
	}
	return 0
}

func (d *DigestBuffer) StartTicker() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Flush()
			case <-d.stopCh:
				d.Flush()
				return
			}
		}
	}()
}

func (d *DigestBuffer) Flush() {
	d.mu.Lock()
	snapshot := d.chats
	d.chats = make(map[int64]*chatDigest)
	d.mu.Unlock()

	for chatId, c := range snapshot {
		if len(c.entries) == 0 {
			continue
		}
		d.send(chatId, formatDigest(c.entries, c.total))
	}
}

// Stop flushes what is left; it must follow StartTicker
func (d *DigestBuffer) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.done
}

var sectionTitles = [...]string{"Info", "Warnings", "Errors"}

func section(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return 2
	case level >= slog.LevelWarn:
		return 1
	default:
		return 0
	}
}

// formatDigest expects entry messages already in MarkdownV2. Sections go
// from the most to the least severe, entries keep arrival order.
func formatDigest(entries []*DigestEntry, total int) string {
	sorted := make([]*DigestEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return section(sorted[i].Level) > section(sorted[j].Level)
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Digest* \\(%d messages\\)\n", total))
	current := -1
	for _, e := range sorted {
		if sec := section(e.Level); sec != current {
			current = sec
			sb.WriteString(fmt.Sprintf("\n*%s*\n", sectionTitles[sec]))
		}
		if e.Count == 1 {
			sb.WriteString(fmt.Sprintf("`%s` %s\n", e.First.Format("15:04"), e.Message))
			continue
		}
		sb.WriteString(fmt.Sprintf("`%s-%s` x%d %s\n", e.First.Format("15:04"), e.Last.Format("15:04"), e.Count, e.Message))
	}
	return sb.String()
}
