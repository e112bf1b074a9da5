package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"invitegate/lib/sl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) NotifyAdminsWithLevel(msg string, _ slog.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func TestTelegramHandlerForwardsAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	rec := &recorder{}
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(NewTelegramHandler(inner, rec, slog.LevelWarn)).With(sl.Module("test"))

	log.Info("routine")
	log.Warn("reap failed", sl.Err(errors.New("db locked")))

	require.Len(t, rec.msgs, 1)
	assert.Contains(t, rec.msgs[0], "WARN")
	assert.Contains(t, rec.msgs[0], "db locked")
	assert.Contains(t, rec.msgs[0], "mod: test")
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestTelegramHandlerNilNotifier(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	h := NewTelegramHandler(inner, nil, slog.LevelWarn)
	rec := slog.NewRecord(testTime, slog.LevelError, "x", 0)
	assert.NoError(t, h.Handle(context.Background(), rec))
}

func TestSetupLogger(t *testing.T) {
	log, err := SetupLogger("local", "")
	require.NoError(t, err)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))

	log, err = SetupLogger("prod", filepath.Join(t.TempDir(), "app.log"))
	require.NoError(t, err)
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))

	_, err = SetupLogger("staging", "")
	assert.Error(t, err)
}
