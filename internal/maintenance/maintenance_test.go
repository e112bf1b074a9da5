package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/internal/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	settings    entity.Settings
	settingsErr error
	calls       []string
	retention   time.Duration
	usageAge    []time.Duration
	failOn      map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{settings: entity.DefaultSettings(), failOn: map[string]error{}}
}

func (f *fakeStore) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) Settings(context.Context) (entity.Settings, error) {
	return f.settings, f.settingsErr
}

func (f *fakeStore) ReapExpired(_ context.Context, retention time.Duration) (database.ReapResult, error) {
	f.mu.Lock()
	f.retention = retention
	f.mu.Unlock()
	return database.ReapResult{Deactivated: 2, Deleted: 1}, f.record("reap")
}

func (f *fakeStore) PruneUsageEvents(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	f.usageAge = append(f.usageAge, olderThan)
	f.mu.Unlock()
	return 4, f.record("usage")
}

func (f *fakeStore) PruneInactiveChannels(context.Context, time.Duration) (int64, error) {
	return 1, f.record("channels")
}

func (f *fakeStore) PruneDailyStats(context.Context, time.Duration) (int64, error) {
	return 0, f.record("stats")
}

func (f *fakeStore) DeactivateAllCredentials(context.Context) (int64, error) {
	return 9, f.record("deactivate_all")
}

func (f *fakeStore) Compact(context.Context) error { return f.record("compact") }
func (f *fakeStore) Vacuum(context.Context) error  { return f.record("vacuum") }

type fakeRecomputer struct{ calls int }

func (r *fakeRecomputer) RecomputeRecent(context.Context) error {
	r.calls++
	return nil
}

type fakeSink struct{ reports []interface{} }

func (s *fakeSink) SaveReport(_ context.Context, r interface{}) error {
	s.reports = append(s.reports, r)
	return nil
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunNowRunsEverySweep(t *testing.T) {
	store := newFakeStore()
	store.settings.LinkTTLHours = 2
	rec := &fakeRecomputer{}
	sink := &fakeSink{}
	s := New(store, Config{}, quietLog())
	s.SetRecomputer(rec)
	s.SetReportSink(sink)

	report := s.RunNow(context.Background())
	assert.False(t, report.Failed())
	assert.Equal(t, []string{"reap", "usage", "channels", "stats", "compact"}, store.Calls())
	assert.Equal(t, 14*time.Hour, store.retention)
	assert.Equal(t, []time.Duration{30 * day}, store.usageAge)
	assert.Equal(t, database.ReapResult{Deactivated: 2, Deleted: 1}, report.Reap)
	assert.Equal(t, int64(4), report.UsageEvents)
	assert.Equal(t, 1, rec.calls)
	assert.Len(t, sink.reports, 1)

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.StartedAt, last.StartedAt)
}

func TestRunNowIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	store.failOn["reap"] = errors.New("database is locked")
	store.failOn["stats"] = errors.New("boom")
	s := New(store, Config{}, quietLog())

	report := s.RunNow(context.Background())
	assert.True(t, report.Failed())
	assert.Len(t, report.Errors, 2)
	assert.Equal(t, []string{"reap", "usage", "channels", "stats", "compact"}, store.Calls())
}

func TestEmergency(t *testing.T) {
	store := newFakeStore()
	s := New(store, Config{}, quietLog())

	report := s.Emergency(context.Background())
	assert.True(t, report.Emergency)
	assert.Equal(t, int64(9), report.Deactivated)
	assert.Equal(t, []string{"deactivate_all", "usage", "vacuum"}, store.Calls())
	assert.Equal(t, []time.Duration{day}, store.usageAge)
}

func TestInterval(t *testing.T) {
	store := newFakeStore()
	s := New(store, Config{Interval: 2 * time.Hour}, quietLog())

	store.settings.CleanupIntervalHours = 3
	assert.Equal(t, 3*time.Hour, s.interval())

	store.settingsErr = errors.New("unavailable")
	assert.Equal(t, 2*time.Hour, s.interval())
}

func TestStartStop(t *testing.T) {
	store := newFakeStore()
	s := New(store, Config{}, quietLog())

	s.Start()
	s.Start()
	require.Eventually(t, func() bool {
		_, ok := s.LastReport()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	n := len(store.Calls())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(store.Calls()))

	s.Start()
	require.Eventually(t, func() bool {
		return len(store.Calls()) > n
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	mt := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func TestSweepScratch(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "live.db")
	touch(t, live, 30*day)
	touch(t, live+"-wal", 30*day)
	touch(t, live+"-shm", 30*day)
	touch(t, filepath.Join(dir, "old.tmp"), 8*day)
	touch(t, filepath.Join(dir, "temp_upload"), 8*day)
	touch(t, filepath.Join(dir, "recent.tmp"), time.Hour)
	touch(t, filepath.Join(dir, "gone.db-journal"), 8*day)
	touch(t, filepath.Join(dir, "keep.txt"), 30*day)

	s := New(newFakeStore(), Config{ScratchDir: dir, DatabasePath: live}, quietLog())
	n, err := s.sweepScratch()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, name := range []string{"live.db", "live.db-wal", "live.db-shm", "recent.tmp", "keep.txt"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	for _, name := range []string{"old.tmp", "temp_upload", "gone.db-journal"} {
		assert.NoFileExists(t, filepath.Join(dir, name))
	}
}

func TestRunNowAgainstSQLite(t *testing.T) {
	store, err := database.NewSQLite(filepath.Join(t.TempDir(), "m.db"), quietLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.TouchUser(ctx, &entity.User{UserId: 1}))
	ch, err := store.UpsertChannel(ctx, &entity.Channel{ChatId: -1, Title: "c", BotIsAdmin: true})
	require.NoError(t, err)
	_, err = store.IssueCredential(ctx, database.IssueParams{
		UserId: 1, ChannelId: ch.Id, InviteLink: "https://t.me/+x", Token: "x", TTL: time.Hour, MaxUses: 1,
	})
	require.NoError(t, err)

	store.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	s := New(store, Config{}, quietLog())
	report := s.RunNow(ctx)
	assert.False(t, report.Failed(), report.Errors)
	assert.Equal(t, int64(1), report.Reap.Deactivated)

	report = s.Emergency(ctx)
	assert.False(t, report.Failed(), report.Errors)
}

func TestRunNowKeepsGeneratedCount(t *testing.T) {
	store, err := database.NewSQLite(filepath.Join(t.TempDir(), "m.db"), quietLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	require.NoError(t, store.TouchUser(ctx, &entity.User{UserId: 1}))
	ch, err := store.UpsertChannel(ctx, &entity.Channel{ChatId: -1, Title: "c", BotIsAdmin: true})
	require.NoError(t, err)
	_, err = store.IssueCredential(ctx, database.IssueParams{
		UserId: 1, ChannelId: ch.Id, InviteLink: "https://t.me/+x", Token: "x", TTL: time.Hour, MaxUses: 1,
	})
	require.NoError(t, err)

	stat, err := store.DailyStat(ctx, ch.Id, "2024-06-01")
	require.NoError(t, err)
	require.Equal(t, int64(1), stat.LinksGenerated)

	mu.Lock()
	now = now.Add(10 * time.Hour)
	mu.Unlock()

	s := New(store, Config{}, quietLog())
	s.SetRecomputer(stats.New(store, quietLog()))
	report := s.RunNow(ctx)
	assert.False(t, report.Failed(), report.Errors)
	assert.Equal(t, int64(1), report.Reap.Deactivated)
	assert.Zero(t, report.Reap.Deleted)

	stat, err = store.DailyStat(ctx, ch.Id, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stat.LinksGenerated)

	// a second run recomputes the same row
	report = s.RunNow(ctx)
	assert.False(t, report.Failed(), report.Errors)
	stat, err = store.DailyStat(ctx, ch.Id, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stat.LinksGenerated)
}
