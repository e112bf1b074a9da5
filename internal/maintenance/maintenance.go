// Package maintenance periodically reclaims expired and orphaned state.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/lib/sl"
)

type Store interface {
	Settings(ctx context.Context) (entity.Settings, error)
	ReapExpired(ctx context.Context, retention time.Duration) (database.ReapResult, error)
	PruneUsageEvents(ctx context.Context, olderThan time.Duration) (int64, error)
	PruneInactiveChannels(ctx context.Context, olderThan time.Duration) (int64, error)
	PruneDailyStats(ctx context.Context, olderThan time.Duration) (int64, error)
	DeactivateAllCredentials(ctx context.Context) (int64, error)
	Compact(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// Recomputer refreshes derived stats after the sweeps
type Recomputer interface {
	RecomputeRecent(ctx context.Context) error
}

// ReportSink archives run reports
type ReportSink interface {
	SaveReport(ctx context.Context, report interface{}) error
}

const day = 24 * time.Hour

type Config struct {
	Interval         time.Duration
	Cooldown         time.Duration
	UsageRetention   time.Duration
	ChannelRetention time.Duration
	StatsRetention   time.Duration
	ScratchRetention time.Duration
	ScratchDir       string
	// DatabasePath protects the live database's side files from the scratch sweep
	DatabasePath string
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.UsageRetention <= 0 {
		c.UsageRetention = 30 * day
	}
	if c.ChannelRetention <= 0 {
		c.ChannelRetention = 7 * day
	}
	if c.StatsRetention <= 0 {
		c.StatsRetention = 90 * day
	}
	if c.ScratchRetention <= 0 {
		c.ScratchRetention = 7 * day
	}
}

// Report summarises one run
type Report struct {
	StartedAt    time.Time           `json:"started_at" bson:"started_at"`
	Took         time.Duration       `json:"took" bson:"took"`
	Emergency    bool                `json:"emergency" bson:"emergency"`
	Reap         database.ReapResult `json:"reap" bson:"reap"`
	Deactivated  int64               `json:"deactivated" bson:"deactivated"`
	UsageEvents  int64               `json:"usage_events" bson:"usage_events"`
	Channels     int64               `json:"channels" bson:"channels"`
	DailyStats   int64               `json:"daily_stats" bson:"daily_stats"`
	ScratchFiles int                 `json:"scratch_files" bson:"scratch_files"`
	Errors       []string            `json:"errors,omitempty" bson:"errors,omitempty"`
}

func (r *Report) fail(step string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", step, err))
}

func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

type Scheduler struct {
	store Store
	stats Recomputer
	sink  ReportSink
	log   *slog.Logger
	conf  Config

	runMu sync.Mutex

	mu      sync.Mutex
	last    *Report
	stopCh  chan struct{}
	done    chan struct{}
	started bool
}

func New(store Store, conf Config, log *slog.Logger) *Scheduler {
	conf.defaults()
	return &Scheduler{
		store: store,
		log:   log.With(sl.Module("maintenance")),
		conf:  conf,
	}
}

func (s *Scheduler) SetRecomputer(r Recomputer) {
	s.stats = r
}

func (s *Scheduler) SetReportSink(sink ReportSink) {
	s.sink = sink
}

// Start runs maintenance immediately and then on the configured interval
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh, s.done = stopCh, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				// runs to completion even if Stop arrives meanwhile
				report := s.RunNow(context.Background())
				next := s.interval()
				if report.Failed() {
					next = s.conf.Cooldown
				}
				s.log.With(slog.Duration("next", next)).Debug("maintenance scheduled")
				timer.Reset(next)
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop waits for a run in progress to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	close(stopCh)
	<-done
	s.log.Info("maintenance stopped")
}

// interval reads cleanup_interval_hours on every cycle so admins can change it live
func (s *Scheduler) interval() time.Duration {
	settings, err := s.store.Settings(context.Background())
	if err != nil || settings.CleanupIntervalHours < 1 {
		return s.conf.Interval
	}
	return time.Duration(settings.CleanupIntervalHours) * time.Hour
}

// LastReport returns the most recent run, if any
func (s *Scheduler) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// RunNow performs one full maintenance pass. Sweeps are independent: a
// failing sweep is recorded and the rest still run.
func (s *Scheduler) RunNow(ctx context.Context) Report {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := Report{StartedAt: time.Now()}
	var err error

	ttl := time.Hour
	if settings, err := s.store.Settings(ctx); err == nil {
		ttl = time.Duration(settings.LinkTTLHours) * time.Hour
	}
	if report.Reap, err = s.store.ReapExpired(ctx, 7*ttl); err != nil {
		report.fail("reap", err)
	}
	if report.UsageEvents, err = s.store.PruneUsageEvents(ctx, s.conf.UsageRetention); err != nil {
		report.fail("usage events", err)
	}
	if report.Channels, err = s.store.PruneInactiveChannels(ctx, s.conf.ChannelRetention); err != nil {
		report.fail("channels", err)
	}
	if report.DailyStats, err = s.store.PruneDailyStats(ctx, s.conf.StatsRetention); err != nil {
		report.fail("daily stats", err)
	}
	if report.ScratchFiles, err = s.sweepScratch(); err != nil {
		report.fail("scratch files", err)
	}
	if s.stats != nil {
		if err = s.stats.RecomputeRecent(ctx); err != nil {
			report.fail("stats", err)
		}
	}
	if err = s.store.Compact(ctx); err != nil {
		report.fail("compact", err)
	}

	s.finish(ctx, &report)
	return report
}

// Emergency deactivates every credential, drops usage history older than a
// day and vacuums the database
func (s *Scheduler) Emergency(ctx context.Context) Report {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := Report{StartedAt: time.Now(), Emergency: true}
	var err error
	s.log.Warn("emergency cleanup started")

	if report.Deactivated, err = s.store.DeactivateAllCredentials(ctx); err != nil {
		report.fail("deactivate", err)
	}
	if report.UsageEvents, err = s.store.PruneUsageEvents(ctx, day); err != nil {
		report.fail("usage events", err)
	}
	if err = s.store.Vacuum(ctx); err != nil {
		report.fail("vacuum", err)
	}

	s.finish(ctx, &report)
	return report
}

func (s *Scheduler) finish(ctx context.Context, report *Report) {
	report.Took = time.Since(report.StartedAt)

	log := s.log.With(
		slog.Bool("emergency", report.Emergency),
		slog.Int64("deactivated", report.Reap.Deactivated+report.Deactivated),
		slog.Int64("deleted", report.Reap.Deleted),
		slog.Int64("usage_events", report.UsageEvents),
		slog.Int64("channels", report.Channels),
		slog.Int64("daily_stats", report.DailyStats),
		slog.Int("scratch_files", report.ScratchFiles),
		slog.Duration("took", report.Took),
	)
	if report.Failed() {
		log.With(slog.Any("errors", report.Errors)).Error("maintenance finished with errors")
	} else {
		log.Info("maintenance finished")
	}

	if s.sink != nil {
		if err := s.sink.SaveReport(ctx, report); err != nil {
			s.log.Warn("archiving report", sl.Err(err))
		}
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
}
