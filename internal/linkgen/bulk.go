package linkgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"invitegate/entity"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var ErrBulkRunning = errors.New("bulk job already running")

// BulkReport describes a bulk job, running or finished
type BulkReport struct {
	Id         string    `json:"id"`
	Total      int       `json:"total"`
	Processed  int64     `json:"processed"`
	Created    int64     `json:"created"`
	Reused     int64     `json:"reused"`
	Failed     int64     `json:"failed"`
	Aborted    bool      `json:"aborted"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type bulkJob struct {
	id        string
	total     int
	startedAt time.Time
	cancel    context.CancelFunc
	processed atomic.Int64
	created   atomic.Int64
	reused    atomic.Int64
	failed    atomic.Int64
}

func (j *bulkJob) report() BulkReport {
	return BulkReport{
		Id:        j.id,
		Total:     j.total,
		Processed: j.processed.Load(),
		Created:   j.created.Load(),
		Reused:    j.reused.Load(),
		Failed:    j.failed.Load(),
		StartedAt: j.startedAt,
	}
}

type bulkState struct {
	mu   sync.Mutex
	job  *bulkJob
	last *BulkReport
}

// Bulk issues credentials for every (user, channel) pair. An empty
// channelIds means all active channels. Only one job runs at a time;
// Abort or cancelling ctx stops new pairs while started ones finish.
func (g *Generator) Bulk(ctx context.Context, userIds, channelIds []int64) (BulkReport, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.bulk.mu.Lock()
	if g.bulk.job != nil {
		g.bulk.mu.Unlock()
		return BulkReport{}, ErrBulkRunning
	}
	job := &bulkJob{id: uuid.NewString(), startedAt: time.Now(), cancel: cancel}
	g.bulk.job = job
	g.bulk.mu.Unlock()

	report, err := g.runBulk(jobCtx, job, userIds, channelIds)

	g.bulk.mu.Lock()
	g.bulk.job = nil
	g.bulk.last = &report
	g.bulk.mu.Unlock()
	return report, err
}

func (g *Generator) runBulk(ctx context.Context, job *bulkJob, userIds, channelIds []int64) (BulkReport, error) {
	log := g.log.With(slog.String("job", job.id))

	settings, err := g.store.Settings(ctx)
	if err != nil {
		return job.report(), fmt.Errorf("settings: %w", err)
	}
	channels, err := g.resolveChannels(ctx, channelIds)
	if err != nil {
		return job.report(), err
	}
	g.bulk.mu.Lock()
	job.total = len(userIds) * len(channels)
	g.bulk.mu.Unlock()
	log.With(slog.Int("users", len(userIds)), slog.Int("channels", len(channels)), slog.Int("total", job.total)).
		Info("bulk generation started")

	step := int64(max(1, job.total/10))
	limiter := rate.NewLimiter(rate.Limit(g.conf.BulkRate), 1)
	var eg errgroup.Group
	eg.SetLimit(g.conf.BulkWorkers)

	// started pairs complete even after abort
	taskCtx := context.WithoutCancel(ctx)
	aborted := false

dispatch:
	for _, userId := range userIds {
		for _, ch := range channels {
			if err = limiter.Wait(ctx); err != nil {
				aborted = true
				break dispatch
			}
			eg.Go(func() error {
				_, out := g.forPair(taskCtx, userId, ch, settings)
				switch out {
				case outcomeCreated:
					job.created.Add(1)
				case outcomeReused:
					job.reused.Add(1)
				default:
					job.failed.Add(1)
				}
				if n := job.processed.Add(1); n%step == 0 {
					log.With(slog.Int64("processed", n), slog.Int("total", job.total)).
						Info(fmt.Sprintf("bulk progress %d%%", n*100/int64(job.total)))
				}
				return nil
			})
		}
	}
	_ = eg.Wait()

	report := job.report()
	report.Aborted = aborted
	report.FinishedAt = time.Now()
	log.With(
		slog.Int64("processed", report.Processed),
		slog.Int64("created", report.Created),
		slog.Int64("failed", report.Failed),
		slog.Bool("aborted", aborted),
	).Info("bulk generation finished")
	return report, nil
}

func (g *Generator) resolveChannels(ctx context.Context, ids []int64) ([]*entity.Channel, error) {
	if len(ids) == 0 {
		channels, err := g.store.ActiveChannels(ctx)
		if err != nil {
			return nil, fmt.Errorf("channels: %w", err)
		}
		return channels, nil
	}
	channels := make([]*entity.Channel, 0, len(ids))
	for _, id := range ids {
		ch, err := g.store.ChannelById(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", id, err)
		}
		if ch.Active {
			channels = append(channels, ch)
		}
	}
	return channels, nil
}

// Abort stops the running bulk job; false when none is running
func (g *Generator) Abort() bool {
	g.bulk.mu.Lock()
	defer g.bulk.mu.Unlock()
	if g.bulk.job == nil {
		return false
	}
	g.log.With(slog.String("job", g.bulk.job.id)).Info("bulk abort requested")
	g.bulk.job.cancel()
	return true
}

func (g *Generator) Running() bool {
	g.bulk.mu.Lock()
	defer g.bulk.mu.Unlock()
	return g.bulk.job != nil
}

// Progress returns the running job, or the last finished one
func (g *Generator) Progress() (BulkReport, bool) {
	g.bulk.mu.Lock()
	defer g.bulk.mu.Unlock()
	if g.bulk.job != nil {
		return g.bulk.job.report(), true
	}
	if g.bulk.last != nil {
		return *g.bulk.last, true
	}
	return BulkReport{}, false
}

// RegenerateAll deactivates every credential and bulk issues fresh ones for
// all users that are not banned
func (g *Generator) RegenerateAll(ctx context.Context) (BulkReport, error) {
	if g.Running() {
		return BulkReport{}, ErrBulkRunning
	}
	n, err := g.store.DeactivateAllCredentials(ctx)
	if err != nil {
		return BulkReport{}, fmt.Errorf("deactivate all: %w", err)
	}
	users, err := g.store.EligibleUsers(ctx)
	if err != nil {
		return BulkReport{}, fmt.Errorf("users: %w", err)
	}
	g.log.With(slog.Int64("deactivated", n), slog.Int("users", len(users))).Info("regenerating all links")
	return g.Bulk(ctx, users, nil)
}
