package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/repository"
)

// NotificationMaxAge is how long an undelivered notification is retried
// before the cleanup job abandons it.
const NotificationMaxAge = 24 * time.Hour

type CleanupJob struct {
	adminSessionRepo repository.AdminSessionRepository
	notificationRepo repository.NotificationRepository
	clock            clock.Clock
	interval         time.Duration
	done             chan struct{}
}

func NewCleanupJob(
	adminSessionRepo repository.AdminSessionRepository,
	notificationRepo repository.NotificationRepository,
	clk clock.Clock,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		adminSessionRepo: adminSessionRepo,
		notificationRepo: notificationRepo,
		clock:            clk,
		interval:         interval,
		done:             make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.adminSessionRepo != nil {
		j.runCleanup(ctx, "admin sessions", j.adminSessionRepo.DeleteExpired)
	}
	if j.notificationRepo != nil {
		cutoff := j.clock.Now().Add(-NotificationMaxAge)
		j.runCleanup(ctx, "stale notifications", func(ctx context.Context) (int64, error) {
			return j.notificationRepo.MarkAbandonedBefore(ctx, cutoff)
		})
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
