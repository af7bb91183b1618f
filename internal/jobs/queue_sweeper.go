package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"studiopulse/internal/services"
)

const sweepLockKey = "locks:queue_sweep"

// QueueSweeper periodically re-announces queue entries that lost their
// trigger (Redis hiccup, consolidator crash mid-claim). It is the backstop
// that turns best-effort wakeups into at-least-once processing.
type QueueSweeper struct {
	scheduler  gocron.Scheduler
	queue      *services.QueueService
	redis      *services.RedisService
	instanceID string

	interval   time.Duration
	staleClaim time.Duration
}

// NewQueueSweeper creates the sweeper. interval controls how often the queue
// is scanned; staleClaim is how long a consolidating claim may sit before it
// is treated as abandoned.
func NewQueueSweeper(queue *services.QueueService, redis *services.RedisService, interval, staleClaim time.Duration) (*QueueSweeper, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep scheduler: %w", err)
	}

	return &QueueSweeper{
		scheduler:  scheduler,
		queue:      queue,
		redis:      redis,
		instanceID: uuid.New().String(),
		interval:   interval,
		staleClaim: staleClaim,
	}, nil
}

// Start registers and starts the sweep job.
func (s *QueueSweeper) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.sweep(ctx)
		}),
		gocron.WithName("queue_sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}

	s.scheduler.Start()
	log.Printf("✅ [SWEEP] Queue sweeper started (every %s, stale claim %s)", s.interval, s.staleClaim)
	return nil
}

// Stop shuts down the sweep scheduler.
func (s *QueueSweeper) Stop() error {
	return s.scheduler.Shutdown()
}

// sweep takes a cluster-wide lock so only one instance re-announces per
// cycle. Losing the lock is not an error; another instance is sweeping.
func (s *QueueSweeper) sweep(ctx context.Context) {
	if s.redis != nil {
		acquired, err := s.redis.AcquireLock(ctx, sweepLockKey, s.instanceID, s.interval)
		if err != nil {
			log.Printf("⚠️  [SWEEP] Lock check failed, sweeping anyway: %v", err)
		} else if !acquired {
			return
		}
		defer s.redis.ReleaseLock(ctx, sweepLockKey, s.instanceID)
	}

	// Pending entries older than one interval have missed their trigger.
	entries, err := s.queue.StalePending(ctx, s.interval, s.staleClaim)
	if err != nil {
		log.Printf("⚠️  [SWEEP] Queue scan failed: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	s.queue.Redispatch(ctx, entries)
	if m := services.GetMetrics(); m != nil {
		m.QueueSweepRedispatches.Add(float64(len(entries)))
	}
	log.Printf("🔁 [SWEEP] Re-announced %d stalled queue entries", len(entries))
}
