package worker

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dispatcher continuously polls one Redis sorted-set queue for jobs whose
// readiness score has come due and hands them to the worker pool. Claiming
// is a ZRem race: whichever instance removes the member owns the job.
type Dispatcher struct {
	redisClient  *redis.Client
	queueKey     string
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

// NewDispatcher creates a dispatcher that pulls from the given sorted set.
func NewDispatcher(redisClient *redis.Client, queueKey string, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		redisClient:  redisClient,
		queueKey:     queueKey,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", "queue", d.queueKey)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping", "queue", d.queueKey)
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll fetches a batch of due jobs and sends them to workers.
func (d *Dispatcher) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())

	results, err := d.redisClient.ZRangeByScoreWithScores(ctx, d.queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatFloat(now),
		Count: d.batchSize,
	}).Result()
	if err != nil {
		d.logger.Error("failed to poll queue", "queue", d.queueKey, "error", err)
		return
	}

	for _, z := range results {
		member := z.Member.(string)

		// Remove from queue — if another instance already took it, ZRem
		// returns 0 and we skip.
		removed, err := d.redisClient.ZRem(ctx, d.queueKey, member).Result()
		if err != nil {
			d.logger.Error("failed to claim job", "queue", d.queueKey, "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		d.pool.Submit([]byte(member))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
