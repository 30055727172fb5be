package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestQueues(t *testing.T) (*Queues, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewQueues(client, logger), client
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped
		{10, 30 * time.Second}, // stays capped
		{0, 2 * time.Second},   // clamped to first attempt
		{-1, 2 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestEnqueueIntake_ImmediatelyDue(t *testing.T) {
	q, client := setupTestQueues(t)
	ctx := context.Background()

	job := IntakeJob{EventID: "evt-1", Event: json.RawMessage(`{"id":"evt-1"}`)}
	if err := q.EnqueueIntake(ctx, job); err != nil {
		t.Fatalf("EnqueueIntake failed: %v", err)
	}

	results, err := client.ZRangeWithScores(ctx, IntakeQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 job in queue, got %d", len(results))
	}

	// Score should be at or before "now" — the job is immediately claimable.
	if results[0].Score > float64(time.Now().UnixMicro()) {
		t.Errorf("intake job scheduled in the future: score=%f", results[0].Score)
	}

	var got IntakeJob
	if err := json.Unmarshal([]byte(results[0].Member.(string)), &got); err != nil {
		t.Fatalf("unmarshaling queued job: %v", err)
	}
	if got.EventID != "evt-1" {
		t.Errorf("expected event id evt-1, got %q", got.EventID)
	}
}

func TestEnqueueSync_DelayPushesScoreForward(t *testing.T) {
	q, client := setupTestQueues(t)
	ctx := context.Background()

	job := SyncJob{WorkflowID: "wf-1", EntityType: "user", EntityID: "u-1", Op: OpUpsert, Attempt: 2, MaxRetries: MaxSyncRetries}
	before := time.Now()
	if err := q.EnqueueSync(ctx, job, 4*time.Second); err != nil {
		t.Fatalf("EnqueueSync failed: %v", err)
	}

	results, err := client.ZRangeWithScores(ctx, SyncQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 job in queue, got %d", len(results))
	}

	earliest := float64(before.Add(4 * time.Second).UnixMicro())
	if results[0].Score < earliest {
		t.Errorf("delayed job due too early: score=%f, want >= %f", results[0].Score, earliest)
	}
}

func TestScheduleEntitySync_StartsAtAttemptOne(t *testing.T) {
	q, client := setupTestQueues(t)
	ctx := context.Background()

	q.ScheduleEntitySync(ctx, "organization", "org-1", OpDelete, nil)

	results, err := client.ZRange(ctx, SyncQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 job in queue, got %d", len(results))
	}

	var job SyncJob
	if err := json.Unmarshal([]byte(results[0]), &job); err != nil {
		t.Fatalf("unmarshaling queued job: %v", err)
	}
	if job.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", job.Attempt)
	}
	if job.MaxRetries != MaxSyncRetries {
		t.Errorf("expected max retries %d, got %d", MaxSyncRetries, job.MaxRetries)
	}
	if job.WorkflowID == "" {
		t.Error("expected a generated workflow id")
	}
	if job.Op != OpDelete {
		t.Errorf("expected op %q, got %q", OpDelete, job.Op)
	}
}

func TestQueueDepth(t *testing.T) {
	q, _ := setupTestQueues(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q.ScheduleEntitySync(ctx, "user", "u-1", OpUpsert, nil)
	}

	depth, err := q.QueueDepth(ctx, SyncQueueKey)
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	if depth != 3 {
		t.Errorf("expected depth 3, got %d", depth)
	}
}
