package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/promptgate/pkg/models"
)

const (
	auditQueueName = "audit"
	// maxWriteAttempts bounds the retry budget for one audit write. River
	// applies exponential backoff between attempts.
	maxWriteAttempts = 8
)

// WriteJobArgs carries one audit entry through the retry queue. The entry
// is metadata-only by construction, so queueing it is as safe as storing it.
type WriteJobArgs struct {
	Entry models.AuditLogEntry `json:"entry"`
}

// Kind returns the job kind for River
func (WriteJobArgs) Kind() string { return "audit_write" }

// InsertOpts pins audit writes to their own queue with a bounded retry budget.
func (WriteJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       auditQueueName,
		MaxAttempts: maxWriteAttempts,
	}
}

// WriteWorker persists queued audit entries into the partitioned store.
type WriteWorker struct {
	river.WorkerDefaults[WriteJobArgs]
	store *Store
}

// Work performs one audit write attempt.
func (w *WriteWorker) Work(ctx context.Context, job *river.Job[WriteJobArgs]) error {
	entry := job.Args.Entry
	if err := w.store.Insert(ctx, &entry); err != nil {
		if job.Attempt >= maxWriteAttempts {
			// Final attempt: escalate to the operational alerting path.
			log.Error().
				Err(err).
				Str("log_id", entry.LogID).
				Str("outcome", string(entry.Outcome)).
				Int("attempts", job.Attempt).
				Msg("audit write retries exhausted, entry lost")
		}
		return fmt.Errorf("audit write attempt %d: %w", job.Attempt, err)
	}
	return nil
}

// Queue is the river-backed audit write queue. It decouples audit
// persistence from the request-response lifecycle: Write only enqueues.
type Queue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	store  *Store
}

// NewQueue creates the queue and its worker over a pgx pool.
func NewQueue(databaseURL string, store *Store) (*Queue, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &WriteWorker{store: store})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			auditQueueName: {MaxWorkers: 4},
		},
		Workers:              workers,
		RescueStuckJobsAfter: 5 * time.Minute,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Queue{client: client, pool: pool, store: store}, nil
}

// Start starts the queue workers
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop stops the queue workers and releases the pool.
func (q *Queue) Stop(ctx context.Context) error {
	err := q.client.Stop(ctx)
	q.pool.Close()
	return err
}

// Write enqueues one audit entry for persistence. On enqueue failure it
// falls back to a direct synchronous insert so a queue outage alone does
// not lose the trail.
func (q *Queue) Write(ctx context.Context, entry *models.AuditLogEntry) error {
	_, err := q.client.Insert(ctx, WriteJobArgs{Entry: *entry}, nil)
	if err == nil {
		return nil
	}

	log.Warn().Err(err).Str("log_id", entry.LogID).Msg("audit enqueue failed, writing directly")
	if derr := q.store.Insert(ctx, entry); derr != nil {
		return fmt.Errorf("audit enqueue and direct write both failed: %w", derr)
	}
	return nil
}
