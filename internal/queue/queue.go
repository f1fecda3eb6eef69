// Package queue implements a durable, multi-consumer-safe message queue on
// PostgreSQL.
//
// Delivery semantics are at-least-once: Read leases messages by setting a
// visibility timeout rather than deleting them, and a consumer that crashes
// before acknowledging simply loses its lease. Leasing uses
// FOR UPDATE SKIP LOCKED so concurrent readers never receive overlapping
// message sets while each other's lease is active.
//
// The queue is the single source of truth for message ownership; consumers
// only hold message ids and acknowledge with Delete (or quarantine with
// Archive) after processing.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrQueueNameEmpty indicates an operation was called without a queue name.
var ErrQueueNameEmpty = errors.New("queue name must not be empty")

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Message is a leased queue message.
//
// While the lease is live the message is invisible to other readers; it
// becomes visible again once the visibility timeout expires without a Delete.
type Message struct {
	ID         int64
	Queue      string
	Payload    []byte
	EnqueuedAt time.Time
	ReadCount  int32
}

const sendSQL = `INSERT INTO queue_messages (queue, payload)
	VALUES ($1, $2)
	RETURNING msg_id`

// readSQL leases up to $2 visible messages: the CTE picks candidates with
// SKIP LOCKED so concurrent readers partition the queue instead of blocking
// or double-leasing, then the UPDATE pushes the visibility horizon forward.
const readSQL = `WITH leased AS (
		SELECT msg_id
		FROM queue_messages
		WHERE queue = $1 AND vt <= now()
		ORDER BY msg_id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE queue_messages m
	SET vt = now() + make_interval(secs => $3),
	    read_count = read_count + 1
	FROM leased
	WHERE m.msg_id = leased.msg_id
	RETURNING m.msg_id, m.queue, m.payload, m.enqueued_at, m.read_count`

const deleteSQL = `DELETE FROM queue_messages WHERE queue = $1 AND msg_id = $2`

// archiveSQL moves a message to the dead-letter table atomically.
const archiveSQL = `WITH dead AS (
		DELETE FROM queue_messages
		WHERE queue = $1 AND msg_id = $2
		RETURNING msg_id, queue, payload, enqueued_at, read_count
	)
	INSERT INTO queue_dead_letters (msg_id, queue, payload, enqueued_at, read_count, reason)
	SELECT msg_id, queue, payload, enqueued_at, read_count, $3 FROM dead`

const purgeSQL = `DELETE FROM queue_messages WHERE queue = $1`

const lenSQL = `SELECT COUNT(*) FROM queue_messages WHERE queue = $1`

const deadLetterCountSQL = `SELECT COUNT(*) FROM queue_dead_letters WHERE queue = $1`

// Queue provides send/read/delete/archive operations over a named queue.
//
// Queue is safe for concurrent use by multiple goroutines and multiple
// process instances sharing the same database.
type Queue struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Queue backed by the given connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{pool: pool, logger: logger}, nil
}

// Send durably enqueues a message and returns its id.
func (q *Queue) Send(ctx context.Context, queue string, payload []byte) (int64, error) {
	return q.send(ctx, q.pool, queue, payload)
}

// SendTx enqueues a message within the caller's transaction. The message
// becomes visible only if the transaction commits, which lets entity writes
// and their embedding jobs succeed or fail together.
func (q *Queue) SendTx(ctx context.Context, tx pgx.Tx, queue string, payload []byte) (int64, error) {
	return q.send(ctx, tx, queue, payload)
}

func (q *Queue) send(ctx context.Context, db querier, queue string, payload []byte) (int64, error) {
	if queue == "" {
		return 0, ErrQueueNameEmpty
	}

	var msgID int64
	if err := db.QueryRow(ctx, sendSQL, queue, payload).Scan(&msgID); err != nil {
		return 0, fmt.Errorf("failed to send message to queue %q: %w", queue, err)
	}

	q.logger.Debug("message enqueued", "queue", queue, "msg_id", msgID)
	return msgID, nil
}

// Read leases up to qty visible messages for the duration of vt.
//
// Returned messages are invisible to other readers until their lease
// expires. An empty queue returns an empty slice without error.
func (q *Queue) Read(ctx context.Context, queue string, vt time.Duration, qty int) ([]Message, error) {
	if queue == "" {
		return nil, ErrQueueNameEmpty
	}
	if qty < 1 {
		return nil, fmt.Errorf("quantity must be at least 1, got %d", qty)
	}
	if vt <= 0 {
		return nil, fmt.Errorf("visibility timeout must be positive, got %s", vt)
	}

	rows, err := q.pool.Query(ctx, readSQL, queue, qty, vt.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to read from queue %q: %w", queue, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Queue, &m.Payload, &m.EnqueuedAt, &m.ReadCount); err != nil {
			return nil, fmt.Errorf("failed to scan queue message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read from queue %q: %w", queue, err)
	}

	if len(msgs) > 0 {
		q.logger.Debug("messages leased", "queue", queue, "count", len(msgs), "vt", vt)
	}
	return msgs, nil
}

// Delete permanently removes an acknowledged message.
// Returns false if the message no longer exists (already deleted or archived).
func (q *Queue) Delete(ctx context.Context, queue string, msgID int64) (bool, error) {
	if queue == "" {
		return false, ErrQueueNameEmpty
	}

	tag, err := q.pool.Exec(ctx, deleteSQL, queue, msgID)
	if err != nil {
		return false, fmt.Errorf("failed to delete message %d from queue %q: %w", msgID, queue, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Archive moves a message to the dead-letter table instead of retrying it.
// Returns false if the message no longer exists.
func (q *Queue) Archive(ctx context.Context, queue string, msgID int64, reason string) (bool, error) {
	if queue == "" {
		return false, ErrQueueNameEmpty
	}

	tag, err := q.pool.Exec(ctx, archiveSQL, queue, msgID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to archive message %d from queue %q: %w", msgID, queue, err)
	}
	if tag.RowsAffected() > 0 {
		q.logger.Warn("message quarantined", "queue", queue, "msg_id", msgID, "reason", reason)
		return true, nil
	}
	return false, nil
}

// Purge removes all messages from the queue and returns the number removed.
// Used for test isolation and operational reset; dead letters are untouched.
func (q *Queue) Purge(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return 0, ErrQueueNameEmpty
	}

	tag, err := q.pool.Exec(ctx, purgeSQL, queue)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue %q: %w", queue, err)
	}

	q.logger.Info("queue purged", "queue", queue, "removed", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Len returns the total number of messages in the queue, leased or not.
func (q *Queue) Len(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return 0, ErrQueueNameEmpty
	}

	var n int64
	if err := q.pool.QueryRow(ctx, lenSQL, queue).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue %q: %w", queue, err)
	}
	return n, nil
}

// DeadLetterCount returns the number of quarantined messages for the queue.
func (q *Queue) DeadLetterCount(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return 0, ErrQueueNameEmpty
	}

	var n int64
	if err := q.pool.QueryRow(ctx, deadLetterCountSQL, queue).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letters for queue %q: %w", queue, err)
	}
	return n, nil
}
