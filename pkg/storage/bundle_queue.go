package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/bundle"
)

// DefaultTTL is how long an undelivered bundle stays queued
const DefaultTTL = 24 * time.Hour

var ErrDuplicateReceipt = errors.New("receipt id already queued")

// QueuedBundle is a bundle waiting for delivery
type QueuedBundle struct {
	ID        int64
	ReceiptID string
	DestHost  string
	DestPort  int32
	Encoded   string // base64 queue value
	Timestamp int64  // unix ms when queued
	ExpiresAt int64  // unix ms
	Attempts  int
}

// Bundle decodes the queue value
func (q *QueuedBundle) Bundle() (*bundle.WireBundle, error) {
	return bundle.Decode(q.Encoded)
}

// QueueStats summarises the queue
type QueueStats struct {
	Total         int            `json:"total"`
	Oldest        int64          `json:"oldest_ms,omitempty"`
	ByDestination map[string]int `json:"by_destination"`
}

// BundleQueue is a durable queue of encoded WireBundles waiting for delivery
type BundleQueue struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewBundleQueue opens (or creates) the queue database at dbPath and starts
// the expiry cleanup loop. A zero ttl selects DefaultTTL.
func NewBundleQueue(dbPath string, ttl time.Duration, logger *zap.Logger) (*BundleQueue, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	q := &BundleQueue{
		db:     db,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "bundle-queue")),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	go q.cleanupLoop(time.Hour)

	return q, nil
}

func (q *BundleQueue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queued_bundles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		receipt_id TEXT UNIQUE NOT NULL,
		dest_host TEXT NOT NULL DEFAULT '',
		dest_port INTEGER NOT NULL,
		encoded TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_bundles_expires ON queued_bundles(expires_at);
	CREATE INDEX IF NOT EXISTS idx_bundles_dest ON queued_bundles(dest_host, dest_port);
	CREATE INDEX IF NOT EXISTS idx_bundles_order ON queued_bundles(attempts, timestamp);
	`

	if _, err := q.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Enqueue stores b until it is delivered or expires
func (q *BundleQueue) Enqueue(b *bundle.WireBundle) error {
	if b == nil || b.ReceiptID == "" {
		return fmt.Errorf("%w: bundle without receipt id", bundle.ErrInvalidParameters)
	}
	encoded, err := b.Encode()
	if err != nil {
		return err
	}

	now := q.now()
	query := `
		INSERT INTO queued_bundles (receipt_id, dest_host, dest_port, encoded, timestamp, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = q.db.Exec(query, b.ReceiptID, b.DestHost, b.DestPort, encoded, now.UnixMilli(), now.Add(q.ttl).UnixMilli())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s", ErrDuplicateReceipt, b.ReceiptID)
		}
		return fmt.Errorf("failed to queue bundle: %w", err)
	}

	q.logger.Debug("bundle queued",
		zap.String("receipt_id", b.ReceiptID),
		zap.String("dest_host", b.DestHost),
		zap.Int32("dest_port", b.DestPort),
		zap.Duration("ttl", q.ttl))
	return nil
}

// Pending returns up to limit unexpired bundles, fewest delivery attempts
// first and oldest first among equals, so bundles that keep failing cannot
// hold the head of the queue. A limit of 0 or less returns all of them.
func (q *BundleQueue) Pending(limit int) ([]*QueuedBundle, error) {
	query := `
		SELECT id, receipt_id, dest_host, dest_port, encoded, timestamp, expires_at, attempts
		FROM queued_bundles
		WHERE expires_at > ?
		ORDER BY attempts ASC, timestamp ASC, id ASC
	`
	args := []any{q.now().UnixMilli()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued bundles: %w", err)
	}
	defer rows.Close()

	var out []*QueuedBundle
	for rows.Next() {
		qb := &QueuedBundle{}
		if err := rows.Scan(&qb.ID, &qb.ReceiptID, &qb.DestHost, &qb.DestPort, &qb.Encoded, &qb.Timestamp, &qb.ExpiresAt, &qb.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		out = append(out, qb)
	}
	return out, rows.Err()
}

// Delete removes a bundle after successful delivery
func (q *BundleQueue) Delete(receiptID string) error {
	if _, err := q.db.Exec(`DELETE FROM queued_bundles WHERE receipt_id = ?`, receiptID); err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	return nil
}

// IncrementAttempts records a failed delivery attempt
func (q *BundleQueue) IncrementAttempts(receiptID string) error {
	_, err := q.db.Exec(`UPDATE queued_bundles SET attempts = attempts + 1 WHERE receipt_id = ?`, receiptID)
	return err
}

// Size returns the number of unexpired bundles
func (q *BundleQueue) Size() (int, error) {
	var count int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM queued_bundles WHERE expires_at > ?`, q.now().UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return count, nil
}

// Stats returns queue totals grouped by destination
func (q *BundleQueue) Stats() (*QueueStats, error) {
	now := q.now().UnixMilli()
	stats := &QueueStats{ByDestination: make(map[string]int)}

	var oldest sql.NullInt64
	err := q.db.QueryRow(`SELECT COUNT(*), MIN(timestamp) FROM queued_bundles WHERE expires_at > ?`, now).Scan(&stats.Total, &oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = oldest.Int64
	}

	rows, err := q.db.Query(`
		SELECT dest_host, dest_port, COUNT(*)
		FROM queued_bundles
		WHERE expires_at > ?
		GROUP BY dest_host, dest_port
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var host string
		var port int32
		var count int
		if err := rows.Scan(&host, &port, &count); err != nil {
			return nil, err
		}
		stats.ByDestination[fmt.Sprintf("%s:%d", host, port)] = count
	}
	return stats, rows.Err()
}

// Drain hands up to limit pending bundles to deliver. Delivered bundles are
// deleted; failed ones have their attempt count raised and stay queued.
// It returns the number delivered.
func (q *BundleQueue) Drain(ctx context.Context, limit int, deliver func(context.Context, *bundle.WireBundle) error) (int, error) {
	pending, err := q.Pending(limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, qb := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		b, err := qb.Bundle()
		if err != nil {
			// undecodable values never become deliverable
			q.logger.Warn("dropping undecodable bundle", zap.String("receipt_id", qb.ReceiptID), zap.Error(err))
			if err := q.Delete(qb.ReceiptID); err != nil {
				return delivered, err
			}
			continue
		}

		if err := deliver(ctx, b); err != nil {
			q.logger.Warn("bundle delivery failed",
				zap.String("receipt_id", qb.ReceiptID),
				zap.Int("attempts", qb.Attempts+1),
				zap.Error(err))
			if err := q.IncrementAttempts(qb.ReceiptID); err != nil {
				return delivered, err
			}
			continue
		}

		if err := q.Delete(qb.ReceiptID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// PurgeExpired deletes expired bundles and returns how many were removed
func (q *BundleQueue) PurgeExpired() (int64, error) {
	result, err := q.db.Exec(`DELETE FROM queued_bundles WHERE expires_at <= ?`, q.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired bundles: %w", err)
	}
	return result.RowsAffected()
}

func (q *BundleQueue) cleanupLoop(interval time.Duration) {
	defer close(q.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			count, err := q.PurgeExpired()
			if err != nil {
				q.logger.Warn("expired bundle cleanup failed", zap.Error(err))
				continue
			}
			if count > 0 {
				q.logger.Info("expired bundles removed", zap.Int64("count", count))
			}
		}
	}
}

// Close stops the cleanup loop and closes the database
func (q *BundleQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
	return q.db.Close()
}
