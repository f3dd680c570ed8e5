package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notifyd/notifyd/internal/database"
)

// Store is the persistence surface shared by the ingress service, the
// dispatcher, and the workers. The Postgres implementation owns the
// transaction boundaries; every method is a complete atomic step.
type Store interface {
	// CreateNotification persists a notification and its initial outbox
	// rows in one transaction.
	CreateNotification(ctx context.Context, n *Notification, msgs []*OutboxMessage) error

	// GetNotification retrieves a notification by id.
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)

	// ListOutbox returns a notification's outbox rows, oldest first.
	ListOutbox(ctx context.Context, notificationID uuid.UUID) ([]*OutboxMessage, error)

	// ResetFailed reopens a notification's FAILED rows as PENDING with a
	// zeroed attempt count. Returns the number of rows reopened.
	ResetFailed(ctx context.Context, notificationID uuid.UUID) (int64, error)

	// ClaimPendingBatch atomically transitions up to limit claimable rows
	// to ENQUEUED and returns their ids, oldest first. A row is claimable
	// when PENDING with its retry gate open, or ENQUEUED longer than the
	// stale lease. Rows locked by concurrent claimers are skipped.
	ClaimPendingBatch(ctx context.Context, limit int, staleLease time.Duration) ([]uuid.UUID, error)

	// ClaimForProcessing locks a single ENQUEUED row for a worker. The
	// returned claim holds an open transaction; exactly one of its
	// completion methods (or Release) must be called. Returns (nil, nil)
	// when the row is missing, locked elsewhere, or not ENQUEUED.
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (Claim, error)

	// SettleSuccess finalizes a delivered row: SENT, notification
	// is_sent = true, and all non-terminal siblings superseded to SENT,
	// in one transaction.
	SettleSuccess(ctx context.Context, msg *OutboxMessage) error

	// SettleRetry reopens a failed-but-retryable row as PENDING with its
	// retry gate pushed to nextAttempt.
	SettleRetry(ctx context.Context, id uuid.UUID, reason string, nextAttempt time.Time) error

	// SettleFailure closes a row as FAILED and, when the notification is
	// still unsent and fallback is non-nil, inserts the fallback row in
	// the same transaction.
	SettleFailure(ctx context.Context, msg *OutboxMessage, reason string, fallback *OutboxMessage) error

	// Stats returns system-wide counters.
	Stats(ctx context.Context) (*Stats, error)
}

// Claim is a worker's pessimistic hold on one ENQUEUED outbox row.
// Completion methods commit the claim transaction.
type Claim interface {
	Message() *OutboxMessage
	Notification() *Notification

	// RecordAttempt increments attempt_count and stamps last_attempt,
	// then commits. The attempt itself runs after this, outside any
	// transaction.
	RecordAttempt(ctx context.Context, now time.Time) error

	// MarkSuperseded closes the row (and any claimable siblings) as SENT
	// because the notification is already delivered, then commits.
	MarkSuperseded(ctx context.Context) error

	// CloseExhausted closes the row as FAILED with reason and inserts
	// the fallback row if non-nil and the notification is still unsent,
	// then commits.
	CloseExhausted(ctx context.Context, reason string, fallback *OutboxMessage) error

	// Release rolls the transaction back if no completion method ran.
	Release()
}

const outboxColumns = `id, notification_id, method, status, payload, attempt_count, max_retries,
	last_attempt, next_attempt_at, status_changed_at, error_message, created_at, updated_at`

const notificationColumns = `id, user_id, title, message, notification_type, is_sent, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL. Its claim queries rely
// on FOR UPDATE SKIP LOCKED so that concurrent claimers and workers
// never block on, or double-process, each other's rows.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateNotification persists a notification and its initial outbox rows.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification, msgs []*OutboxMessage) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, title, message, notification_type, is_sent, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, n.UserID, n.Title, n.Message, n.Type, n.IsSent, n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}

		for _, m := range msgs {
			if err := insertOutbox(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertOutbox(ctx context.Context, tx *sql.Tx, m *OutboxMessage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, notification_id, method, status, payload, attempt_count, max_retries,
			last_attempt, next_attempt_at, status_changed_at, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.NotificationID, m.Method, m.Status, m.Payload, m.AttemptCount, m.MaxRetries,
		m.LastAttempt, m.NextAttemptAt, m.StatusChangedAt, m.ErrorMessage, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification by id.
func (s *PostgresStore) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListOutbox returns a notification's outbox rows, oldest first.
func (s *PostgresStore) ListOutbox(ctx context.Context, notificationID uuid.UUID) ([]*OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE notification_id = $1 ORDER BY created_at ASC`,
		notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}
	return msgs, nil
}

// ResetFailed reopens FAILED rows of a notification for a fresh delivery
// round.
func (s *PostgresStore) ResetFailed(ctx context.Context, notificationID uuid.UUID) (int64, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = 0, error_message = '',
			next_attempt_at = $3, status_changed_at = $3, updated_at = $3
		WHERE notification_id = $1 AND status = $4`,
		notificationID, StatusPending, now, StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed messages: %w", err)
	}
	return res.RowsAffected()
}

// ClaimPendingBatch claims up to limit rows in a single atomic statement.
func (s *PostgresStore) ClaimPendingBatch(ctx context.Context, limit int, staleLease time.Duration) ([]uuid.UUID, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleLease)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, status_changed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE (status = $3 AND next_attempt_at <= $2)
			   OR (status = $1 AND status_changed_at <= $4)
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		StatusEnqueued, now, StatusPending, staleCutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan claimed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed rows: %w", err)
	}
	return ids, nil
}

// ClaimForProcessing locks one ENQUEUED row and its owning notification
// snapshot for a worker.
func (s *PostgresStore) ClaimForProcessing(ctx context.Context, id uuid.UUID) (Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT o.id, o.notification_id, o.method, o.status, o.payload, o.attempt_count, o.max_retries,
			o.last_attempt, o.next_attempt_at, o.status_changed_at, o.error_message, o.created_at, o.updated_at,
			n.id, n.user_id, n.title, n.message, n.notification_type, n.is_sent, n.created_at, n.updated_at
		FROM outbox_messages o
		JOIN notifications n ON n.id = o.notification_id
		WHERE o.id = $1 AND o.status = $2
		FOR UPDATE OF o SKIP LOCKED`,
		id, StatusEnqueued,
	)

	var m OutboxMessage
	var n Notification
	err = row.Scan(
		&m.ID, &m.NotificationID, &m.Method, &m.Status, &m.Payload, &m.AttemptCount, &m.MaxRetries,
		&m.LastAttempt, &m.NextAttemptAt, &m.StatusChangedAt, &m.ErrorMessage, &m.CreatedAt, &m.UpdatedAt,
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsSent, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			// Missing, locked by another worker, or no longer ENQUEUED.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim outbox message: %w", err)
	}

	return &pgClaim{tx: tx, msg: &m, notification: &n}, nil
}

type pgClaim struct {
	tx           *sql.Tx
	msg          *OutboxMessage
	notification *Notification
	done         bool
}

func (c *pgClaim) Message() *OutboxMessage     { return c.msg }
func (c *pgClaim) Notification() *Notification { return c.notification }

func (c *pgClaim) RecordAttempt(ctx context.Context, now time.Time) error {
	_, err := c.tx.ExecContext(ctx, `
		UPDATE outbox_messages
		SET attempt_count = attempt_count + 1, last_attempt = $2, updated_at = $2
		WHERE id = $1`,
		c.msg.ID, now,
	)
	if err != nil {
		_ = c.tx.Rollback()
		c.done = true
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if err := c.commit(); err != nil {
		return err
	}
	c.msg.AttemptCount++
	c.msg.LastAttempt = &now
	return nil
}

func (c *pgClaim) MarkSuperseded(ctx context.Context) error {
	now := time.Now()
	_, err := c.tx.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, status_changed_at = $3, updated_at = $3
		WHERE notification_id = $1 AND status IN ($4, $5)`,
		c.msg.NotificationID, StatusSent, now, StatusPending, StatusEnqueued,
	)
	if err != nil {
		_ = c.tx.Rollback()
		c.done = true
		return fmt.Errorf("failed to supersede outbox messages: %w", err)
	}
	return c.commit()
}

func (c *pgClaim) CloseExhausted(ctx context.Context, reason string, fallback *OutboxMessage) error {
	if err := failAndFallback(ctx, c.tx, c.msg, reason, fallback); err != nil {
		_ = c.tx.Rollback()
		c.done = true
		return err
	}
	return c.commit()
}

func (c *pgClaim) Release() {
	if !c.done {
		_ = c.tx.Rollback()
		c.done = true
	}
}

func (c *pgClaim) commit() error {
	c.done = true
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return nil
}

// failAndFallback closes msg as FAILED and inserts the fallback row when
// the owning notification is still unsent. The is_sent re-check runs in
// the same transaction so a chain never grows past a delivered
// notification.
func failAndFallback(ctx context.Context, tx *sql.Tx, msg *OutboxMessage, reason string, fallback *OutboxMessage) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, error_message = $3, status_changed_at = $4, updated_at = $4
		WHERE id = $1`,
		msg.ID, StatusFailed, reason, now,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize failure: %w", err)
	}

	if fallback == nil {
		return nil
	}

	var isSent bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_sent FROM notifications WHERE id = $1`, msg.NotificationID,
	).Scan(&isSent)
	if err != nil {
		return fmt.Errorf("failed to re-check notification: %w", err)
	}
	if isSent {
		return nil
	}
	return insertOutbox(ctx, tx, fallback)
}

// SettleSuccess finalizes a delivered row and short-circuits its siblings.
func (s *PostgresStore) SettleSuccess(ctx context.Context, msg *OutboxMessage) error {
	now := time.Now()
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE outbox_messages
			SET status = $2, error_message = '', status_changed_at = $3, updated_at = $3
			WHERE id = $1 AND status = $4`,
			msg.ID, StatusSent, now, StatusEnqueued,
		)
		if err != nil {
			return fmt.Errorf("failed to finalize success: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// The row left ENQUEUED under us (stale-lease reclaim finished
			// first). The winner settles the notification.
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE notifications SET is_sent = TRUE, updated_at = $2 WHERE id = $1`,
			msg.NotificationID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to mark notification sent: %w", err)
		}

		// Siblings still in flight are superseded, not errored.
		_, err = tx.ExecContext(ctx, `
			UPDATE outbox_messages
			SET status = $2, status_changed_at = $3, updated_at = $3
			WHERE notification_id = $1 AND id <> $4 AND status IN ($5, $6)`,
			msg.NotificationID, StatusSent, now, msg.ID, StatusPending, StatusEnqueued,
		)
		if err != nil {
			return fmt.Errorf("failed to supersede siblings: %w", err)
		}
		return nil
	})
}

// SettleRetry reopens a retryable row behind its backoff gate.
func (s *PostgresStore) SettleRetry(ctx context.Context, id uuid.UUID, reason string, nextAttempt time.Time) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, error_message = $3, next_attempt_at = $4, status_changed_at = $5, updated_at = $5
		WHERE id = $1 AND status = $6`,
		id, StatusPending, reason, nextAttempt, now, StatusEnqueued,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

// SettleFailure closes a row as FAILED with an optional fallback insert.
func (s *PostgresStore) SettleFailure(ctx context.Context, msg *OutboxMessage, reason string, fallback *OutboxMessage) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return failAndFallback(ctx, tx, msg, reason, fallback)
	})
}

// Stats returns system-wide counters for the observational endpoints.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		OutboxByStatus: make(map[string]int64),
		OutboxByMethod: make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_sent),
			COUNT(*) FILTER (WHERE NOT is_sent)
		FROM notifications`,
	).Scan(&stats.TotalNotifications, &stats.SentNotifications, &stats.PendingNotifications)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.OutboxByStatus[status] = count
		stats.OutboxTotal += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	methodRows, err := s.db.QueryContext(ctx,
		`SELECT method, COUNT(*) FROM outbox_messages GROUP BY method`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox by method: %w", err)
	}
	defer func() { _ = methodRows.Close() }()
	for methodRows.Next() {
		var method string
		var count int64
		if err := methodRows.Scan(&method, &count); err != nil {
			return nil, fmt.Errorf("failed to scan method count: %w", err)
		}
		stats.OutboxByMethod[method] = count
	}
	if err := methodRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating method counts: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsSent, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func scanOutbox(row rowScanner) (*OutboxMessage, error) {
	var m OutboxMessage
	err := row.Scan(
		&m.ID, &m.NotificationID, &m.Method, &m.Status, &m.Payload, &m.AttemptCount, &m.MaxRetries,
		&m.LastAttempt, &m.NextAttemptAt, &m.StatusChangedAt, &m.ErrorMessage, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox message: %w", err)
	}
	return &m, nil
}
