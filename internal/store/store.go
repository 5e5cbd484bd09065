package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

const sessionsTable = "checkout_sessions"

// Store persists checkout sessions in Postgres. The full session is kept as a
// JSONB snapshot; the indexed columns mirror the fields it is looked up by.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, sess *models.CheckoutSession) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, parent_id, class_id, step, payment_ref, state, created_at, updated_at, expires_at, completed_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
`, sessionsTable)

	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.ParentID,
		sess.ClassID,
		string(sess.Step),
		sess.PaymentRef,
		sess,
		sess.CreatedAt,
		sess.UpdatedAt,
		sess.ExpiresAt,
		nullTime(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", sessionsTable, err)
	}
	return nil
}

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.CheckoutSession, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE id = $1`, sessionsTable)
	return s.scanOne(ctx, query, id)
}

// GetByPaymentRef returns the session whose payment reference matches, the
// most recently updated one if several do.
func (s *Store) GetByPaymentRef(ctx context.Context, ref string) (*models.CheckoutSession, error) {
	query := fmt.Sprintf(`
SELECT state FROM %s
WHERE payment_ref = $1
ORDER BY updated_at DESC
LIMIT 1
`, sessionsTable)
	return s.scanOne(ctx, query, ref)
}

func (s *Store) scanOne(ctx context.Context, query string, arg string) (*models.CheckoutSession, error) {
	var sess models.CheckoutSession
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&sess); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("select %s: %w", sessionsTable, err)
	}
	return &sess, nil
}

// Update replaces the stored snapshot of an existing session.
func (s *Store) Update(ctx context.Context, sess *models.CheckoutSession) error {
	query := fmt.Sprintf(`
UPDATE %s
SET step = $2,
    payment_ref = NULLIF($3, ''),
    state = $4,
    updated_at = $5,
    expires_at = $6,
    completed_at = $7
WHERE id = $1
`, sessionsTable)

	result, err := s.db.ExecContext(ctx, query,
		sess.ID,
		string(sess.Step),
		sess.PaymentRef,
		sess,
		sess.UpdatedAt,
		sess.ExpiresAt,
		nullTime(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", sessionsTable, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeleteExpired removes sessions whose expiry is before now and returns how
// many were removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, sessionsTable)

	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", sessionsTable, err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
