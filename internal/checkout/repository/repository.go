package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrSessionNotFound         = errors.New("checkout session not found")
	ErrDuplicateIdempotencyKey = errors.New("checkout session with this idempotency key already exists")
	ErrStatusConflict          = errors.New("checkout session is not in the expected status")
)

const uniqueViolation = "23505"

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations() error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const sessionColumns = `id, user_id, idempotency_key, status, cart_snapshot, breakdowns,
	COALESCE(reservation_id, ''), payments, created_at, updated_at`

func (r *Repository) GetSessionByIdempotencyKey(ctx context.Context, key string) (*domain.CheckoutSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions WHERE idempotency_key = $1`, key)
	return scanSession(row)
}

func (r *Repository) GetSession(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *Repository) CreateSession(ctx context.Context, s *domain.CheckoutSession) error {
	snapshot, err := json.Marshal(s.CartSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}
	breakdowns, err := json.Marshal(s.Breakdowns)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdowns: %w", err)
	}

	query := `INSERT INTO checkout_sessions
		(id, user_id, idempotency_key, status, cart_snapshot, breakdowns, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.IdempotencyKey, s.Status, snapshot, breakdowns,
		sessionTotal(s).String(), s.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert checkout session: %w", err)
	}
	return nil
}

// UpdateSessionStatus moves a session from one status to another. It fails with
// ErrStatusConflict when the stored status is not from.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id string, from, to domain.CheckoutStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update checkout status: %w", err)
	}
	return r.expectOneRow(ctx, res, id)
}

// SetReservation records the reservation and moves the session to INVENTORY_RESERVED.
// An empty reservation id is stored as NULL.
func (r *Repository) SetReservation(ctx context.Context, id, reservationID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $1, reservation_id = NULLIF($2, ''), updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		domain.CheckoutStatusInventoryReserved, reservationID, id, domain.CheckoutStatusInitiated)
	if err != nil {
		return fmt.Errorf("failed to set reservation: %w", err)
	}
	return r.expectOneRow(ctx, res, id)
}

// SetPayments records the created intents and moves the session to PAYMENT_COMPLETED.
func (r *Repository) SetPayments(ctx context.Context, id string, payments []domain.PaymentIntent) error {
	data, err := json.Marshal(payments)
	if err != nil {
		return fmt.Errorf("failed to marshal payments: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $1, payments = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		domain.CheckoutStatusPaymentCompleted, data, id, domain.CheckoutStatusPaymentPending)
	if err != nil {
		return fmt.Errorf("failed to set payments: %w", err)
	}
	return r.expectOneRow(ctx, res, id)
}

// CompleteSession marks a paid session COMPLETED and writes its outbox event in the
// same transaction.
func (r *Repository) CompleteSession(ctx context.Context, id string, payload []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		domain.CheckoutStatusCompleted, id, domain.CheckoutStatusPaymentCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete checkout session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrStatusConflict)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		id, domain.EventCheckoutCompleted, payload)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at FROM outbox
		 WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %d as processed: %w", id, err)
	}
	return nil
}

// GetStuckSessions returns sessions that were paid at least olderThan ago but never
// reached COMPLETED.
func (r *Repository) GetStuckSessions(ctx context.Context, olderThan time.Duration) ([]domain.CheckoutSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions
		 WHERE status = $1 AND updated_at < NOW() - make_interval(secs => $2) ORDER BY updated_at`,
		domain.CheckoutStatusPaymentCompleted, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *Repository) expectOneRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("session %s: %w", id, ErrStatusConflict)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.CheckoutSession, error) {
	var (
		s                              domain.CheckoutSession
		snapshot, breakdowns, payments []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.IdempotencyKey, &s.Status, &snapshot, &breakdowns,
		&s.ReservationID, &payments, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkout session: %w", err)
	}

	if err := json.Unmarshal(snapshot, &s.CartSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart snapshot: %w", err)
	}
	if err := json.Unmarshal(breakdowns, &s.Breakdowns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breakdowns: %w", err)
	}
	if err := json.Unmarshal(payments, &s.Payments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payments: %w", err)
	}
	return &s, nil
}

func sessionTotal(s *domain.CheckoutSession) decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Breakdowns {
		total = total.Add(b.Total)
	}
	return total
}
