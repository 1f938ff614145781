package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/roomboard/passledger/internal/config"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool // Track if we created the DB connection (for Close())
	tables TableNames
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, tables TableNames) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true, tables: tables.withDefaults()}
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB, tables TableNames) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false, tables: tables.withDefaults()}
	if err := store.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// Migrate creates the ledger tables and indexes if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	intents := pq.QuoteIdentifier(s.tables.PaymentIntents)
	pending := pq.QuoteIdentifier(s.tables.PendingIntents)
	notices := pq.QuoteIdentifier(s.tables.Notifications)

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			currency TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			status TEXT NOT NULL,
			access_expires_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			gateway TEXT NOT NULL,
			gateway_payment_id TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			raw_gateway_payload JSONB
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			idempotency_key TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			amount_cents BIGINT NOT NULL,
			gateway TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %[3]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			read_at TIMESTAMPTZ,
			UNIQUE (idempotency_key, kind)
		);

		CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (user_id, status, access_expires_at DESC);
		CREATE INDEX IF NOT EXISTS %[5]s ON %[2]s (user_id);
		CREATE INDEX IF NOT EXISTS %[6]s ON %[3]s (user_id, created_at DESC);
	`,
		intents, pending, notices,
		pq.QuoteIdentifier("idx_"+s.tables.PaymentIntents+"_user_active"),
		pq.QuoteIdentifier("idx_"+s.tables.PendingIntents+"_user"),
		pq.QuoteIdentifier("idx_"+s.tables.Notifications+"_user_created"),
	)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ledger tables: %w", err)
	}
	return nil
}

const intentColumns = `id, idempotency_key, user_id, amount_cents, currency, plan_type, status,
	access_expires_at, paid_at, created_at, gateway, gateway_payment_id, email, payment_method, raw_gateway_payload`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (PaymentIntent, error) {
	var (
		intent  PaymentIntent
		status  string
		gateway string
		raw     []byte
	)
	err := row.Scan(
		&intent.ID,
		&intent.IdempotencyKey,
		&intent.UserID,
		&intent.AmountCents,
		&intent.Currency,
		&intent.PlanType,
		&status,
		&intent.AccessExpiresAt,
		&intent.PaidAt,
		&intent.CreatedAt,
		&gateway,
		&intent.GatewayPaymentID,
		&intent.Email,
		&intent.PaymentMethod,
		&raw,
	)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent.Status = IntentStatus(status)
	intent.Gateway = Gateway(gateway)
	intent.AccessExpiresAt = intent.AccessExpiresAt.UTC()
	intent.PaidAt = intent.PaidAt.UTC()
	intent.CreatedAt = intent.CreatedAt.UTC()
	if len(raw) > 0 {
		intent.RawPayload = raw
	}
	return intent, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// insertIntent inserts a row, mapping a duplicate idempotency key to ErrConflict.
func (s *PostgresStore) insertIntent(ctx context.Context, db execer, intent PaymentIntent) error {
	var raw sql.NullString
	if len(intent.RawPayload) > 0 {
		raw = sql.NullString{String: string(intent.RawPayload), Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, pq.QuoteIdentifier(s.tables.PaymentIntents))

	result, err := db.ExecContext(ctx, query,
		intent.ID,
		intent.IdempotencyKey,
		intent.UserID,
		intent.AmountCents,
		intent.Currency,
		intent.PlanType,
		string(intent.Status),
		intent.AccessExpiresAt,
		intent.PaidAt,
		intent.CreatedAt,
		string(intent.Gateway),
		intent.GatewayPaymentID,
		intent.Email,
		intent.PaymentMethod,
		raw,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert payment intent: %w", err)
	}

	// RowsAffected = 0 means the idempotency key already exists
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, intent PaymentIntent) (PaymentIntent, error) {
	if err := prepareIntent(&intent); err != nil {
		return PaymentIntent{}, err
	}
	return s.AppendForUser(ctx, intent.UserID, func(*PaymentIntent) (PaymentIntent, error) {
		return intent, nil
	})
}

// AppendForUser serializes writers for the same user with a transaction-scoped
// advisory lock, so the latest-row read and the insert see a stable ledger.
func (s *PostgresStore) AppendForUser(ctx context.Context, userID string, build BuildFunc) (PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "ledger:"+userID); err != nil {
		return PaymentIntent{}, fmt.Errorf("acquire user lock: %w", err)
	}

	var latestPtr *PaymentIntent
	latest, err := scanIntent(tx.QueryRowContext(ctx, s.latestActiveQuery(), userID, string(StatusActive)))
	switch {
	case err == nil:
		latestPtr = &latest
	case errors.Is(err, sql.ErrNoRows):
	default:
		return PaymentIntent{}, fmt.Errorf("query latest active: %w", err)
	}

	intent, err := buildForUser(userID, latestPtr, build)
	if err != nil {
		return PaymentIntent{}, err
	}

	if err := s.insertIntent(ctx, tx, intent); err != nil {
		return PaymentIntent{}, err
	}
	if err := tx.Commit(); err != nil {
		return PaymentIntent{}, fmt.Errorf("commit append tx: %w", err)
	}
	return intent, nil
}

func (s *PostgresStore) latestActiveQuery() string {
	return fmt.Sprintf(`
		SELECT `+intentColumns+`
		FROM %s
		WHERE user_id = $1 AND status = $2
		ORDER BY access_expires_at DESC
		LIMIT 1
	`, pq.QuoteIdentifier(s.tables.PaymentIntents))
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT `+intentColumns+` FROM %s WHERE idempotency_key = $1`,
		pq.QuoteIdentifier(s.tables.PaymentIntents))

	intent, err := scanIntent(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("query payment intent: %w", err)
	}
	return intent, nil
}

func (s *PostgresStore) LatestActive(ctx context.Context, userID string) (PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	intent, err := scanIntent(s.db.QueryRowContext(ctx, s.latestActiveQuery(), userID, string(StatusActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("query latest active: %w", err)
	}
	return intent, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT `+intentColumns+`
		FROM %s
		WHERE user_id = $1
		ORDER BY access_expires_at DESC
		LIMIT $2
	`, pq.QuoteIdentifier(s.tables.PaymentIntents))

	rows, err := s.db.QueryContext(ctx, query, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}
	defer rows.Close()

	var out []PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment intent: %w", err)
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePendingIntent(ctx context.Context, pending PendingIntent) error {
	if err := preparePendingIntent(&pending); err != nil {
		return err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (idempotency_key, user_id, plan_type, email, amount_cents, gateway, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, pq.QuoteIdentifier(s.tables.PendingIntents))

	_, err := s.db.ExecContext(ctx, query,
		pending.IdempotencyKey,
		pending.UserID,
		pending.PlanType,
		pending.Email,
		pending.AmountCents,
		string(pending.Gateway),
		pending.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert pending intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPendingIntent(ctx context.Context, key string) (PendingIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT idempotency_key, user_id, plan_type, email, amount_cents, gateway, created_at
		FROM %s WHERE idempotency_key = $1
	`, pq.QuoteIdentifier(s.tables.PendingIntents))

	var (
		p       PendingIntent
		gateway string
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&p.IdempotencyKey, &p.UserID, &p.PlanType, &p.Email, &p.AmountCents, &gateway, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingIntent{}, ErrNotFound
	}
	if err != nil {
		return PendingIntent{}, fmt.Errorf("query pending intent: %w", err)
	}
	p.Gateway = Gateway(gateway)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n Notification) error {
	if err := prepareNotification(&n); err != nil {
		return err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, kind, title, body, idempotency_key, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key, kind) DO NOTHING
	`, pq.QuoteIdentifier(s.tables.Notifications))

	var readAt sql.NullTime
	if n.ReadAt != nil {
		readAt = sql.NullTime{Time: n.ReadAt.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		n.ID, n.UserID, string(n.Kind), n.Title, n.Body, n.IdempotencyKey, n.CreatedAt.UTC(), readAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, kind, title, body, idempotency_key, created_at, read_at
		FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pq.QuoteIdentifier(s.tables.Notifications))

	rows, err := s.db.QueryContext(ctx, query, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n      Notification
			kind   string
			readAt sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Body, &n.IdempotencyKey, &n.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = NotificationKind(kind)
		n.CreatedAt = n.CreatedAt.UTC()
		if readAt.Valid {
			n.ReadAt = ptrTime(readAt.Time.UTC())
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection when this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
