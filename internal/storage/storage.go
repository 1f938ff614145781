package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roomboard/passledger/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write violates a uniqueness constraint,
// most importantly a second ledger row for the same idempotency key.
var ErrConflict = errors.New("storage: conflict")

// Store captures the persistence requirements for the entitlement ledger.
//
// The ledger is append-only: rows are inserted once and never updated.
// Every backend serializes AppendForUser calls for the same user so that two
// different payments cannot both stack on the same prior expiry.
type Store interface {
	// Append inserts a single ledger row. Returns ErrConflict when the idempotency key exists.
	Append(ctx context.Context, intent PaymentIntent) (PaymentIntent, error)
	// AppendForUser reads the user's latest active row, derives the new row with build,
	// and inserts it, all within one per-user critical section.
	AppendForUser(ctx context.Context, userID string, build BuildFunc) (PaymentIntent, error)
	GetByIdempotencyKey(ctx context.Context, key string) (PaymentIntent, error)
	// LatestActive returns the user's active row with the furthest expiry (ErrNotFound if none).
	LatestActive(ctx context.Context, userID string) (PaymentIntent, error)
	// ListByUser returns the user's rows, newest expiry first.
	ListByUser(ctx context.Context, userID string, limit int) ([]PaymentIntent, error)

	// SavePendingIntent records an initialized checkout. Saving an existing key is a no-op.
	SavePendingIntent(ctx context.Context, pending PendingIntent) error
	GetPendingIntent(ctx context.Context, key string) (PendingIntent, error)

	// CreateNotification stores an in-app notice. Returns ErrConflict when a notice of the
	// same kind already exists for the idempotency key.
	CreateNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)

	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	FilePath        string
	PostgresPool    config.PostgresPoolConfig

	// Schema mapping (table names for Postgres, collection names for MongoDB)
	PaymentIntentsTableName string // Default: "payment_intents"
	PendingIntentsTableName string // Default: "pending_intents"
	NotificationsTableName  string // Default: "notifications"
	LedgerLocksTableName    string // Default: "ledger_locks" (MongoDB only)
}

// StoreConfigFrom maps the storage section of the application config.
func StoreConfigFrom(cfg config.StorageConfig) StoreConfig {
	return StoreConfig{
		Backend:                 cfg.Backend,
		PostgresURL:             cfg.PostgresURL,
		MongoDBURL:              cfg.MongoDBURL,
		MongoDBDatabase:         cfg.MongoDBDatabase,
		FilePath:                cfg.FilePath,
		PostgresPool:            cfg.PostgresPool,
		PaymentIntentsTableName: cfg.SchemaMapping.PaymentIntents.TableName,
		PendingIntentsTableName: cfg.SchemaMapping.PendingIntents.TableName,
		NotificationsTableName:  cfg.SchemaMapping.Notifications.TableName,
		LedgerLocksTableName:    cfg.SchemaMapping.LedgerLocks.TableName,
	}
}

func (c StoreConfig) tableNames() TableNames {
	return TableNames{
		PaymentIntents: c.PaymentIntentsTableName,
		PendingIntents: c.PendingIntentsTableName,
		Notifications:  c.NotificationsTableName,
		LedgerLocks:    c.LedgerLocksTableName,
	}.withDefaults()
}

// TableNames holds the table or collection names used by database backends.
type TableNames struct {
	PaymentIntents string
	PendingIntents string
	Notifications  string
	LedgerLocks    string
}

func (t TableNames) withDefaults() TableNames {
	if t.PaymentIntents == "" {
		t.PaymentIntents = "payment_intents"
	}
	if t.PendingIntents == "" {
		t.PendingIntents = "pending_intents"
	}
	if t.Notifications == "" {
		t.Notifications = "notifications"
	}
	if t.LedgerLocks == "" {
		t.LedgerLocks = "ledger_locks"
	}
	return t
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is non-nil for postgres backends it is used instead of opening a new connection.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		// Memory backend loses the ledger on restart; development and tests only.
		return NewMemoryStore(), nil
	case "":
		// Auto-detect backend from provided configuration: postgres > mongodb > file
		if cfg.PostgresURL != "" {
			cfg.Backend = "postgres"
			return NewStoreWithDB(cfg, sharedDB)
		}
		if cfg.MongoDBURL != "" {
			cfg.Backend = "mongodb"
			if cfg.MongoDBDatabase == "" {
				cfg.MongoDBDatabase = "passledger"
			}
			return NewStoreWithDB(cfg, sharedDB)
		}
		if cfg.FilePath == "" {
			cfg.FilePath = "./data/passledger.json"
		}
		return NewFileStore(cfg.FilePath)
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, cfg.tableNames())
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, cfg.tableNames())
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.tableNames())
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file backend requires file_path")
		}
		return NewFileStore(cfg.FilePath)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
