package db

import (
	"database/sql"
	"embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// Ledger tables every relay database must carry.
var requiredTables = []string{
	"subscriptions",
	"notifications",
}

// Service owns the relay's sqlite ledger connection
type Service struct {
	DB     *sql.DB
	DBPath string
}

// Config holds database configuration
type Config struct {
	DBPath       string
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  time.Duration
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		DBPath:       "./db/orion-relay.db",
		MaxOpenConns: 1, // single writer
		MaxIdleConns: 1,
		BusyTimeout:  5 * time.Second,
	}
}

// New opens the ledger at config.DBPath, creating the file and its tables
// when they are missing.
func New(config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if dir := filepath.Dir(config.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d",
		config.DBPath, config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	service := &Service{DB: db, DBPath: config.DBPath}

	if err := service.InitializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := service.VerifySchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Ledger database ready: %s", config.DBPath)
	return service, nil
}

// InitializeSchema applies the embedded schema. Every statement is
// IF NOT EXISTS, so running it against an existing ledger is a no-op.
func (s *Service) InitializeSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := s.DB.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// VerifySchema checks that the ledger tables exist
func (s *Service) VerifySchema() error {
	for _, table := range requiredTables {
		var exists int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.DB.QueryRow(query, table).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if exists == 0 {
			return fmt.Errorf("required table missing: %s", table)
		}
	}
	return nil
}

func (s *Service) Close() error {
	if s.DB != nil {
		log.Println("Closing ledger database...")
		return s.DB.Close()
	}
	return nil
}

// Transaction executes a function within a database transaction
func (s *Service) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Health checks the database connection health
func (s *Service) Health() error {
	if s.DB == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.DB.Ping()
}

// LedgerStats counts the rows the relay has recorded.
type LedgerStats struct {
	Subscriptions       int64 `json:"subscriptions"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
	Notifications       int64 `json:"notifications"`
}

func (s *Service) Stats() (*LedgerStats, error) {
	var st LedgerStats
	err := s.DB.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM subscriptions),
			(SELECT COUNT(*) FROM subscriptions WHERE cancelled_at IS NULL),
			(SELECT COUNT(*) FROM notifications)
	`).Scan(&st.Subscriptions, &st.ActiveSubscriptions, &st.Notifications)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger stats: %w", err)
	}
	return &st, nil
}

// PruneNotifications deletes notifications received before cutoff and
// returns how many were removed.
func (s *Service) PruneNotifications(cutoff time.Time) (int64, error) {
	res, err := s.DB.Exec(`DELETE FROM notifications WHERE received_at < ?`, FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned notifications: %w", err)
	}
	if n > 0 {
		log.Printf("Pruned %d notifications older than %s", n, cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}
