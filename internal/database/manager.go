// Package database is the SQLite snapshot backend. Reads go straight to the
// pool; every write is funnelled through a single writer goroutine.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "relayhub/pkg/database"
	"relayhub/pkg/types"
)

const (
	sessionTable   = "session_snapshots"
	challengeTable = "challenge_snapshots"
)

// Manager implements interfaces.SnapshotStore on SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations and starts
// the writer.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if dir := filepath.Dir(config.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot schema check failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "database").Logger(),
		writeChannel: make(chan writeOperation, 16),
		shutdown:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) LoadSessions(ctx context.Context) ([]types.SessionRecord, error) {
	return loadDocuments[types.SessionRecord](ctx, m.db, sessionTable, m.logger)
}

func (m *Manager) LoadChallenges(ctx context.Context) ([]types.ChallengeRecord, error) {
	return loadDocuments[types.ChallengeRecord](ctx, m.db, challengeTable, m.logger)
}

func (m *Manager) SaveSessions(ctx context.Context, records []types.SessionRecord) error {
	rows := make([]snapshotRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, snapshotRow{id: rec.ID, expiresAt: rec.ExpiresAt, value: rec})
	}
	return m.replace(ctx, sessionTable, rows)
}

func (m *Manager) SaveChallenges(ctx context.Context, records []types.ChallengeRecord) error {
	rows := make([]snapshotRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, snapshotRow{id: rec.ID, expiresAt: rec.ExpiresAt, value: rec})
	}
	return m.replace(ctx, challengeTable, rows)
}

type snapshotRow struct {
	id        string
	expiresAt time.Time
	value     any
}

// replace swaps the whole table content inside one transaction.
func (m *Manager) replace(ctx context.Context, table string, rows []snapshotRow) error {
	documents := make([]string, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(row.value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s: %w", table, row.id, err)
		}
		documents[i] = string(data)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO "+table+" (id, document, expires_at, updated_at) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.id, documents[i], row.expiresAt.UTC(), now); err != nil {
				return fmt.Errorf("failed to insert %s %s: %w", table, row.id, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit %s snapshot: %w", table, err)
		}
		return nil
	})
}

func loadDocuments[T any](ctx context.Context, db *sql.DB, table string, logger zerolog.Logger) ([]T, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, document FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var id, document string
		if err := rows.Scan(&id, &document); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		var rec T
		if err := json.Unmarshal([]byte(document), &rec); err != nil {
			logger.Warn().Err(err).Str("table", table).Str("id", id).Msg("skipping malformed snapshot row")
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sessionTable).Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
