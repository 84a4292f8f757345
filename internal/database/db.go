// Package database persists the alert log in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// Connect establishes a connection to the database
func Connect(connectionString string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return New(db, logger), nil
}

// New wraps an open handle.
func New(db *sql.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: db, logger: logger}
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		db.logger.Info("Running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.logger.Info("Migrations completed", zap.Int("count", len(sqlFiles)))
	return nil
}

const insertAlertLog = `
	INSERT INTO alert_log (
		id, device_id, kind, sent, failed, latitude, longitude, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
`

// InsertAlertLogs writes rows in one transaction. Rows already present (a
// redelivered record) are skipped. It returns the number of new rows.
func (db *DB) InsertAlertLogs(ctx context.Context, rows []*AlertLog) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertAlertLog)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx,
			r.ID, r.DeviceID, r.Kind, r.Sent, r.Failed, r.Latitude, r.Longitude, r.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert alert %s: %w", r.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// RecentAlerts returns up to limit entries for deviceID, newest first.
func (db *DB) RecentAlerts(ctx context.Context, deviceID string, limit int) ([]*AlertLog, error) {
	query := `
		SELECT id, device_id, kind, sent, failed, latitude, longitude, created_at, recorded_at
		FROM alert_log
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*AlertLog
	for rows.Next() {
		var a AlertLog
		if err := rows.Scan(
			&a.ID,
			&a.DeviceID,
			&a.Kind,
			&a.Sent,
			&a.Failed,
			&a.Latitude,
			&a.Longitude,
			&a.CreatedAt,
			&a.RecordedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}

	return out, rows.Err()
}
