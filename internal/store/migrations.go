package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration adds a column to an existing journal table.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations upgrade journals created before the columns existed.
// New journals get them the same way, right after the base tables.
var pendingMigrations = []Migration{
	{"runs", "duration_ms", "INTEGER NOT NULL DEFAULT 0"},
	{"runs", "last_outcome", "TEXT"},
}

// runMigrations applies the pending column migrations. Missing tables are
// skipped.
func runMigrations(db *sql.DB, logger *zap.Logger) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logger.Debug("table missing, skipping migration", zap.String("table", m.Table), zap.String("column", m.Column))
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.Table, m.Column, err)
		}
		logger.Debug("migration applied", zap.String("table", m.Table), zap.String("column", m.Column))
		applied++
	}
	if applied > 0 {
		logger.Info("journal schema migrated", zap.Int("applied", applied))
	}
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid         int
			name, ctype string
			notnull, pk int
			dfltValue   any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
