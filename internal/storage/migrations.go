package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Add categories",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add pattern rules and composite components",
		Up: func(tx *sql.Tx) error {
			// Atomic and composite rules share one table so they share one
			// id space.
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS pattern_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					kind TEXT NOT NULL CHECK (kind IN ('atomic', 'composite')),
					rule_type TEXT,
					value TEXT,
					operator TEXT CHECK (operator IS NULL OR operator IN ('AND', 'OR')),
					category_id INTEGER NOT NULL REFERENCES categories(id),
					confidence_weight REAL NOT NULL DEFAULT 1.0,
					usage_count INTEGER NOT NULL DEFAULT 0,
					success_count INTEGER NOT NULL DEFAULT 0,
					origin TEXT NOT NULL DEFAULT 'user',
					metadata TEXT NOT NULL DEFAULT '{}',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					CHECK (success_count <= usage_count),
					CHECK (kind = 'composite' OR (rule_type IS NOT NULL AND value IS NOT NULL)),
					CHECK (kind = 'atomic' OR operator IS NOT NULL)
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_pattern_rules_unique_value
					ON pattern_rules(category_id, rule_type, value) WHERE kind = 'atomic'`,
				`CREATE INDEX IF NOT EXISTS idx_pattern_rules_active ON pattern_rules(kind, is_active)`,
				`CREATE TABLE IF NOT EXISTS composite_components (
					composite_id INTEGER NOT NULL REFERENCES pattern_rules(id) ON DELETE CASCADE,
					component_id INTEGER NOT NULL REFERENCES pattern_rules(id),
					position INTEGER NOT NULL,
					PRIMARY KEY (composite_id, component_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_composite_components_component
					ON composite_components(component_id)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add rule feedback log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS rule_feedback (
					id TEXT PRIMARY KEY,
					rule_id INTEGER REFERENCES pattern_rules(id) ON DELETE SET NULL,
					category_id INTEGER NOT NULL,
					outcome TEXT NOT NULL CHECK (outcome IN ('accepted', 'rejected', 'corrected')),
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_rule_feedback_rule_created
					ON rule_feedback(rule_id, created_at)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Reject negative counters",
		Up: func(tx *sql.Tx) error {
			// Triggers rather than CHECKs so the table need not be rebuilt.
			return execAll(tx,
				`CREATE TRIGGER IF NOT EXISTS pattern_rules_counters_insert
				BEFORE INSERT ON pattern_rules
				FOR EACH ROW WHEN NEW.usage_count < 0 OR NEW.success_count < 0
				BEGIN
					SELECT RAISE(ABORT, 'counters cannot be negative');
				END`,
				`CREATE TRIGGER IF NOT EXISTS pattern_rules_counters_update
				BEFORE UPDATE OF usage_count, success_count ON pattern_rules
				FOR EACH ROW WHEN NEW.usage_count < OLD.usage_count OR NEW.success_count < OLD.success_count
				BEGIN
					SELECT RAISE(ABORT, 'counters never decrease');
				END`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
