// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationStep is a registered schema change. Steps are compiled into the
// binary rather than read from disk: the queue database lives on a device
// where shipping loose .sql files is not an option.
type migrationStep struct {
	Version     int
	Description string
	SQL         string
}

// Migrator handles database schema migrations.
type Migrator struct {
	db    *sql.DB
	steps []migrationStep
}

// NewMigrator creates a Migrator with the built-in migration registry.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{
		db:    db,
		steps: migrations,
	}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations in version order.
// Already-applied versions are verified against their recorded checksum so a
// changed migration body is caught instead of silently diverging.
func (m *Migrator) Up() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedByVersion := make(map[int]Migration)
	for _, mig := range applied {
		appliedByVersion[mig.Version] = mig
	}

	steps := make([]migrationStep, len(m.steps))
	copy(steps, m.steps)
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Version < steps[j].Version
	})

	for _, step := range steps {
		if prior, ok := appliedByVersion[step.Version]; ok {
			if prior.Checksum != checksum(step.SQL) {
				return fmt.Errorf("migration V%d checksum mismatch: applied %s, registered %s",
					step.Version, prior.Checksum, checksum(step.SQL))
			}
			continue
		}

		if err := m.apply(step); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", step.Version, err)
		}
	}

	return nil
}

// apply runs one migration step inside a transaction.
func (m *Migrator) apply(step migrationStep) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(step.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, step.Version, time.Now().Unix(), step.Description, checksum(step.SQL)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// checksum computes the SHA-256 hex digest of a migration body.
func checksum(body string) string {
	hash := sha256.Sum256([]byte(body))
	return hex.EncodeToString(hash[:])
}
