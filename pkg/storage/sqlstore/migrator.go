package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationAdvisoryLockID is an arbitrary constant used with pg_advisory_lock so that
// concurrent migrator instances serialize instead of racing on schema_migrations.
const migrationAdvisoryLockID = 8823114

// Migration describes one versioned schema change, matching the runner's contract in
// spec §4.4: an ordered version, optional dependencies on earlier versions, free-form
// tags, and the SQL to apply/roll back.
type Migration struct {
	Version      string
	Name         string
	Dependencies []string
	Tags         []string
	UpSQL        string
	DownSQL      string
}

func (m Migration) checksum() string {
	sum := sha256.Sum256([]byte(m.UpSQL))
	return hex.EncodeToString(sum[:])
}

// migrations is the fixed, ordered migration set for the relational store. New
// migrations are appended here; Dependencies name the versions that must already be
// applied.
var migrations = []Migration{
	{
		Version: "0001", Name: "initial_schema",
		Dependencies: nil,
		Tags:         []string{"core", "events"},
		UpSQL:        mustReadMigration("migrations/0001_initial_schema.up.sql"),
		DownSQL:      mustReadMigration("migrations/0001_initial_schema.down.sql"),
	},
	{
		Version: "0002", Name: "valence_tables",
		Dependencies: []string{"0001"},
		Tags:         []string{"valence"},
		UpSQL:        mustReadMigration("migrations/0002_valence_tables.up.sql"),
		DownSQL:      mustReadMigration("migrations/0002_valence_tables.down.sql"),
	},
}

func mustReadMigration(path string) string {
	b, err := migrationsFS.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("sqlstore: embedded migration %s missing: %v", path, err))
	}
	return string(b)
}

// Migrator applies and rolls back the migration set against a Client's connection.
type Migrator struct {
	client *Client
	logger *log.Logger
}

// NewMigrator builds a Migrator over client.
func NewMigrator(client *Client) *Migrator {
	return &Migrator{client: client, logger: log.New(log.Writer(), "[migrator] ", log.LstdFlags)}
}

type appliedRow struct {
	Version  string
	Checksum string
}

// MigrateUp applies every migration not yet recorded in schema_migrations, in version
// order, enforcing that a migration's declared Dependencies are already applied before
// it runs. The whole run is serialized across processes via a Postgres advisory lock.
func (m *Migrator) MigrateUp(ctx context.Context) error {
	conn, err := m.client.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationAdvisoryLockID); err != nil {
		return fmt.Errorf("sqlstore: acquire migration lock: %w", err)
	}
	defer conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrationAdvisoryLockID)

	if err := m.ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	for _, mg := range ordered {
		if row, ok := applied[mg.Version]; ok {
			if row.Checksum != mg.checksum() {
				return fmt.Errorf("sqlstore: migration %s checksum mismatch: schema_migrations has %s, embedded SQL hashes to %s", mg.Version, row.Checksum, mg.checksum())
			}
			m.logger.Printf("skipping %s (already applied)", mg.Version)
			continue
		}
		for _, dep := range mg.Dependencies {
			if _, ok := applied[dep]; !ok {
				return fmt.Errorf("sqlstore: migration %s depends on %s, which is not applied", mg.Version, dep)
			}
		}

		m.logger.Printf("applying %s (%s)...", mg.Version, mg.Name)
		start := time.Now()
		if err := m.applyOne(ctx, mg); err != nil {
			return fmt.Errorf("sqlstore: apply migration %s: %w", mg.Version, err)
		}
		applied[mg.Version] = appliedRow{Version: mg.Version, Checksum: mg.checksum()}
		m.logger.Printf("applied %s in %s", mg.Version, time.Since(start))
	}
	return nil
}

func (m *Migrator) applyOne(ctx context.Context, mg Migration) error {
	tx, err := m.client.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	start := time.Now()
	if _, err := tx.ExecContext(ctx, mg.UpSQL); err != nil {
		return fmt.Errorf("execute up SQL: %w", err)
	}

	tagsJSON, _ := json.Marshal(mg.Tags)
	depsJSON, _ := json.Marshal(mg.Dependencies)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, status, applied_at, duration_ms, checksum, dependencies, tags)
		VALUES ($1, $2, 'applied', now(), $3, $4, $5, $6)
		ON CONFLICT (version) DO UPDATE SET
			status = 'applied', applied_at = now(), duration_ms = EXCLUDED.duration_ms,
			checksum = EXCLUDED.checksum, dependencies = EXCLUDED.dependencies, tags = EXCLUDED.tags
	`, mg.Version, mg.Name, time.Since(start).Milliseconds(), mg.checksum(), string(depsJSON), string(tagsJSON))
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// MigrateDown rolls back the most recently applied migration. Rollback is refused if
// another applied migration declares a dependency on it.
func (m *Migrator) MigrateDown(ctx context.Context) error {
	conn, err := m.client.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationAdvisoryLockID); err != nil {
		return fmt.Errorf("sqlstore: acquire migration lock: %w", err)
	}
	defer conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrationAdvisoryLockID)

	applied, err := m.appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return fmt.Errorf("sqlstore: no migrations applied")
	}

	var versions []string
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	target := versions[len(versions)-1]

	for _, mg := range migrations {
		for _, dep := range mg.Dependencies {
			if dep == target {
				if _, ok := applied[mg.Version]; ok && mg.Version != target {
					return fmt.Errorf("sqlstore: cannot roll back %s: %s depends on it and is still applied", target, mg.Version)
				}
			}
		}
	}

	mg, ok := findMigration(target)
	if !ok {
		return fmt.Errorf("sqlstore: unknown migration %s recorded in schema_migrations", target)
	}

	tx, err := m.client.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mg.DownSQL); err != nil {
		return fmt.Errorf("sqlstore: execute down SQL for %s: %w", target, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", target); err != nil {
		return fmt.Errorf("sqlstore: unrecord migration %s: %w", target, err)
	}
	m.logger.Printf("rolled back %s", target)
	return tx.Commit()
}

func findMigration(version string) (Migration, bool) {
	for _, mg := range migrations {
		if mg.Version == version {
			return mg, true
		}
	}
	return Migration{}, false
}

// ensureMigrationsTable creates schema_migrations if this is the very first run against
// a database that hasn't had migration 0001 applied yet.
func (m *Migrator) ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version      TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			status       TEXT NOT NULL,
			applied_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			duration_ms  BIGINT NOT NULL DEFAULT 0,
			checksum     TEXT NOT NULL,
			dependencies JSONB NOT NULL DEFAULT '[]',
			tags         JSONB NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		return fmt.Errorf("sqlstore: ensure schema_migrations table: %w", err)
	}
	return nil
}

// appliedVersions reads the schema_migrations table.
func (m *Migrator) appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]appliedRow, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]appliedRow)
	for rows.Next() {
		var r appliedRow
		if err := rows.Scan(&r.Version, &r.Checksum); err != nil {
			return nil, err
		}
		applied[r.Version] = r
	}
	return applied, rows.Err()
}
