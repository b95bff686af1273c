package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is a single versioned schema change. Files are named
// NNN_description.sql and applied in ascending version order.
type Migration struct {
	Version uint32
	Name    string
	SQL     string
}

// Migrator brings the ClickHouse schema up to date. Applied versions
// are tracked in the schema_migrations table so reruns are safe.
type Migrator struct {
	client *ClickHouseClient
	logger *slog.Logger
}

// NewMigrator creates a new Migrator.
func NewMigrator(client *ClickHouseClient) *Migrator {
	return &Migrator{client: client, logger: slog.Default()}
}

// Run applies every pending migration in order.
func (m *Migrator) Run(ctx context.Context) error {
	const trackingTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version UInt32,
			name String,
			applied_at DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		ORDER BY version
	`
	if err := m.client.Exec(ctx, trackingTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, mig := range migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	m.logger.Info("applying migration", "version", mig.Version, "name", mig.Name)

	for _, stmt := range splitStatements(mig.SQL) {
		if err := m.client.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}

	err := m.client.Exec(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		mig.Version, mig.Name)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[uint32]struct{}, error) {
	rows, err := m.client.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[uint32]struct{})
	for rows.Next() {
		var version uint32
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = struct{}{}
	}
	return applied, rows.Err()
}

// loadMigrations reads the embedded SQL files and returns them sorted
// by version. Files that do not match NNN_name.sql are skipped.
func loadMigrations() ([]Migration, error) {
	paths, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, path := range paths {
		base := strings.TrimSuffix(path[len("migrations/"):], ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(migrationFS, path)
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, Migration{
			Version: uint32(version),
			Name:    name,
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// splitStatements breaks a migration file into individual statements.
// ClickHouse's driver executes one statement per call, so files hold
// semicolon-separated DDL. Semicolons inside single-quoted literals
// are preserved; full-line comments are dropped.
func splitStatements(sql string) []string {
	var out []string
	var buf strings.Builder
	quoted := false

	flush := func() {
		stmt := strings.TrimSpace(stripComments(buf.String()))
		buf.Reset()
		if stmt != "" {
			out = append(out, stmt)
		}
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quoted:
			buf.WriteByte(c)
			if c == '\'' {
				// Doubled quote escapes a literal quote.
				if i+1 < len(sql) && sql[i+1] == '\'' {
					buf.WriteByte('\'')
					i++
				} else {
					quoted = false
				}
			}
		case c == '\'':
			quoted = true
			buf.WriteByte(c)
		case c == ';':
			flush()
		default:
			buf.WriteByte(c)
		}
	}
	flush()

	return out
}

// stripComments drops full-line "--" comments. Inline comments are
// left alone since a literal could legitimately contain the sequence.
func stripComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
