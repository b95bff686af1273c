package store

import (
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations embedded")
	}

	for i, m := range migrations {
		if m.Version == 0 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		if m.Name == "" {
			t.Errorf("migration %d has empty name", i)
		}
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %d has empty SQL", i)
		}
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Errorf("migrations out of order: %d then %d", migrations[i-1].Version, m.Version)
		}
	}

	first := migrations[0]
	if first.Version != 1 || first.Name != "init" {
		t.Errorf("first migration = %d/%q, want 1/init", first.Version, first.Name)
	}
	for _, table := range []string{"log_events", "alerts", "soar_actions", "suppression_state"} {
		if !strings.Contains(first.SQL, table) {
			t.Errorf("init migration missing table %q", table)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{
			name: "single statement",
			sql:  "CREATE TABLE t (id Int64) ENGINE = MergeTree ORDER BY id",
			want: 1,
		},
		{
			name: "two statements",
			sql:  "CREATE TABLE a (id Int64) ENGINE = MergeTree ORDER BY id;\nCREATE TABLE b (id Int64) ENGINE = MergeTree ORDER BY id;",
			want: 2,
		},
		{
			name: "semicolon inside string literal",
			sql:  "INSERT INTO t VALUES ('a;b');\nINSERT INTO t VALUES ('c')",
			want: 2,
		},
		{
			name: "leading comment line",
			sql:  "-- core tables\nCREATE TABLE t (id Int64) ENGINE = MergeTree ORDER BY id;",
			want: 1,
		},
		{
			name: "comment only",
			sql:  "-- nothing here;",
			want: 0,
		},
		{
			name: "trailing whitespace only",
			sql:  "SELECT 1;\n\n  \n",
			want: 1,
		},
		{
			name: "empty input",
			sql:  "",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.sql)
			if len(got) != tt.want {
				t.Errorf("splitStatements() returned %d statements, want %d: %q", len(got), tt.want, got)
			}
		})
	}
}

func TestSplitStatements_PreservesLiteral(t *testing.T) {
	got := splitStatements("INSERT INTO t VALUES ('x;y')")
	if len(got) != 1 {
		t.Fatalf("got %d statements, want 1", len(got))
	}
	if !strings.Contains(got[0], "x;y") {
		t.Errorf("literal mangled: %q", got[0])
	}
}
