package migrate_test

import (
	"testing"

	"namesweep/internal/db"
	"namesweep/internal/migrate"
)

func TestMigrateIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i+1, err)
		}
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("schema_version: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d", version)
	}
	for _, table := range []string{"runs", "results", "events"} {
		var n int
		err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		if err != nil || n != 1 {
			t.Fatalf("table %s missing (n=%d, err=%v)", table, n, err)
		}
	}
}
