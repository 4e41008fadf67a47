package store

import (
	"testing"
)

func TestDialectRebind(t *testing.T) {
	pg, err := dialectFor("postgres")
	if err != nil {
		t.Fatalf("dialectFor: %v", err)
	}
	got := pg.rebind("INSERT INTO t (a, b, c) VALUES (?, ?, ?)")
	if want := "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"; got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite, _ := dialectFor("")
	if q := "SELECT ? FROM t"; lite.rebind(q) != q {
		t.Errorf("sqlite rebind changed %q", q)
	}
	if got := pg.ddl("id {{serial}}"); got != "id BIGSERIAL PRIMARY KEY" {
		t.Errorf("ddl = %q", got)
	}
}

func TestSeedMetaRecordsSchema(t *testing.T) {
	s := newTestStore(t).(*SQLStore)

	for key, want := range map[string]string{"schema_version": "1", "driver": "sqlite"} {
		got, err := s.getMetaValue(key)
		if err != nil {
			t.Fatalf("getMetaValue(%q): %v", key, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	created, _ := s.getMetaValue("created_at")
	if created == "" {
		t.Error("created_at not seeded")
	}
}

func TestLookupIndexMigrationIsFlagged(t *testing.T) {
	s := newTestStore(t).(*SQLStore)

	done, err := s.isMetaFlagEnabled("lookup_indexes_v1")
	if err != nil {
		t.Fatalf("isMetaFlagEnabled: %v", err)
	}
	if !done {
		t.Fatal("expected lookup_indexes_v1 to be set after migrate")
	}
	// A second run is a no-op.
	if err := s.migrateLookupIndexes(); err != nil {
		t.Fatalf("migrateLookupIndexes: %v", err)
	}

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_point_value_dataset'",
	).Scan(&name)
	if err != nil {
		t.Errorf("index missing: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("truncate = %q", got)
	}
}
