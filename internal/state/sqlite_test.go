package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore()
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{"compiles", "executions"} {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		if err != nil {
			t.Errorf("table %s does not exist: %v", table, err)
			continue
		}
		rows.Close()
	}

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	// migrating twice is a no-op
	if err := store.Migrate(); err != nil {
		t.Errorf("second migrate failed: %v", err)
	}
}

func TestSQLiteStore_NotOpen(t *testing.T) {
	store := NewSQLiteStore()
	if err := store.RecordCompile(context.Background(), &CompileRecord{}); err == nil {
		t.Error("expected error on unopened store")
	}
	if _, err := store.ListCompiles(context.Background(), HistoryFilter{}); err == nil {
		t.Error("expected error on unopened store")
	}
}

func TestSQLiteStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}
	defer store.Close()

	if err := store.RecordCompile(context.Background(), &CompileRecord{Fingerprint: "f", Dialect: "ansi", Status: StatusSuccess}); err != nil {
		t.Fatalf("failed to record: %v", err)
	}
}

func TestSQLiteStore_CompileLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*CompileRecord{
		{QueryName: "revenue", Dialect: "duckdb", SQL: "SELECT 1", CTECount: 3, Duration: 12 * time.Millisecond, Status: StatusSuccess, CreatedAt: base},
		{QueryName: "revenue", Dialect: "duckdb", SQL: "SELECT 1", CTECount: 3, Duration: 8 * time.Millisecond, Status: StatusSuccess, CreatedAt: base.Add(time.Minute)},
		{QueryName: "broken", Dialect: "ansi", Status: StatusFailed, Error: "undefined concept: local.x", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		rec.Fingerprint = Fingerprint(rec.Dialect, rec.QueryName)
		if err := store.RecordCompile(ctx, rec); err != nil {
			t.Fatalf("failed to record compile: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("expected id to be assigned")
		}
	}

	tests := []struct {
		name   string
		filter HistoryFilter
		want   []string
	}{
		{"all newest first", HistoryFilter{}, []string{records[2].ID, records[1].ID, records[0].ID}},
		{"by query", HistoryFilter{QueryName: "revenue"}, []string{records[1].ID, records[0].ID}},
		{"by status", HistoryFilter{Status: StatusFailed}, []string{records[2].ID}},
		{"limit", HistoryFilter{Limit: 1}, []string{records[2].ID}},
		{"by fingerprint", HistoryFilter{Fingerprint: records[0].Fingerprint}, []string{records[1].ID, records[0].ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListCompiles(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.ID != tt.want[i] {
					t.Errorf("record %d = %s, want %s", i, rec.ID, tt.want[i])
				}
			}
		})
	}

	got, err := store.GetCompile(ctx, records[2].ID[:8])
	if err != nil {
		t.Fatalf("get by prefix failed: %v", err)
	}
	if got.Error != "undefined concept: local.x" || got.Status != StatusFailed {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Origin != OriginCLI {
		t.Errorf("origin = %q, want default %q", got.Origin, OriginCLI)
	}

	got, err = store.GetCompile(ctx, records[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Duration != 12*time.Millisecond || got.CTECount != 3 || !got.CreatedAt.Equal(base) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := store.GetCompile(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fp := Fingerprint("ansi", "select a")
	for i, status := range []Status{StatusSuccess, StatusFailed, StatusSuccess} {
		rec := &CompileRecord{
			Fingerprint: fp, QueryName: "a", Dialect: "ansi", Status: status,
			Duration: time.Duration(10*(i+1)) * time.Millisecond,
		}
		if err := store.RecordCompile(ctx, rec); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d fingerprints, want 1", len(stats))
	}
	st := stats[0]
	if st.Compiles != 3 || st.Failures != 1 {
		t.Errorf("compiles=%d failures=%d, want 3 and 1", st.Compiles, st.Failures)
	}
	if st.AvgDuration != 20*time.Millisecond {
		t.Errorf("avg = %v, want 20ms", st.AvgDuration)
	}
	if st.LastSeen.IsZero() {
		t.Error("expected last seen to parse")
	}
}

func TestSQLiteStore_PruneCascades(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	base := time.Now().UTC()

	var ids []string
	for i := 0; i < 4; i++ {
		rec := &CompileRecord{Fingerprint: "f", Dialect: "ansi", Status: StatusSuccess, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.RecordCompile(ctx, rec); err != nil {
			t.Fatalf("record failed: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	if err := store.RecordExecution(ctx, &ExecutionRecord{CompileID: ids[0], Target: "sqlite", RowCount: 2, Status: StatusSuccess}); err != nil {
		t.Fatalf("record execution failed: %v", err)
	}
	if err := store.RecordExecution(ctx, &ExecutionRecord{CompileID: ids[3], Target: "sqlite", RowCount: 5, Status: StatusSuccess}); err != nil {
		t.Fatalf("record execution failed: %v", err)
	}

	removed, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d, want 2", removed)
	}

	execs, err := store.ListExecutions(ctx, ids[0])
	if err != nil {
		t.Fatalf("list executions failed: %v", err)
	}
	if len(execs) != 0 {
		t.Errorf("executions of pruned compile survived: %d", len(execs))
	}
	execs, err = store.ListExecutions(ctx, ids[3])
	if err != nil {
		t.Fatalf("list executions failed: %v", err)
	}
	if len(execs) != 1 || execs[0].RowCount != 5 {
		t.Errorf("unexpected executions: %+v", execs)
	}

	if _, err := store.Prune(ctx, -1); err == nil {
		t.Error("expected error for negative keep")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("duckdb", "select x")
	if a != Fingerprint("duckdb", "select x") {
		t.Error("fingerprint is not stable")
	}
	if a == Fingerprint("postgres", "select x") {
		t.Error("dialect must change the fingerprint")
	}
	if a == Fingerprint("duckdb", "select y") {
		t.Error("statement must change the fingerprint")
	}
}
