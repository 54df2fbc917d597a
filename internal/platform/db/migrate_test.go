package db

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cabinet/booking/migrations"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_indexes.sql":      {Data: []byte("CREATE INDEX i ON t (a);")},
		"001_appointments.sql": {Data: []byte("CREATE TABLE t (a INT);")},
		"010_later.sql":        {Data: []byte("SELECT 10;")},
		"README.md":            {Data: []byte("not sql")},
		"notes.sql":            {Data: []byte("no version prefix")},
		"abc_bad.sql":          {Data: []byte("non numeric prefix")},
	}

	got, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(got))
	}

	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if got[i].Version != v {
			t.Errorf("migrations[%d].Version = %d, want %d", i, got[i].Version, v)
		}
	}
	if got[0].Name != "001_appointments.sql" {
		t.Errorf("expected name 001_appointments.sql, got %s", got[0].Name)
	}
	if got[0].SQL != "CREATE TABLE t (a INT);" {
		t.Errorf("unexpected SQL content: %s", got[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	}
	_, err := NewMigrator(nil, fsys).LoadMigrations()
	if err == nil {
		t.Fatal("expected error for duplicate version")
	}
	if !strings.Contains(err.Error(), "share version 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMigrations_Embedded(t *testing.T) {
	got, err := NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if got[0].Version != 1 {
		t.Errorf("first embedded version = %d, want 1", got[0].Version)
	}
	if !strings.Contains(got[0].SQL, "idx_appointments_active_slot") {
		t.Error("expected the active slot unique index in the first migration")
	}
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}
	applied := map[int]time.Time{1: time.Now(), 3: time.Now()}

	tests := []struct {
		name   string
		target int
		want   []int
	}{
		{"all pending", 0, []int{2, 4}},
		{"up to 2", 2, []int{2}},
		{"up to 3", 3, []int{2}},
		{"up to 1", 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pending(all, applied, tt.target)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d migrations, want %d", len(got), len(tt.want))
			}
			for i, v := range tt.want {
				if got[i].Version != v {
					t.Errorf("pending[%d] = %d, want %d", i, got[i].Version, v)
				}
			}
		})
	}
}
