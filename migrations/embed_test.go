// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"testing"
	"testing/fstest"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{name: "001_init.sql", want: 1},
		{name: "012_add_index.sql", want: 12},
		{name: "init.sql", wantErr: true},
		{name: "_init.sql", wantErr: true},
		{name: "abc_init.sql", wantErr: true},
		{name: "000_zero.sql", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseVersion(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, got)
		}
	}
}

func TestLoadSortsByVersionAndChecksums(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("ignored")},
	}

	got, err := load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 migrations got %d", len(got))
	}
	for i, want := range []int{1, 2, 10} {
		if got[i].Version != want {
			t.Fatalf("position %d: expected version %d got %d", i, want, got[i].Version)
		}
	}
	if got[0].Checksum == "" || got[0].Checksum == got[1].Checksum {
		t.Fatalf("expected distinct checksums, got %q and %q", got[0].Checksum, got[1].Checksum)
	}
}

func TestLoadRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := load(fsys); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	got, err := Load()
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if len(got) < 2 || got[0].Name != "001_init.sql" {
		t.Fatalf("unexpected embedded migrations: %+v", got)
	}
}
