package migrations

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestDriverURL(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		input   string
		want    string
		wantErr error
	}{
		{input: "postgres://ledger:secret@db:5432/ledger?sslmode=disable", want: "pgx5://ledger:secret@db:5432/ledger?sslmode=disable"},
		{input: " postgresql://db/ledger ", want: "pgx5://db/ledger"},
		{input: "pgx5://db/ledger", want: "pgx5://db/ledger"},
		{input: "sqlite://ledger.db", wantErr: ErrUnsupportedURL},
	}
	for _, testCase := range testCases {
		got, err := DriverURL(testCase.input)
		if testCase.wantErr != nil {
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("%q: expected %v, got %v", testCase.input, testCase.wantErr, err)
			}
			continue
		}
		if err != nil || got != testCase.want {
			test.Fatalf("%q: expected %q, got %q %v", testCase.input, testCase.want, got, err)
		}
	}
}

func TestEmbeddedMigrationsArePaired(test *testing.T) {
	test.Parallel()
	entries, err := fs.ReadDir(files, sourceDir)
	if err != nil {
		test.Fatalf("read dir: %v", err)
	}
	ups := make(map[string]bool)
	downs := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			test.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		test.Fatalf("expected migrations")
	}
	for version := range ups {
		if !downs[version] {
			test.Fatalf("missing down migration for %s", version)
		}
	}
}

func TestSchemaDeclaresLedgerConstraints(test *testing.T) {
	test.Parallel()
	content, err := fs.ReadFile(files, sourceDir+"/000001_create_ledger.up.sql")
	if err != nil {
		test.Fatalf("read: %v", err)
	}
	for _, fragment := range []string{"uniq_ledger_entries_user_source_key", "uniq_ledger_entries_user_sequence", "balance_after"} {
		if !strings.Contains(string(content), fragment) {
			test.Fatalf("expected schema to contain %q", fragment)
		}
	}
}
