package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCSVSinkWritesObjectFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Begin(ctx, "Account", []string{"Id", "Name"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := s.Append(ctx, []string{"001A", "Acme, Inc"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, []string{"001B", "Beta"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "Account.csv"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][1] != "Acme, Inc" {
		t.Errorf("quoted value = %q", rows[1][1])
	}
}

func TestCSVSinkScopeErrors(t *testing.T) {
	s, _ := NewCSVSink(t.TempDir())
	ctx := context.Background()

	if err := s.Append(ctx, []string{"x"}); err == nil {
		t.Error("Append before Begin should fail")
	}
	if err := s.End(ctx); err == nil {
		t.Error("End before Begin should fail")
	}

	if err := s.Begin(ctx, "Account", []string{"Id", "Name"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := s.Begin(ctx, "Contact", []string{"Id"}); err == nil {
		t.Error("nested Begin should fail")
	}
	if err := s.Append(ctx, []string{"only-one"}); err == nil {
		t.Error("row width mismatch should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDatabaseSinkBatchesInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := newDatabaseSinkWithDB(db, 2, "sf_")
	ctx := context.Background()

	mock.ExpectExec("DROP TABLE IF EXISTS `sf_Account`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE `sf_Account`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `sf_Account`").
		WithArgs("001A", "Acme", "001B", "Beta").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `sf_Account`").
		WithArgs("001C", "Gamma").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Begin(ctx, "Account", []string{"Id", "Name"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, row := range [][]string{{"001A", "Acme"}, {"001B", "Beta"}, {"001C", "Gamma"}} {
		if err := s.Append(ctx, row); err != nil {
			t.Fatalf("Append(%v) error = %v", row, err)
		}
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDatabaseSinkSanitizesIdentifiers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := newDatabaseSinkWithDB(db, 10, "")
	ctx := context.Background()

	mock.ExpectExec("DROP TABLE IF EXISTS `My_Object__c`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE `My_Object__c` \\(`Id` TEXT, `_rel_Account_ExternalId` TEXT\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Begin(ctx, "My Object__c", []string{"Id", "_rel_Account_ExternalId"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewSelectsImplementation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default is CSV", Config{Directory: t.TempDir()}, false},
		{"explicit CSV", Config{Type: TypeCSV, Directory: t.TempDir()}, false},
		{"CSV without directory", Config{Type: TypeCSV}, true},
		{"mysql without DSN", Config{Type: TypeMySQL}, true},
		{"unknown type", Config{Type: "mongodb"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}
