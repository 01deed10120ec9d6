package bulk

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forcebackup/internal/salesforce"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "report.pdf", "report.pdf"},
		{"unsafe characters", `a/b\c:d*e?f"g<h>i|j.txt`, "a_b_c_d_e_f_g_h_i_j.txt"},
		{"empty name", "", "unnamed"},
		{"whitespace trimmed", "  notes.txt  ", "notes.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFileName(tt.in); got != tt.want {
				t.Errorf("sanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFileNameCapsLength(t *testing.T) {
	long := strings.Repeat("x", 200) + ".pdf"
	got := sanitizeFileName(long)
	if len(got) > maxFileNameLength {
		t.Errorf("len = %d, want <= %d", len(got), maxFileNameLength)
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("extension lost: %q", got)
	}
}

func TestExtensionForMIME(t *testing.T) {
	if got := extensionForMIME("application/pdf"); got != ".pdf" {
		t.Errorf("got %q", got)
	}
	if got := extensionForMIME("IMAGE/PNG"); got != ".png" {
		t.Errorf("case-insensitive lookup failed: %q", got)
	}
	if got := extensionForMIME("application/x-unknown"); got != "" {
		t.Errorf("unknown MIME should map to empty, got %q", got)
	}
}

func TestReadColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	os.WriteFile(path, []byte("Id,Name\n\"001A\",\"Acme, Inc\"\n001B,Beta\n"), 0644)

	ids, err := readColumn(path, "Id")
	if err != nil {
		t.Fatalf("readColumn() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "001A" || ids[1] != "001B" {
		t.Errorf("ids = %v", ids)
	}

	if _, err := readColumn(path, "Missing"); err == nil {
		t.Error("expected error for missing column")
	}
}

func TestAppendColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "att.csv")
	os.WriteFile(path, []byte("Id,Name\n001A,photo\n001B,\"doc, v2\"\n001C,none\n"), 0644)

	err := appendColumn(path, "Id", BinaryPathColumn, map[string]string{
		"001A": "001A_photo.png",
		"001B": "001B_doc.pdf",
	})
	if err != nil {
		t.Fatalf("appendColumn() error = %v", err)
	}

	header, rows, err := ReadRecords(path)
	if err != nil {
		t.Fatalf("ReadRecords() error = %v", err)
	}
	if header[len(header)-1] != BinaryPathColumn {
		t.Errorf("last header = %q, want %q", header[len(header)-1], BinaryPathColumn)
	}
	if rows[0][BinaryPathColumn] != "001A_photo.png" {
		t.Errorf("row 0 path = %q", rows[0][BinaryPathColumn])
	}
	if rows[1]["Name"] != "doc, v2" {
		t.Errorf("quoted cell damaged: %q", rows[1]["Name"])
	}
	if rows[2][BinaryPathColumn] != "" {
		t.Errorf("unmapped row should get empty cell, got %q", rows[2][BinaryPathColumn])
	}
}

func TestDownloadBinaries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/describe", describeHandler(salesforce.DescribeResult{
		Name:      "Attachment",
		Queryable: true,
		Fields: []salesforce.DescribeField{
			{Name: "Id", Type: "id"},
			{Name: "Name", Type: "string", NameField: true},
			{Name: "Body", Type: "base64"},
		},
	}))
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/00PA", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"Name": "invoice", "ContentType": "application/pdf"})
	})
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/00PA/Body", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 payload"))
	})
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/00PB", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"Name": "broken", "ContentType": "text/plain"})
	})
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/00PB/Body", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := newTestSetup(t, mux, Options{})

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "Attachment.csv")
	os.WriteFile(csvPath, []byte("Id,Name\n00PA,invoice\n00PB,broken\n"), 0644)

	result, err := client.DownloadBinaries(context.Background(), "Attachment", csvPath, filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("DownloadBinaries() error = %v", err)
	}
	if result.Downloaded != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 downloaded and 1 failed", result)
	}
	if len(result.FailedIDs) != 1 || result.FailedIDs[0] != "00PB" {
		t.Errorf("FailedIDs = %v", result.FailedIDs)
	}

	payload, err := os.ReadFile(filepath.Join(dir, "blobs", "00PA_invoice.pdf"))
	if err != nil {
		t.Fatalf("payload not written: %v", err)
	}
	if string(payload) != "%PDF-1.4 payload" {
		t.Errorf("payload = %q", payload)
	}

	_, rows, err := ReadRecords(csvPath)
	if err != nil {
		t.Fatalf("ReadRecords() error = %v", err)
	}
	// the path is relative to the backup directory, not a bare file name
	if rows[0][BinaryPathColumn] != "blobs/00PA_invoice.pdf" {
		t.Errorf("blob path column = %q, want %q", rows[0][BinaryPathColumn], "blobs/00PA_invoice.pdf")
	}
	if rows[1][BinaryPathColumn] != "" {
		t.Errorf("failed record should have empty path, got %q", rows[1][BinaryPathColumn])
	}
}

func TestDownloadBinariesSkipsExisting(t *testing.T) {
	var bodyCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/describe", describeHandler(salesforce.DescribeResult{
		Name:      "Attachment",
		Queryable: true,
		Fields: []salesforce.DescribeField{
			{Name: "Id", Type: "id"},
			{Name: "Body", Type: "base64"},
		},
	}))
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/00PA", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"Name": "invoice", "ContentType": "application/pdf"})
	})
	mux.HandleFunc("/services/data/v59.0/sobjects/Attachment/00PA/Body", func(w http.ResponseWriter, r *http.Request) {
		bodyCalls++
		w.Write([]byte("payload"))
	})
	client := newTestSetup(t, mux, Options{})

	dir := t.TempDir()
	blobDir := filepath.Join(dir, "blobs")
	os.MkdirAll(blobDir, 0755)
	os.WriteFile(filepath.Join(blobDir, "00PA_invoice.pdf"), []byte("already here"), 0644)

	csvPath := filepath.Join(dir, "Attachment.csv")
	os.WriteFile(csvPath, []byte("Id\n00PA\n"), 0644)

	result, err := client.DownloadBinaries(context.Background(), "Attachment", csvPath, blobDir)
	if err != nil {
		t.Fatalf("DownloadBinaries() error = %v", err)
	}
	if result.Skipped != 1 || result.Downloaded != 0 {
		t.Errorf("result = %+v, want 1 skipped", result)
	}
	if bodyCalls != 0 {
		t.Errorf("body fetched %d times for an existing file", bodyCalls)
	}
}

func TestDownloadBinariesNoBinaryField(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v59.0/sobjects/Account/describe", describeHandler(accountDescribe()))
	client := newTestSetup(t, mux, Options{})

	result, err := client.DownloadBinaries(context.Background(), "Account", "unused.csv", t.TempDir())
	if err != nil {
		t.Fatalf("DownloadBinaries() error = %v", err)
	}
	if result.Downloaded != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want zero work", result)
	}
}
