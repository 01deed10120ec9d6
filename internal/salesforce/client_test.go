package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/logging"
)

func testLogger() *logging.Logger {
	logger, _ := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet})
	return logger
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		InstanceURL: server.URL,
		AccessToken: "test-token",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, server
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  Config{InstanceURL: "https://org.my.salesforce.com", AccessToken: "tok"},
			wantErr: false,
		},
		{
			name:    "missing instance URL",
			config:  Config{AccessToken: "tok"},
			wantErr: true,
		},
		{
			name:    "missing scheme",
			config:  Config{InstanceURL: "org.my.salesforce.com", AccessToken: "tok"},
			wantErr: true,
		},
		{
			name:    "missing token",
			config:  Config{InstanceURL: "https://org.my.salesforce.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, testLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetJSONSendsBearerToken(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))

	var out map[string]string
	if err := client.GetJSON(context.Background(), "/services/data/v59.0/limits", &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer test-token")
	}
}

func TestGetJSONUnauthorizedIsAuthExpired(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`[{"errorCode":"INVALID_SESSION_ID"}]`))
	}))

	err := client.GetJSON(context.Background(), client.RestPath("limits"), nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if apperrors.GetErrorType(err) != apperrors.ErrorTypeAuthExpired {
		t.Errorf("error type = %v, want %v", apperrors.GetErrorType(err), apperrors.ErrorTypeAuthExpired)
	}
	if !apperrors.IsFatal(err) {
		t.Error("auth expiry should be fatal for the run")
	}
}

func TestQueryFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v59.0/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(QueryResult{
			TotalSize:      3,
			Done:           false,
			NextRecordsURL: "/services/data/v59.0/query/01g-2",
			Records: []map[string]interface{}{
				{"Id": "001A"}, {"Id": "001B"},
			},
		})
	})
	mux.HandleFunc("/services/data/v59.0/query/01g-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(QueryResult{
			TotalSize: 3,
			Done:      true,
			Records: []map[string]interface{}{
				{"Id": "001C"},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	records, err := client.Query(context.Background(), "SELECT Id FROM Account")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Query() returned %d records, want 3", len(records))
	}
	if records[2]["Id"] != "001C" {
		t.Errorf("last record = %v, want Id 001C", records[2])
	}
}

func TestDescribeObject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v59.0/sobjects/Account/describe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DescribeResult{
			Name:      "Account",
			Queryable: true,
			Fields: []DescribeField{
				{Name: "Id", Type: "id"},
				{Name: "Name", Type: "string", NameField: true},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	result, err := client.DescribeObject(context.Background(), "Account")
	if err != nil {
		t.Fatalf("DescribeObject() error = %v", err)
	}
	if result.Name != "Account" || len(result.Fields) != 2 {
		t.Errorf("unexpected describe result: %+v", result)
	}
}

func TestCreateRecordsPartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v59.0/composite/sobjects", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			AllOrNone bool      `json:"allOrNone"`
			Records   []SObject `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.AllOrNone {
			t.Error("allOrNone should always be false")
		}
		json.NewEncoder(w).Encode([]SaveResult{
			{ID: "001X", Success: true},
			{Success: false, Errors: []SaveError{{StatusCode: "REQUIRED_FIELD_MISSING", Message: "Name required"}}},
		})
	})
	client, _ := newTestClient(t, mux)

	results, err := client.CreateRecords(context.Background(), []SObject{
		NewSObject("Account", map[string]interface{}{"Name": "Acme"}),
		NewSObject("Account", map[string]interface{}{}),
	})
	if err != nil {
		t.Fatalf("CreateRecords() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].Success || results[1].Success {
		t.Errorf("unexpected results: %+v", results)
	}
	if results[1].Errors[0].StatusCode != "REQUIRED_FIELD_MISSING" {
		t.Errorf("error code = %q", results[1].Errors[0].StatusCode)
	}
}
