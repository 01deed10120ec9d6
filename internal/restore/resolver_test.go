package restore

import (
	"context"
	"strings"
	"testing"

	"forcebackup/internal/relationship"
)

// fakeQueryClient records every SOQL statement and answers from a canned
// value-to-ID table per object.
type fakeQueryClient struct {
	queries []string
	// results maps "Object.Field" to value-to-ID pairs.
	results map[string]map[string]string
}

func (f *fakeQueryClient) Query(ctx context.Context, soql string) ([]map[string]interface{}, error) {
	f.queries = append(f.queries, soql)

	var records []map[string]interface{}
	for key, byValue := range f.results {
		parts := strings.SplitN(key, ".", 2)
		object, field := parts[0], parts[1]
		if !strings.Contains(soql, "FROM "+object) || !strings.Contains(soql, field+" IN") {
			continue
		}
		for value, id := range byValue {
			if strings.Contains(soql, "'"+value+"'") {
				records = append(records, map[string]interface{}{"Id": id, field: value})
			}
		}
	}
	return records, nil
}

func newTestResolver(t *testing.T, api QueryClient) (*Resolver, *relationship.MappingStore) {
	t.Helper()
	store := relationship.NewMappingStore(t.TempDir())
	return NewResolver(api, store, testLogger()), store
}

func accountMapping() relationship.Mapping {
	return relationship.Mapping{
		FieldName:             "AccountId",
		RelationshipName:      "Account",
		ReferenceTo:           []string{"Account"},
		TargetObject:          "Account",
		TargetExternalIDField: "ExtKey__c",
		TargetNameField:       "Name",
	}
}

func TestResolveEmptyValue(t *testing.T) {
	api := &fakeQueryClient{}
	resolver, _ := newTestResolver(t, api)

	resolution, err := resolver.Resolve(context.Background(), "Contact", accountMapping(), map[string]string{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution.TargetID != "" || resolution.Unresolved {
		t.Errorf("empty reference should resolve to nothing, got %+v", resolution)
	}
	if len(api.queries) != 0 {
		t.Errorf("empty reference should not query, got %v", api.queries)
	}
}

func TestResolvePrefersIDMapping(t *testing.T) {
	api := &fakeQueryClient{results: map[string]map[string]string{
		"Account.ExtKey__c": {"EXT-1": "001QUERYAAA"},
	}}
	resolver, store := newTestResolver(t, api)

	idMap, err := store.Get("Account")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	idMap.Add("001SRC000000001", "001TGT000000001")

	row := map[string]string{
		"AccountId":               "001SRC000000001",
		"_rel_Account_ExternalId": "EXT-1",
	}
	resolution, err := resolver.Resolve(context.Background(), "Contact", accountMapping(), row)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution.TargetID != "001TGT000000001" {
		t.Errorf("TargetID = %q, want the mapped ID", resolution.TargetID)
	}
	if len(api.queries) != 0 {
		t.Errorf("ID mapping hit should not reach the org, got %v", api.queries)
	}
}

func TestResolveFallsBackToExternalIDLookup(t *testing.T) {
	api := &fakeQueryClient{results: map[string]map[string]string{
		"Account.ExtKey__c": {"EXT-1": "001NEW0000000AA"},
	}}
	resolver, _ := newTestResolver(t, api)

	row := map[string]string{
		"AccountId":               "001SRC000000001",
		"_rel_Account_ExternalId": "EXT-1",
	}
	resolution, err := resolver.Resolve(context.Background(), "Contact", accountMapping(), row)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution.TargetID != "001NEW0000000AA" {
		t.Errorf("TargetID = %q, want the looked-up ID", resolution.TargetID)
	}
	if len(api.queries) != 1 {
		t.Fatalf("want exactly one lookup query, got %v", api.queries)
	}
	if !strings.Contains(api.queries[0], "ExtKey__c IN ('EXT-1')") {
		t.Errorf("query = %q, want an ExtKey__c IN clause", api.queries[0])
	}
}

func TestResolveFallsBackToNameLookup(t *testing.T) {
	api := &fakeQueryClient{results: map[string]map[string]string{
		"Account.Name": {"Acme Corp": "001NAME000000AA"},
	}}
	resolver, _ := newTestResolver(t, api)

	row := map[string]string{
		"AccountId":               "001SRC000000001",
		"_rel_Account_ExternalId": "EXT-MISSING",
		"_rel_Account_Name":       "Acme Corp",
	}
	resolution, err := resolver.Resolve(context.Background(), "Contact", accountMapping(), row)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution.TargetID != "001NAME000000AA" {
		t.Errorf("TargetID = %q, want the name-matched ID", resolution.TargetID)
	}
}

func TestResolveUnresolvedNullsOut(t *testing.T) {
	api := &fakeQueryClient{}
	resolver, _ := newTestResolver(t, api)

	row := map[string]string{
		"AccountId":               "001SRC000000001",
		"_rel_Account_ExternalId": "EXT-GONE",
		"_rel_Account_Name":       "Gone Inc",
	}
	resolution, err := resolver.Resolve(context.Background(), "Contact", accountMapping(), row)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !resolution.Unresolved || resolution.TargetID != "" {
		t.Errorf("unmatched reference should be unresolved, got %+v", resolution)
	}
}

func TestResolveNegativeCachesMisses(t *testing.T) {
	api := &fakeQueryClient{}
	resolver, _ := newTestResolver(t, api)

	row := map[string]string{
		"AccountId":               "001SRC000000001",
		"_rel_Account_ExternalId": "EXT-GONE",
	}
	mapping := accountMapping()
	mapping.TargetNameField = ""

	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(context.Background(), "Contact", mapping, row); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if len(api.queries) != 1 {
		t.Errorf("repeated misses should query once, got %d queries", len(api.queries))
	}
}

func TestResolvePolymorphicSkipsLookups(t *testing.T) {
	api := &fakeQueryClient{}
	resolver, _ := newTestResolver(t, api)

	mapping := relationship.Mapping{
		FieldName:        "WhoId",
		RelationshipName: "Who",
		ReferenceTo:      []string{"Contact", "Lead"},
		Polymorphic:      true,
	}
	row := map[string]string{"WhoId": "003SRC000000001"}

	resolution, err := resolver.Resolve(context.Background(), "Task", mapping, row)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !resolution.Unresolved {
		t.Errorf("polymorphic miss should be unresolved, got %+v", resolution)
	}
	if len(api.queries) != 0 {
		t.Errorf("polymorphic references never query by key, got %v", api.queries)
	}
}

func TestPrimeBatchesAndFillsCache(t *testing.T) {
	api := &fakeQueryClient{results: map[string]map[string]string{
		"Account.ExtKey__c": {"EXT-1": "001A", "EXT-2": "001B"},
	}}
	resolver, _ := newTestResolver(t, api)

	values := make([]string, 0, 150)
	values = append(values, "EXT-1", "EXT-2", "EXT-1", "")
	for i := 0; i < 148; i++ {
		values = append(values, "EXT-FILLER")
	}

	if err := resolver.Prime(context.Background(), "Account", "ExtKey__c", values); err != nil {
		t.Fatalf("Prime() error = %v", err)
	}
	// 3 distinct values fit one batch of 100
	if len(api.queries) != 1 {
		t.Fatalf("want one priming query, got %d", len(api.queries))
	}

	row := map[string]string{
		"AccountId":               "001SRC000000002",
		"_rel_Account_ExternalId": "EXT-2",
	}
	mapping := accountMapping()
	mapping.TargetNameField = ""
	resolution, err := resolver.Resolve(context.Background(), "Contact", mapping, row)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution.TargetID != "001B" {
		t.Errorf("TargetID = %q, want the primed ID", resolution.TargetID)
	}
	if len(api.queries) != 1 {
		t.Errorf("primed value should not re-query, got %d queries", len(api.queries))
	}
}

func TestEscapeSOQL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"O'Brien", `O\'Brien`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeSOQL(tt.in); got != tt.want {
			t.Errorf("escapeSOQL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
