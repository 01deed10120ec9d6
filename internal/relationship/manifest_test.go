package relationship

import (
	"os"
	"path/filepath"
	"testing"
)

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	manifest := NewManifest("00D000000000001EAA", "v59.0")
	manifest.AddObject(&ObjectManifest{
		Object:      "Account",
		KeyStrategy: StrategyExternalID,
		KeyFields:   []string{"ExtKey__c"},
		RecordCount: 42,
		DataFile:    "Account.csv",
		Mappings: []Mapping{
			{FieldName: "ParentId", RelationshipName: "Parent", ReferenceTo: []string{"Account"}, TargetObject: "Account"},
		},
	})
	manifest.AddObject(&ObjectManifest{
		Object:      "Contact",
		KeyStrategy: StrategyNameBased,
		KeyFields:   []string{"Name"},
		DataFile:    "Contact.csv",
	})

	if err := manifest.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	if loaded.SourceOrgID != manifest.SourceOrgID {
		t.Errorf("SourceOrgID = %q, want %q", loaded.SourceOrgID, manifest.SourceOrgID)
	}
	account := loaded.Object("Account")
	if account == nil {
		t.Fatal("loaded manifest has no Account entry")
	}
	if account.KeyStrategy != StrategyExternalID || account.RecordCount != 42 {
		t.Errorf("unexpected Account entry: %+v", account)
	}
	if len(account.Mappings) != 1 || account.Mappings[0].FieldName != "ParentId" {
		t.Errorf("unexpected mappings: %+v", account.Mappings)
	}

	names := loaded.ObjectNames()
	if len(names) != 2 || names[0] != "Account" || names[1] != "Contact" {
		t.Errorf("ObjectNames() = %v", names)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, dir string)
		wantErr bool
	}{
		{
			name:    "missing manifest",
			setup:   func(t *testing.T, dir string) {},
			wantErr: true,
		},
		{
			name: "corrupt manifest",
			setup: func(t *testing.T, dir string) {
				os.WriteFile(filepath.Join(dir, ManifestFileName), []byte("{not json"), 0644)
			},
			wantErr: true,
		},
		{
			name: "unsupported version",
			setup: func(t *testing.T, dir string) {
				os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(`{"version":99,"objects":{}}`), 0644)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)
			_, err := LoadManifest(dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIDMapRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := NewIDMap("Account")
	m.Add("001SRC000000001", "001TGT000000001")
	m.Add("001SRC000000002", "001TGT000000002")
	m.Add("", "001TGT000000003") // ignored

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	if err := m.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadIDMap(dir, "Account")
	if err != nil {
		t.Fatalf("LoadIDMap() error = %v", err)
	}
	target, ok := loaded.Lookup("001SRC000000002")
	if !ok || target != "001TGT000000002" {
		t.Errorf("Lookup() = %q, %v", target, ok)
	}
}

func TestLoadIDMapMissingFileYieldsEmptyMap(t *testing.T) {
	m, err := LoadIDMap(t.TempDir(), "Contact")
	if err != nil {
		t.Fatalf("LoadIDMap() error = %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestMappingStoreReturnsSameMap(t *testing.T) {
	store := NewMappingStore(t.TempDir())

	first, err := store.Get("Account")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.Add("001A", "001B")

	second, err := store.Get("Account")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := second.Lookup("001A"); !ok {
		t.Error("store should hand out the same map per object")
	}
}
