package relationship

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"forcebackup/internal/errors"
)

// ManifestFileName is the manifest's name inside a backup directory.
const ManifestFileName = "_relationship_metadata.json"

// manifestVersion guards against reading manifests written by incompatible
// releases.
const manifestVersion = 1

// ObjectManifest captures everything a restore needs to know about one
// backed-up object.
type ObjectManifest struct {
	Object      string              `json:"object"`
	KeyStrategy ExternalKeyStrategy `json:"externalKeyStrategy"`
	KeyFields   []string            `json:"keyFields,omitempty"`
	Mappings    []Mapping           `json:"relationshipMappings,omitempty"`
	RecordCount int64               `json:"recordCount"`
	BinaryField string              `json:"binaryField,omitempty"`
	DataFile    string              `json:"dataFile"`
}

// Manifest is the relationship metadata written once per backup run. It is
// read-only at restore time.
type Manifest struct {
	Version     int                        `json:"version"`
	CreatedAt   time.Time                  `json:"createdAt"`
	SourceOrgID string                     `json:"sourceOrgId,omitempty"`
	APIVersion  string                     `json:"apiVersion,omitempty"`
	Objects     map[string]*ObjectManifest `json:"objects"`
}

// NewManifest creates an empty manifest stamped with the current time.
func NewManifest(sourceOrgID, apiVersion string) *Manifest {
	return &Manifest{
		Version:     manifestVersion,
		CreatedAt:   time.Now().UTC(),
		SourceOrgID: sourceOrgID,
		APIVersion:  apiVersion,
		Objects:     make(map[string]*ObjectManifest),
	}
}

// AddObject records an object's manifest entry, replacing any previous one.
func (m *Manifest) AddObject(entry *ObjectManifest) {
	m.Objects[entry.Object] = entry
}

// Object returns the entry for an object, nil when the backup does not
// contain it.
func (m *Manifest) Object(name string) *ObjectManifest {
	return m.Objects[name]
}

// ObjectNames returns the backed-up object names in sorted order.
func (m *Manifest) ObjectNames() []string {
	names := make([]string, 0, len(m.Objects))
	for name := range m.Objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the manifest into the backup directory.
func (m *Manifest) Save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.NewAppError(errors.ErrorTypeUnknown, "failed to encode manifest", err)
	}

	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("failed to write manifest to %s", path), err)
	}
	return nil
}

// LoadManifest reads the manifest from a backup directory.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("backup directory has no manifest: %s", path), err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			"manifest is not valid JSON", err)
	}
	if m.Version != manifestVersion {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("manifest version %d is not supported", m.Version), nil)
	}
	if m.Objects == nil {
		m.Objects = make(map[string]*ObjectManifest)
	}
	return &m, nil
}
