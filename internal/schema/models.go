package schema

// FieldInfo describes a single field of an object as reported by the
// describe endpoint. Instances are immutable once built.
type FieldInfo struct {
	Name              string
	Label             string
	Type              string
	Length            int
	Nillable          bool
	Unique            bool
	ExternalID        bool
	IDLookup          bool
	NameField         bool
	Createable        bool
	Updateable        bool
	Calculated        bool
	AutoNumber        bool
	DefaultedOnCreate bool
	ReferenceTo       []string
	RelationshipName  string
}

// Required reports whether a value must be supplied on insert. Calculated
// and auto-number fields are populated by the platform and never required
// from the caller.
func (f FieldInfo) Required() bool {
	return !f.Nillable && !f.Calculated && !f.AutoNumber && !f.DefaultedOnCreate
}

// IsReference reports whether the field is a lookup or master-detail.
func (f FieldInfo) IsReference() bool {
	return f.Type == "reference" && len(f.ReferenceTo) > 0
}

// IsCompound reports whether the field is a compound type the Bulk API
// cannot select directly. The components are queried instead.
func (f FieldInfo) IsCompound() bool {
	return f.Type == "address" || f.Type == "location"
}

// IsBinary reports whether the field holds base64 content.
func (f FieldInfo) IsBinary() bool {
	return f.Type == "base64"
}

// RelationshipField is a reference field together with its resolved targets.
type RelationshipField struct {
	Field            FieldInfo
	ReferenceTo      []string
	RelationshipName string
}

// Polymorphic reports whether the field can point at more than one object
// type, e.g. Task.WhoId.
func (r RelationshipField) Polymorphic() bool {
	return len(r.ReferenceTo) > 1
}

// ObjectMetadata is the immutable per-object view built from one describe
// call. The derived subsets are computed once at construction.
type ObjectMetadata struct {
	Name       string
	Label      string
	Queryable  bool
	Createable bool
	Updateable bool
	Custom     bool

	// Fields preserves the describe order.
	Fields []FieldInfo

	// ExternalIDFields lists fields flagged externalId, in describe order.
	ExternalIDFields []string
	// UniqueFields lists fields flagged unique that are not external IDs.
	UniqueFields []string
	// NameField is the object's name field, empty when the object has none.
	NameField string
	// BinaryField is the base64 field name, empty for objects without one.
	BinaryField string
	// RelationshipFields lists every lookup and master-detail field.
	RelationshipFields []RelationshipField
}

// FieldByName returns the field with the given name, nil when absent.
func (m *ObjectMetadata) FieldByName(name string) *FieldInfo {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// QueryableFieldNames returns the fields a bulk query can select, in
// describe order. Compound and binary fields are excluded.
func (m *ObjectMetadata) QueryableFieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.IsCompound() || f.IsBinary() {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// RequiredFieldNames returns the fields that must carry a value on insert.
func (m *ObjectMetadata) RequiredFieldNames() []string {
	var names []string
	for _, f := range m.Fields {
		if f.Name == "Id" {
			continue
		}
		if f.Required() && f.Createable {
			names = append(names, f.Name)
		}
	}
	return names
}

// HasBinaryField reports whether the object carries base64 content.
func (m *ObjectMetadata) HasBinaryField() bool {
	return m.BinaryField != ""
}
