package relationship

import (
	"context"
	"fmt"

	"forcebackup/internal/schema"
)

// ExternalKeyStrategy names how records of an object are re-identified in a
// target org that assigns fresh record IDs.
type ExternalKeyStrategy string

const (
	// StrategyExternalID matches on a field flagged externalId.
	StrategyExternalID ExternalKeyStrategy = "EXTERNAL_ID"
	// StrategyUniqueField matches on a unique field without the externalId flag.
	StrategyUniqueField ExternalKeyStrategy = "UNIQUE_FIELD"
	// StrategyNameBased matches on the object's name field. Not guaranteed
	// unique; collisions resolve to the first match.
	StrategyNameBased ExternalKeyStrategy = "NAME_BASED"
	// StrategyPlatformID falls back to the source record ID. Only usable
	// when restoring into the org the data came from.
	StrategyPlatformID ExternalKeyStrategy = "PLATFORM_ID"
)

// KeySelection is the chosen strategy plus the fields that realize it.
type KeySelection struct {
	Strategy ExternalKeyStrategy `json:"strategy"`
	Fields   []string            `json:"fields,omitempty"`
}

// ChooseKeyStrategy picks the strongest available re-identification key for
// an object. Precedence: external ID, then unique field, then name field,
// then the platform record ID.
func ChooseKeyStrategy(md *schema.ObjectMetadata) KeySelection {
	if len(md.ExternalIDFields) > 0 {
		return KeySelection{Strategy: StrategyExternalID, Fields: []string{md.ExternalIDFields[0]}}
	}
	if len(md.UniqueFields) > 0 {
		return KeySelection{Strategy: StrategyUniqueField, Fields: []string{md.UniqueFields[0]}}
	}
	if md.NameField != "" {
		return KeySelection{Strategy: StrategyNameBased, Fields: []string{md.NameField}}
	}
	return KeySelection{Strategy: StrategyPlatformID, Fields: []string{"Id"}}
}

// Mapping records how one relationship field of an object is preserved
// across a backup/restore round trip.
type Mapping struct {
	// FieldName is the reference field, e.g. AccountId.
	FieldName string `json:"fieldName"`
	// RelationshipName is the traversal name, e.g. Account.
	RelationshipName string `json:"relationshipName"`
	// ReferenceTo lists the possible target objects.
	ReferenceTo []string `json:"referenceTo"`
	// Polymorphic is true when the field can point at several object types.
	Polymorphic bool `json:"polymorphic"`
	// TargetObject is the primary referenced object.
	TargetObject string `json:"targetObject"`
	// TargetExternalIDField is the referenced object's external ID field,
	// empty when it has none or the field is polymorphic.
	TargetExternalIDField string `json:"targetExternalIdField,omitempty"`
	// TargetNameField is the referenced object's name field, if any.
	TargetNameField string `json:"targetNameField,omitempty"`
	// Required is true for master-detail and required lookups.
	Required bool `json:"required"`
}

// BuildMappings derives the relationship mappings for an object. Referenced
// objects are described through the inspector to find their external ID and
// name fields; a describe failure degrades the mapping rather than failing
// the backup.
func BuildMappings(ctx context.Context, md *schema.ObjectMetadata, inspector *schema.Inspector) []Mapping {
	mappings := make([]Mapping, 0, len(md.RelationshipFields))

	for _, rel := range md.RelationshipFields {
		mapping := Mapping{
			FieldName:        rel.Field.Name,
			RelationshipName: rel.RelationshipName,
			ReferenceTo:      rel.ReferenceTo,
			Polymorphic:      rel.Polymorphic(),
			Required:         rel.Field.Required(),
		}
		if len(rel.ReferenceTo) > 0 {
			mapping.TargetObject = rel.ReferenceTo[0]
		}

		// Polymorphic targets have no single key field; name lookups only.
		if !mapping.Polymorphic && mapping.TargetObject != "" {
			if target, err := inspector.Describe(ctx, mapping.TargetObject); err == nil {
				if len(target.ExternalIDFields) > 0 {
					mapping.TargetExternalIDField = target.ExternalIDFields[0]
				}
				mapping.TargetNameField = target.NameField
			}
		}

		mappings = append(mappings, mapping)
	}

	return mappings
}

// SidecarPrefix marks backup columns that carry relationship keys rather
// than object fields. They are consumed at restore time and never written
// back to the org.
const SidecarPrefix = "_rel_"

// SidecarColumn is one extra backup column and the SOQL expression that
// populates it.
type SidecarColumn struct {
	// Name is the CSV column, e.g. _rel_Account_ExternalId.
	Name string
	// Expression is the SOQL traversal, e.g. Account.ExtKey__c.
	Expression string
	// Mapping is the relationship the column serves.
	Mapping Mapping
}

// ExternalIDColumn returns the sidecar column name carrying a
// relationship's external ID value.
func ExternalIDColumn(relationshipName string) string {
	return fmt.Sprintf("%s%s_ExternalId", SidecarPrefix, relationshipName)
}

// NameColumn returns the sidecar column name carrying a relationship's
// display name value.
func NameColumn(relationshipName string) string {
	return fmt.Sprintf("%s%s_Name", SidecarPrefix, relationshipName)
}

// AdditionalBackupColumns returns the sidecar columns to append to an
// object's extraction query so restores can re-link records without source
// IDs. Relationships without a traversal name contribute nothing.
func AdditionalBackupColumns(mappings []Mapping) []SidecarColumn {
	var columns []SidecarColumn

	for _, m := range mappings {
		if m.RelationshipName == "" {
			continue
		}
		if m.TargetExternalIDField != "" {
			columns = append(columns, SidecarColumn{
				Name:       ExternalIDColumn(m.RelationshipName),
				Expression: m.RelationshipName + "." + m.TargetExternalIDField,
				Mapping:    m,
			})
		}
		if m.TargetNameField != "" {
			columns = append(columns, SidecarColumn{
				Name:       NameColumn(m.RelationshipName),
				Expression: m.RelationshipName + "." + m.TargetNameField,
				Mapping:    m,
			})
		}
	}

	return columns
}
