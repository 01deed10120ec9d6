package schema

import (
	"context"
	"sync"

	"forcebackup/internal/errors"
	"forcebackup/internal/logging"
	"forcebackup/internal/salesforce"
)

// Describer is the slice of the API client the inspector needs.
type Describer interface {
	DescribeObject(ctx context.Context, object string) (*salesforce.DescribeResult, error)
}

// Inspector fetches and caches object metadata for a run. Describe results
// never change mid-run, so every object is fetched at most once.
type Inspector struct {
	client Describer
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]*ObjectMetadata
}

// NewInspector creates an inspector backed by the given API client.
func NewInspector(client Describer, logger *logging.Logger) *Inspector {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Inspector{
		client: client,
		logger: logger,
		cache:  make(map[string]*ObjectMetadata),
	}
}

// Describe returns the metadata for an object, fetching it on first use.
func (i *Inspector) Describe(ctx context.Context, object string) (*ObjectMetadata, error) {
	i.mu.RLock()
	if md, ok := i.cache[object]; ok {
		i.mu.RUnlock()
		return md, nil
	}
	i.mu.RUnlock()

	result, err := i.client.DescribeObject(ctx, object)
	if err != nil {
		return nil, errors.WrapError(err, "failed to describe object "+object)
	}

	md := buildMetadata(result)
	i.logger.WithFields(map[string]interface{}{
		"object":        object,
		"fields":        len(md.Fields),
		"relationships": len(md.RelationshipFields),
		"external_ids":  len(md.ExternalIDFields),
	}).Debug("Object described")

	i.mu.Lock()
	i.cache[object] = md
	i.mu.Unlock()
	return md, nil
}

// Cached returns metadata already fetched this run, nil when absent.
func (i *Inspector) Cached(object string) *ObjectMetadata {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cache[object]
}

func buildMetadata(result *salesforce.DescribeResult) *ObjectMetadata {
	md := &ObjectMetadata{
		Name:       result.Name,
		Label:      result.Label,
		Queryable:  result.Queryable,
		Createable: result.Createable,
		Updateable: result.Updateable,
		Custom:     result.Custom,
		Fields:     make([]FieldInfo, 0, len(result.Fields)),
	}

	for _, df := range result.Fields {
		field := FieldInfo{
			Name:              df.Name,
			Label:             df.Label,
			Type:              df.Type,
			Length:            df.Length,
			Nillable:          df.Nillable,
			Unique:            df.Unique,
			ExternalID:        df.ExternalID,
			IDLookup:          df.IDLookup,
			NameField:         df.NameField,
			Createable:        df.Createable,
			Updateable:        df.Updateable,
			Calculated:        df.Calculated,
			AutoNumber:        df.AutoNumber,
			DefaultedOnCreate: df.DefaultedOnCreate,
			ReferenceTo:       df.ReferenceTo,
			RelationshipName:  df.RelationshipName,
		}
		md.Fields = append(md.Fields, field)

		if field.ExternalID {
			md.ExternalIDFields = append(md.ExternalIDFields, field.Name)
		} else if field.Unique {
			md.UniqueFields = append(md.UniqueFields, field.Name)
		}
		// Objects report a single name field
		if field.NameField && md.NameField == "" {
			md.NameField = field.Name
		}
		if field.IsBinary() && md.BinaryField == "" {
			md.BinaryField = field.Name
		}
		if field.IsReference() {
			md.RelationshipFields = append(md.RelationshipFields, RelationshipField{
				Field:            field,
				ReferenceTo:      field.ReferenceTo,
				RelationshipName: field.RelationshipName,
			})
		}
	}

	return md
}
