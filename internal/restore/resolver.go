package restore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/logging"
	"forcebackup/internal/relationship"
)

// soqlBatchSize bounds the IN (...) list of a lookup query.
const soqlBatchSize = 100

// QueryClient is the slice of the API client the resolver needs.
type QueryClient interface {
	Query(ctx context.Context, soql string) ([]map[string]interface{}, error)
}

// Resolver rewrites source-org reference values into target-org IDs. The
// precedence per value is: ID mapping from this or an earlier restore, then
// a target lookup through the relationship's external key sidecar, then
// null plus a warning. A record is never dropped for an unresolvable
// reference.
type Resolver struct {
	api    QueryClient
	store  *relationship.MappingStore
	logger *logging.Logger

	mu sync.Mutex
	// cache: target object -> lookup field -> value -> target ID
	cache map[string]map[string]map[string]string
}

// NewResolver creates a resolver backed by the run's ID mapping store.
func NewResolver(api QueryClient, store *relationship.MappingStore, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Resolver{
		api:    api,
		store:  store,
		logger: logger,
		cache:  make(map[string]map[string]map[string]string),
	}
}

// Resolution is the outcome for one reference field of one row.
type Resolution struct {
	// TargetID is the rewritten value, empty when the reference nulls out.
	TargetID string
	// Unresolved is set when neither the ID mapping nor a target lookup
	// produced a match.
	Unresolved bool
}

// Resolve rewrites one reference field of one row.
func (r *Resolver) Resolve(ctx context.Context, object string, mapping relationship.Mapping, row map[string]string) (Resolution, error) {
	sourceID := row[mapping.FieldName]
	if sourceID == "" {
		return Resolution{}, nil
	}

	// Pass 1: ID mappings recorded while restoring the referenced object.
	for _, target := range referenceCandidates(mapping) {
		idMap, err := r.store.Get(target)
		if err != nil {
			return Resolution{}, err
		}
		if targetID, ok := idMap.Lookup(sourceID); ok {
			return Resolution{TargetID: targetID}, nil
		}
	}

	// Pass 2: look the record up in the target org by its external key.
	if !mapping.Polymorphic && mapping.TargetObject != "" {
		if mapping.TargetExternalIDField != "" {
			value := row[relationship.ExternalIDColumn(mapping.RelationshipName)]
			if value != "" {
				targetID, err := r.lookup(ctx, mapping.TargetObject, mapping.TargetExternalIDField, value)
				if err != nil {
					return Resolution{}, err
				}
				if targetID != "" {
					return Resolution{TargetID: targetID}, nil
				}
			}
		}
		if mapping.TargetNameField != "" {
			value := row[relationship.NameColumn(mapping.RelationshipName)]
			if value != "" {
				targetID, err := r.lookup(ctx, mapping.TargetObject, mapping.TargetNameField, value)
				if err != nil {
					return Resolution{}, err
				}
				if targetID != "" {
					return Resolution{TargetID: targetID}, nil
				}
			}
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"object": object,
		"field":  mapping.FieldName,
		"value":  sourceID,
	}).Warn("Relationship value unresolved, writing null")
	return Resolution{Unresolved: true}, nil
}

// Prime batch-loads the lookup cache for a set of values ahead of Resolve
// calls, keeping the per-row path query-free.
func (r *Resolver) Prime(ctx context.Context, targetObject, field string, values []string) error {
	missing := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))

	r.mu.Lock()
	fieldCache := r.fieldCacheLocked(targetObject, field)
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		if _, ok := fieldCache[v]; !ok {
			missing = append(missing, v)
		}
	}
	r.mu.Unlock()

	for start := 0; start < len(missing); start += soqlBatchSize {
		end := start + soqlBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		if err := r.queryBatch(ctx, targetObject, field, missing[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) lookup(ctx context.Context, targetObject, field, value string) (string, error) {
	r.mu.Lock()
	fieldCache := r.fieldCacheLocked(targetObject, field)
	targetID, ok := fieldCache[value]
	r.mu.Unlock()
	if ok {
		return targetID, nil
	}

	if err := r.queryBatch(ctx, targetObject, field, []string{value}); err != nil {
		return "", err
	}

	r.mu.Lock()
	targetID = r.fieldCacheLocked(targetObject, field)[value]
	r.mu.Unlock()
	return targetID, nil
}

// fieldCacheLocked returns the value cache for one lookup field. Caller
// holds r.mu.
func (r *Resolver) fieldCacheLocked(targetObject, field string) map[string]string {
	byField, ok := r.cache[targetObject]
	if !ok {
		byField = make(map[string]map[string]string)
		r.cache[targetObject] = byField
	}
	byValue, ok := byField[field]
	if !ok {
		byValue = make(map[string]string)
		byField[field] = byValue
	}
	return byValue
}

func (r *Resolver) queryBatch(ctx context.Context, targetObject, field string, values []string) error {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + escapeSOQL(v) + "'"
	}
	soql := fmt.Sprintf("SELECT Id, %s FROM %s WHERE %s IN (%s)",
		field, targetObject, field, strings.Join(quoted, ", "))

	records, err := r.api.Query(ctx, soql)
	if err != nil {
		return apperrors.WrapError(err, "target lookup failed for "+targetObject+"."+field)
	}

	r.mu.Lock()
	fieldCache := r.fieldCacheLocked(targetObject, field)
	// negative-cache misses so repeated values do not re-query
	for _, v := range values {
		if _, ok := fieldCache[v]; !ok {
			fieldCache[v] = ""
		}
	}
	for _, record := range records {
		value, _ := record[field].(string)
		id, _ := record["Id"].(string)
		if value != "" && id != "" {
			if fieldCache[value] == "" {
				fieldCache[value] = id
			}
		}
	}
	r.mu.Unlock()
	return nil
}

func escapeSOQL(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, "'", `\'`)
}

func referenceCandidates(mapping relationship.Mapping) []string {
	if len(mapping.ReferenceTo) > 0 {
		return mapping.ReferenceTo
	}
	if mapping.TargetObject != "" {
		return []string{mapping.TargetObject}
	}
	return nil
}
