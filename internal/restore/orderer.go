package restore

import (
	"sort"

	"forcebackup/internal/logging"
	"forcebackup/internal/relationship"
)

// priorityObjects are restored ahead of everything else when present:
// platform reference data most other objects point at.
var priorityObjects = []string{
	"User", "RecordType", "BusinessHours", "Organization",
	"UserRole", "Profile", "PermissionSet", "Group",
}

// Plan is the computed restore order plus the reference fields that must
// wait for the follow-up pass because they close a dependency cycle.
type Plan struct {
	// Order lists objects so every object comes after the objects it
	// requires, except for deferred edges.
	Order []string
	// Deferred maps an object to the reference fields written in the
	// second pass. Rows are inserted with these fields null first.
	Deferred map[string][]string
}

// DeferredFields returns the second-pass fields of an object.
func (p *Plan) DeferredFields(object string) []string {
	return p.Deferred[object]
}

// Orderer computes restore order from the backup manifest's relationship
// mappings. It never talks to an org: the manifest already carries the
// graph.
type Orderer struct {
	logger *logging.Logger
}

// NewOrderer creates an orderer.
func NewOrderer(logger *logging.Logger) *Orderer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Orderer{logger: logger}
}

// edge is one dependency with the fields that realize it.
type edge struct {
	to     string
	fields []string
}

// Order plans the restore of the given objects. Dependencies come from
// relationship mappings between objects both present in the set, required
// and optional alike; cycles, self-references included, are broken by
// deferring the closing field to the second pass so the reference is
// written back instead of being nulled.
func (o *Orderer) Order(manifest *relationship.Manifest, objects []string) *Plan {
	inSet := make(map[string]bool, len(objects))
	for _, obj := range objects {
		inSet[obj] = true
	}

	plan := &Plan{Deferred: make(map[string][]string)}

	// Dependency edges per object. Self-references are deferred outright:
	// a row's parent in the same object may come later in the same file.
	deps := make(map[string][]edge, len(objects))
	for _, obj := range objects {
		entry := manifest.Object(obj)
		if entry == nil {
			continue
		}

		byTarget := make(map[string][]string)
		for _, m := range entry.Mappings {
			for _, ref := range m.ReferenceTo {
				if !inSet[ref] {
					continue
				}
				if ref == obj {
					o.deferField(plan, obj, m.FieldName)
					continue
				}
				byTarget[ref] = append(byTarget[ref], m.FieldName)
			}
		}

		targets := make([]string, 0, len(byTarget))
		for target := range byTarget {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			deps[obj] = append(deps[obj], edge{to: target, fields: byTarget[target]})
		}
	}

	visited := make(map[string]bool, len(objects))
	onPath := make(map[string]bool, len(objects))

	var visit func(node string)
	visit = func(node string) {
		if visited[node] {
			return
		}
		onPath[node] = true
		for _, e := range deps[node] {
			if onPath[e.to] {
				// Cycle: write these fields in the second pass instead of
				// forcing an unsatisfiable order.
				o.logger.WithFields(map[string]interface{}{
					"object": node,
					"target": e.to,
					"fields": e.fields,
				}).Warn("Dependency cycle detected, deferring reference fields")
				for _, f := range e.fields {
					o.deferField(plan, node, f)
				}
				continue
			}
			visit(e.to)
		}
		onPath[node] = false
		visited[node] = true
		plan.Order = append(plan.Order, node)
	}

	for _, obj := range priorityObjects {
		if inSet[obj] {
			visit(obj)
		}
	}
	remaining := make([]string, 0, len(objects))
	for _, obj := range objects {
		if !visited[obj] {
			remaining = append(remaining, obj)
		}
	}
	sort.Strings(remaining)
	for _, obj := range remaining {
		visit(obj)
	}

	return plan
}

func (o *Orderer) deferField(plan *Plan, object, field string) {
	for _, f := range plan.Deferred[object] {
		if f == field {
			return
		}
	}
	plan.Deferred[object] = append(plan.Deferred[object], field)
}

// Violations checks an order against the manifest's required dependencies,
// ignoring deferred fields. Used by tests and the dry-run report.
func (o *Orderer) Violations(manifest *relationship.Manifest, plan *Plan) []string {
	position := make(map[string]int, len(plan.Order))
	for i, obj := range plan.Order {
		position[obj] = i
	}
	deferred := make(map[string]map[string]bool)
	for obj, fields := range plan.Deferred {
		deferred[obj] = make(map[string]bool, len(fields))
		for _, f := range fields {
			deferred[obj][f] = true
		}
	}

	var violations []string
	for _, obj := range plan.Order {
		entry := manifest.Object(obj)
		if entry == nil {
			continue
		}
		for _, m := range entry.Mappings {
			if !m.Required || deferred[obj][m.FieldName] {
				continue
			}
			for _, ref := range m.ReferenceTo {
				refPos, ok := position[ref]
				if !ok || ref == obj {
					continue
				}
				if refPos > position[obj] {
					violations = append(violations,
						obj+" depends on "+ref+" via "+m.FieldName+" but comes first")
				}
			}
		}
	}
	return violations
}
