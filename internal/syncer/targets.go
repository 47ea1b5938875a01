package syncer

import (
	"fmt"
	"sort"

	"github.com/hyperengineering/loansync/internal/mapping"
)

// ApplicationRecords is the name of the built-in application mirror target.
const ApplicationRecords = "application_records"

// Target describes one upstream collection mirrored into a local table.
type Target struct {
	ID         string
	Collection string
	Table      string
	Fields     mapping.Table
}

// Targets is a registry of sync targets keyed by ID.
type Targets struct {
	byID map[string]Target
}

// NewTargets validates and registers the given targets.
func NewTargets(targets ...Target) (*Targets, error) {
	t := &Targets{byID: make(map[string]Target, len(targets))}
	for _, target := range targets {
		if target.ID == "" || target.Collection == "" || target.Table == "" {
			return nil, fmt.Errorf("target %q: id, collection and table are required", target.ID)
		}
		if _, dup := t.byID[target.ID]; dup {
			return nil, fmt.Errorf("target %q registered twice", target.ID)
		}
		if err := target.Fields.Validate(); err != nil {
			return nil, fmt.Errorf("target %q: %w", target.ID, err)
		}
		t.byID[target.ID] = target
	}
	return t, nil
}

// DefaultTargets returns the registry holding the application mirror,
// reading rows from the given upstream collection.
func DefaultTargets(collection string) *Targets {
	if collection == "" {
		collection = "Application"
	}
	t, err := NewTargets(Target{
		ID:         ApplicationRecords,
		Collection: collection,
		Table:      "application_records",
		Fields:     mapping.ApplicationFields,
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Get returns the target with the given ID or ErrUnknownTarget.
func (t *Targets) Get(id string) (Target, error) {
	target, ok := t.byID[id]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownTarget, id)
	}
	return target, nil
}

// IDs returns the registered target IDs in sorted order.
func (t *Targets) IDs() []string {
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
