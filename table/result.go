package table

import (
	"github.com/stevemurr/itable/errs"
	"github.com/stevemurr/itable/schema"
)

// InsertResult is the outcome of Insert or Replace.
//
// Exactly one of these holds:
//   - OK(): the record was stored at Position under Key;
//   - Violations is non-empty: the record failed validation;
//   - Duplicate is true: Key is already taken.
type InsertResult struct {
	Position   int                `json:"position"`
	Key        schema.Key         `json:"key,omitempty"`
	Violations []schema.Violation `json:"violations,omitempty"`
	Duplicate  bool               `json:"duplicate,omitempty"`

	keyFields []string
}

// OK reports whether the record was accepted.
func (r InsertResult) OK() bool {
	return len(r.Violations) == 0 && !r.Duplicate
}

// Err converts a rejection into an error: SHAPE_VIOLATION or DUPLICATE_KEY.
// It returns nil for an accepted record.
func (r InsertResult) Err() error {
	switch {
	case len(r.Violations) > 0:
		return schema.ViolationError(r.Violations)
	case r.Duplicate:
		return errs.Newf(errs.CategoryValidation, errs.CodeDuplicateKey,
			"a record with key %s already exists", r.Key.Format(r.keyFields)).
			WithDetails(map[string]any{"key": r.Key, "fields": r.keyFields})
	}
	return nil
}
