package lexgraph

import (
	"errors"

	"github.com/lexgraph/lexgraph/schema"
	"github.com/lexgraph/lexgraph/store"
	"github.com/lexgraph/lexgraph/translate"
	"github.com/lexgraph/lexgraph/vector"
)

// Sentinel errors re-exported from the packages that detect them, so callers
// can match with errors.Is against the root package alone.
var (
	// ErrSchemaViolation is returned when a write names an unknown label,
	// relationship, property, or clause type, or fails a kind check.
	ErrSchemaViolation = schema.ErrViolation

	// ErrNotFound is returned when a lookup targets an id that does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrQueryExecution is returned when a structured query fails to run.
	ErrQueryExecution = store.ErrQueryExecution

	// ErrDimensionMismatch is returned when a vector's length does not match
	// the configured embedding dimension.
	ErrDimensionMismatch = vector.ErrDimensionMismatch

	// ErrInvalidArgument is returned for out-of-range operation parameters.
	ErrInvalidArgument = vector.ErrInvalidArgument

	// ErrTranslationFailed is returned when query translation exhausts its
	// retry budget without producing a valid query.
	ErrTranslationFailed = translate.ErrTranslationFailed

	// ErrTimeout is returned when an operation exceeds its configured deadline.
	ErrTimeout = errors.New("lexgraph: operation timed out")
)
