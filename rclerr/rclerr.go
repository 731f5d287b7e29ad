// Package rclerr declares the typed error kinds surfaced by the indexing
// and query core (spec §7). Leaf packages return these directly or wrap
// them with fmt.Errorf("...: %w", ...); callers use errors.As to recover
// the kind when they need to react to it (retry, report, abort cleanly).
package rclerr

import "fmt"

// StoreOpenError is returned when opening the posting store fails, either
// because of an I/O error or because the store's descriptor format version
// does not match RCL_IDX_VERSION_KEY.
type StoreOpenError struct {
	Path string
	Err  error
}

func (e *StoreOpenError) Error() string {
	return fmt.Sprintf("open store %q: %s", e.Path, e.Err)
}

func (e *StoreOpenError) Unwrap() error { return e.Err }

// StoreCorruptError signals that a read from the store failed in a way
// that is worth retrying once by reopening the read handle.
type StoreCorruptError struct {
	Err error
}

func (e *StoreCorruptError) Error() string { return fmt.Sprintf("store corrupt: %s", e.Err) }
func (e *StoreCorruptError) Unwrap() error { return e.Err }

// StoreModifiedError signals the read handle observed the store change
// underneath it (a commit raced the read); also worth one reopen+retry.
type StoreModifiedError struct {
	Err error
}

func (e *StoreModifiedError) Error() string { return fmt.Sprintf("store modified: %s", e.Err) }
func (e *StoreModifiedError) Unwrap() error { return e.Err }

// QueryExpansionOverflowError is returned when a single query term would
// expand (via stemming, wildcard, or synonyms) past maxTermExpand.
type QueryExpansionOverflowError struct {
	Term  string
	Limit int
	Got   int
}

func (e *QueryExpansionOverflowError) Error() string {
	return fmt.Sprintf("term %q expands to %d terms, exceeding the limit of %d; "+
		"try enabling case or diacritic sensitivity to narrow the match", e.Term, e.Got, e.Limit)
}

// MaxClausesError is returned when the compiled query tree would exceed
// maxXapianClauses leaves.
type MaxClausesError struct {
	Limit int
}

func (e *MaxClausesError) Error() string {
	return fmt.Sprintf("query compiles to more than %d clauses; narrow the search", e.Limit)
}

// UnknownFieldError is returned when a clause names a field that has no
// FieldTraits entry in the index being queried.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string { return fmt.Sprintf("unknown field %q", e.Field) }

// BadRangeError is returned when a RANGE clause's bounds cannot be
// normalized against the field's declared value slot type.
type BadRangeError struct {
	Field  string
	Reason string
}

func (e *BadRangeError) Error() string {
	return fmt.Sprintf("bad range on field %q: %s", e.Field, e.Reason)
}

// ExternalSplitterError records a failure of the external CJK splitter
// helper process. It is never fatal to indexing: the document continues
// with no Chinese tokenization for the affected batch.
type ExternalSplitterError struct {
	Tagger    string
	Err       error
	Permanent bool
}

func (e *ExternalSplitterError) Error() string {
	return fmt.Sprintf("external splitter %q failed: %s", e.Tagger, e.Err)
}
func (e *ExternalSplitterError) Unwrap() error { return e.Err }

// IndexFullError describes the filesystem holding the index crossing
// maxfsoccuppc. No package in this module returns it: the indexer's flush
// policy reports that condition with its own unexported error type, and
// the scheduler's writer logs that error and goes on with the next task.
type IndexFullError struct {
	Path    string
	PctUsed int
}

func (e *IndexFullError) Error() string {
	return fmt.Sprintf("filesystem at %q is %d%% full, aborting indexing", e.Path, e.PctUsed)
}

// CancelledError propagates a cooperative cancellation. Partial commits
// made before cancellation are preserved.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "indexing cancelled" }
