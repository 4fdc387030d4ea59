// Package runtime provides the error taxonomy and database plumbing shared by the engine.
package runtime

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrDanglingReference is returned when a foreign key points at a missing record.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrCardinalityViolation is returned when a one-to-one bound would be exceeded.
	ErrCardinalityViolation = errors.New("cardinality violation")

	// ErrDuplicateLink is returned when a junction pair already exists.
	ErrDuplicateLink = errors.New("duplicate link")

	// ErrRestrictedDeletion is returned when a delete is blocked by dependents.
	ErrRestrictedDeletion = errors.New("restricted deletion")

	// ErrConcurrentModification is returned when a record changed under the caller.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrCyclicCascade is returned when cascade rules form a cycle.
	ErrCyclicCascade = errors.New("cyclic cascade")

	// ErrStorageUnavailable is returned when the persistence backend fails.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnknownEntityKind is returned for kinds missing from the registry.
	ErrUnknownEntityKind = errors.New("unknown entity kind")

	// ErrUnknownRelationship is returned for relationship names missing from a kind.
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrRegistryFrozen is returned when registering after the registry was frozen.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrNoConnection is returned when no database connection is available.
	ErrNoConnection = errors.New("no database connection")
)

// ValidationError represents a field-level validation error.
type ValidationError struct {
	Kind   string
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation error on %s.%s: %s", e.Kind, e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Key, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DanglingReferenceError is returned when a foreign key value has no matching record.
type DanglingReferenceError struct {
	Kind           string
	Field          string
	ReferencedKind string
	ReferencedID   any
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s.%s references missing %s %v", e.Kind, e.Field, e.ReferencedKind, e.ReferencedID)
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// CardinalityError is returned when a parent already holds its single allowed child.
type CardinalityError struct {
	Kind       string
	Field      string
	ParentKind string
	ParentKey  string
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("%s %s already has a %s (via %s)", e.ParentKind, e.ParentKey, e.Kind, e.Field)
}

func (e *CardinalityError) Is(target error) bool { return target == ErrCardinalityViolation }

// DuplicateLinkError is returned when a junction record with the same key exists.
type DuplicateLinkError struct {
	Kind string
	Key  string
}

func (e *DuplicateLinkError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Key)
}

func (e *DuplicateLinkError) Is(target error) bool { return target == ErrDuplicateLink }

// RestrictedDeletionError is returned when dependents block a delete.
type RestrictedDeletionError struct {
	Kind          string
	Key           string
	DependentKind string
	Field         string
	Dependents    int
}

func (e *RestrictedDeletionError) Error() string {
	return fmt.Sprintf("%s %s still referenced by %d %s record(s) via %s",
		e.Kind, e.Key, e.Dependents, e.DependentKind, e.Field)
}

func (e *RestrictedDeletionError) Is(target error) bool { return target == ErrRestrictedDeletion }

// ConcurrentModificationError is returned when the stored version differs from the expected one.
type ConcurrentModificationError struct {
	Kind     string
	Key      string
	Expected int64
	Actual   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s modified concurrently: expected version %d, found %d",
		e.Kind, e.Key, e.Expected, e.Actual)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// CyclicCascadeError reports the kinds forming a cascade cycle.
type CyclicCascadeError struct {
	Path []string
}

func (e *CyclicCascadeError) Error() string {
	return fmt.Sprintf("cyclic cascade: %s", strings.Join(e.Path, " -> "))
}

func (e *CyclicCascadeError) Is(target error) bool { return target == ErrCyclicCascade }

// StorageError wraps a persistence backend failure.
type StorageError struct {
	Op   string
	Kind string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// UnknownEntityKindError names the undeclared kind.
type UnknownEntityKindError struct {
	Kind string
}

func (e *UnknownEntityKindError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownEntityKind, e.Kind)
}

func (e *UnknownEntityKindError) Is(target error) bool { return target == ErrUnknownEntityKind }

// UnknownRelationshipError names the undeclared relationship.
type UnknownRelationshipError struct {
	Kind string
	Name string
}

func (e *UnknownRelationshipError) Error() string {
	return fmt.Sprintf("%v: %s.%s", ErrUnknownRelationship, e.Kind, e.Name)
}

func (e *UnknownRelationshipError) Is(target error) bool { return target == ErrUnknownRelationship }

// QueryError represents a query execution error.
type QueryError struct {
	Query string
	Err   error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v\nQuery: %s", e.Err, e.Query)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStorageUnavailable)
}
