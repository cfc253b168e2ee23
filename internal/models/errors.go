package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyAdmission means an admission has no usable events.
	ErrEmptyAdmission = errors.New("admission has no valid events")
	// ErrMalformedQuadruple means a single event was rejected.
	ErrMalformedQuadruple = errors.New("malformed quadruple")
	// ErrAdmissionNotFound means no admission exists with the requested id.
	ErrAdmissionNotFound = errors.New("admission not found")
	// ErrInvalidQuery means a similarity or concept query failed validation.
	ErrInvalidQuery = errors.New("invalid query")
)

// EmptyAdmissionError is returned when an admission has zero valid quadruples.
// The admission is skipped; the batch continues.
type EmptyAdmissionError struct {
	AdmissionID string
}

func (e *EmptyAdmissionError) Error() string {
	return fmt.Sprintf("admission %s: %v", e.AdmissionID, ErrEmptyAdmission)
}

func (e *EmptyAdmissionError) Unwrap() error { return ErrEmptyAdmission }

// MalformedQuadrupleError describes one dropped event.
type MalformedQuadrupleError struct {
	AdmissionID string
	// Index is the event's position in the input.
	Index  int
	Reason string
}

func (e *MalformedQuadrupleError) Error() string {
	return fmt.Sprintf("admission %s event %d: %v: %s", e.AdmissionID, e.Index, ErrMalformedQuadruple, e.Reason)
}

func (e *MalformedQuadrupleError) Unwrap() error { return ErrMalformedQuadruple }

var (
	// ErrDimensionMismatch means a vector does not match the index dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyIndex means a query was issued against an index with no entries.
	ErrEmptyIndex = errors.New("similarity index is empty")
)

// DimensionMismatchError reports the expected and actual vector lengths.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%v: expected %d, got %d", ErrDimensionMismatch, e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// DuplicateAdmissionWarning records that an upsert replaced an existing entry.
// It is logged, never returned as a failure.
type DuplicateAdmissionWarning struct {
	AdmissionID string
}

func (w *DuplicateAdmissionWarning) Error() string {
	return fmt.Sprintf("admission %s already indexed; vector replaced", w.AdmissionID)
}
