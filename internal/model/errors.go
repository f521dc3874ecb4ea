package model

import (
	"errors"
	"fmt"
)

// Error kinds, matched with errors.Is
var (
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrSubmissionRejected    = errors.New("submission rejected")
	ErrPollingFailed         = errors.New("polling failed")
	ErrPollingTimedOut       = errors.New("polling timed out")
	ErrDownloadFailed        = errors.New("package download failed")
	ErrCorruptPackage        = errors.New("corrupt package")
	ErrMalformedDocument     = errors.New("malformed document")
	ErrPersistence           = errors.New("persistence error")
	ErrAuthRefreshFailed     = errors.New("auth refresh failed")
	ErrUnauthorized          = errors.New("unauthorized")
)

// Stage names the pipeline step a batch-level failure happened in
type Stage string

const (
	StageCredential  Stage = "credential"
	StageAuth        Stage = "authentication"
	StageSubmission  Stage = "submission"
	StagePolling     Stage = "polling"
	StageDownload    Stage = "download"
	StageExtraction  Stage = "extraction"
	StagePersistence Stage = "persistence"
)

// StageError is a batch-level failure that aborts a run
type StageError struct {
	Stage   Stage
	Kind    error
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// Is matches the error kind as well as the wrapped cause
func (e *StageError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// NewStageError creates a new stage error
func NewStageError(stage Stage, kind error, message string, cause error) *StageError {
	return &StageError{
		Stage:   stage,
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// ExtractError is a per-document failure; it never aborts a batch
type ExtractError struct {
	Path    string
	Field   string
	Message string
	Cause   error
}

func (e *ExtractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Path, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Path, e.Field, e.Message)
}

func (e *ExtractError) Unwrap() error {
	return e.Cause
}

func (e *ExtractError) Is(target error) bool {
	return target == ErrMalformedDocument
}

// NewExtractError creates a new extraction error
func NewExtractError(path, field, message string, cause error) *ExtractError {
	return &ExtractError{
		Path:    path,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// PackageError is a per-archive failure; sibling archives still unpack
type PackageError struct {
	PackageID string
	Path      string
	Cause     error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("package %s (%s): %v", e.PackageID, e.Path, e.Cause)
}

func (e *PackageError) Unwrap() error {
	return e.Cause
}

func (e *PackageError) Is(target error) bool {
	return target == ErrCorruptPackage
}

// NewPackageError creates a new package error
func NewPackageError(packageID, path string, cause error) *PackageError {
	return &PackageError{
		PackageID: packageID,
		Path:      path,
		Cause:     cause,
	}
}

// ValidationError represents invalid caller input
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}
