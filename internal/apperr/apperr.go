// Package apperr groups the sentinel error kinds the subsystems raise,
// grouped the way the spec's error-handling design groups them, and a
// stack-trace-carrying Wrap adapted from the teacher's own error helper.
package apperr

import (
	"fmt"

	"github.com/go-errors/errors"
)

// Kind identifies which subsystem raised an error, for callers that want to
// branch on it (e.g. HTTP status mapping in the artifact API) without
// string-matching messages.
type Kind string

const (
	// Configuration
	KindMissingRequiredPath Kind = "missing_required_path"
	KindInvalidEnum         Kind = "invalid_enum"

	// Session
	KindUnknownSession        Kind = "unknown_session"
	KindHealthTimeout         Kind = "health_timeout"
	KindContainerCreateFailed Kind = "container_create_failed"
	KindNetworkUnreachable    Kind = "network_unreachable"

	// Container I/O
	KindPathIsDirectory        Kind = "path_is_directory"
	KindMkdirFailed            Kind = "mkdir_failed"
	KindPutArchiveFailed       Kind = "put_archive_failed"
	KindCopyOutFailed          Kind = "copy_out_failed"
	KindFileNotFoundInContainer Kind = "file_not_found_in_container"

	// Dataset
	KindFetchFailed Kind = "fetch_failed"
	KindStageFailed Kind = "stage_failed"

	// Artifact
	KindTooLarge         Kind = "too_large"
	KindBlobMissing      Kind = "blob_missing"
	KindDuplicateShaRace Kind = "duplicate_sha_race"
	KindDBError          Kind = "db_error"

	// Token
	KindInvalidFormat     Kind = "invalid_format"
	KindInvalidSignature  Kind = "invalid_signature"
	KindExpired           Kind = "expired"
	KindMismatchedArtifact Kind = "mismatched_artifact"
)

// Error carries a Kind alongside the wrapped cause, so callers can
// errors.As into it to inspect Kind while %v/%w still unwraps normally.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrapf builds a kinded error wrapping cause, formatting msg like fmt.Sprintf.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Is lets errors.Is(err, apperr.New(kind, "")) match purely on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Wrap adds a stack trace to err for the sake of showing one at the top
// level, the way the teacher's commands.WrapError does. Returns nil for a
// nil err so callers can wrap unconditionally.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, 1)
}
