package ingest

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrorKind is the stable code of a pipeline error or warning.
type ErrorKind string

// Validation kinds raised by the record normalizer.
const (
	KindRequiredFieldEmpty    ErrorKind = "REQUIRED_FIELD_EMPTY"
	KindWrongType             ErrorKind = "WRONG_TYPE"
	KindValidationFailed      ErrorKind = "VALIDATION_FAILED"
	KindUnrecognizedField     ErrorKind = "UNRECOGNIZED_FIELD"
	KindRecommendedFieldEmpty ErrorKind = "RECOMMENDED_FIELD_EMPTY"
)

// Image content kinds raised by the image store and indexer.
const (
	KindMalformedImage     ErrorKind = "MALFORMED_IMAGE"
	KindEmptyImage         ErrorKind = "EMPTY_IMAGE"
	KindTooSmall           ErrorKind = "TOO_SMALL"
	KindNewVersion         ErrorKind = "NEW_VERSION"
	KindDuplicateImage     ErrorKind = "DUPLICATE_IMAGE"
	KindImageSizeTooSmall  ErrorKind = "IMAGE_SIZE_TOO_SMALL"
	KindImageNotFound      ErrorKind = "IMAGE_NOT_FOUND"
	KindNoImagesFound      ErrorKind = "NO_IMAGES_FOUND"
	KindSimilarityFailure  ErrorKind = "SIMILARITY_ERROR"
	KindUploadError        ErrorKind = "UPLOAD_ERROR"
	KindErrorReadingZip    ErrorKind = "ERROR_READING_ZIP"
	KindZipFileEmpty       ErrorKind = "ZIP_FILE_EMPTY"
	KindErrorReadingData   ErrorKind = "ERROR_READING_DATA"
	KindErrorSaving        ErrorKind = "ERROR_SAVING"
	KindErrorDeleting      ErrorKind = "ERROR_DELETING"
	KindAbandoned          ErrorKind = "ABANDONED"
	KindUnknownSource      ErrorKind = "UNKNOWN_SOURCE"
	KindInvalidTransition  ErrorKind = "INVALID_TRANSITION"
	KindDownloadError      ErrorKind = "DOWNLOAD_ERROR"
	KindUnsupportedContent ErrorKind = "UNSUPPORTED_CONTENT"
)

// Issue is the persisted form of an error or warning attached to an item.
type Issue struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Error is the tagged error type used across the pipeline.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// Errorf builds an Error with a formatted detail.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with kind. A nil cause still yields an Error.
func Wrap(kind ErrorKind, cause error) *Error {
	e := &Error{Kind: kind, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Issue converts the error to its persisted form.
func (e *Error) Issue() Issue {
	return Issue{Kind: e.Kind, Detail: e.Detail}
}

// KindOf returns the kind of the first Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IssueOf converts any error into an Issue. Untagged errors become
// fallback-kind issues carrying the error text.
func IssueOf(err error, fallback ErrorKind) Issue {
	var e *Error
	if errors.As(err, &e) {
		return e.Issue()
	}
	return Issue{Kind: fallback, Detail: err.Error()}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
