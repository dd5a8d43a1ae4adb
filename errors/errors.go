// Package errors provides error types and handling for S3 storage operations.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a storage operation error with context about the operation
// that failed. It wraps the underlying error with bucket/key context for
// better debugging.
type Error struct {
	// Op is the operation that failed (e.g., "upload", "download", "delete")
	Op string

	// Bucket is the bucket name (if applicable)
	Bucket string

	// Key is the object key (if applicable)
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("s3.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("s3.%s object %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithBucket adds bucket context to an existing error.
func (e *Error) WithBucket(bucket string) *Error {
	e.Bucket = bucket
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewObjectError creates a new Error with bucket and key context.
func NewObjectError(op, bucket, key string, err error) *Error {
	return &Error{
		Op:     op,
		Bucket: bucket,
		Key:    key,
		Err:    err,
	}
}

// StorageError is returned when the backend answers a request with a non-2xx
// status. It carries the HTTP status, the backend error code from the XML
// error envelope, and the request id for support correlation.
type StorageError struct {
	// Op is the operation that produced the response
	Op string

	// StatusCode is the HTTP status of the response
	StatusCode int

	// Code is the backend error code (e.g. "NoSuchKey", "SlowDown")
	Code string

	// Message is the human-readable message from the backend
	Message string

	// RequestID identifies the request on the backend side
	RequestID string

	// Bucket and Key locate the resource the request addressed
	Bucket string
	Key    string
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := fmt.Sprintf("s3.%s: %d %s", e.Op, e.StatusCode, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request id " + e.RequestID + ")"
	}
	return msg
}

// Unwrap maps well-known backend codes to sentinel errors so callers can use
// errors.Is without inspecting status codes.
func (e *StorageError) Unwrap() error {
	switch e.Code {
	case "NoSuchKey", "NotFound":
		return ErrObjectNotFound
	case "NoSuchBucket":
		return ErrBucketNotFound
	case "NoSuchUpload":
		return ErrUploadNotFound
	case "AccessDenied":
		return ErrAccessDenied
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return ErrBucketAlreadyExists
	case "BucketNotEmpty":
		return ErrBucketNotEmpty
	case "SlowDown", "TooManyRequests":
		return ErrTooManyRequests
	}
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrObjectNotFound
	case http.StatusForbidden:
		return ErrAccessDenied
	}
	return nil
}

// Retryable reports whether the failure is transient. Throttling and server
// errors may succeed on retry; other client errors never will.
func (e *StorageError) Retryable() bool {
	if e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	switch e.Code {
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
		return true
	}
	return false
}

// NotFound reports whether the response indicates a missing bucket or object.
func (e *StorageError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Sentinel errors for common storage operation failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrObjectNotFound indicates that the requested object does not exist
	ErrObjectNotFound = errors.New("s3: object not found")

	// ErrBucketNotFound indicates that the requested bucket does not exist
	ErrBucketNotFound = errors.New("s3: bucket not found")

	// ErrUploadNotFound indicates that the multipart upload id is unknown
	ErrUploadNotFound = errors.New("s3: multipart upload not found")

	// ErrAccessDenied indicates that access to the resource is denied
	ErrAccessDenied = errors.New("s3: access denied")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("s3: invalid input")

	// ErrBucketAlreadyExists indicates that the bucket already exists
	ErrBucketAlreadyExists = errors.New("s3: bucket already exists")

	// ErrBucketNotEmpty indicates that the bucket is not empty and cannot be deleted
	ErrBucketNotEmpty = errors.New("s3: bucket not empty")

	// ErrInvalidBucketName indicates that the bucket name is invalid
	ErrInvalidBucketName = errors.New("s3: invalid bucket name")

	// ErrInvalidObjectKey indicates that the object key is invalid
	ErrInvalidObjectKey = errors.New("s3: invalid object key")

	// ErrTooManyRequests indicates that the request rate is too high
	ErrTooManyRequests = errors.New("s3: too many requests")

	// ErrSigning indicates the request could not be signed (missing
	// credentials or malformed request). Never retried.
	ErrSigning = errors.New("s3: request signing failed")

	// ErrInvalidExpiry indicates a presign expiry outside the permitted range
	ErrInvalidExpiry = errors.New("s3: invalid presign expiry")

	// ErrRangeNotSatisfied indicates the server did not honor a ranged
	// request: wrong status, wrong length, or a full body for a partial ask
	ErrRangeNotSatisfied = errors.New("s3: range request not satisfied")

	// ErrTransferFailed indicates a chunk exhausted its retry budget or
	// source/destination validation failed
	ErrTransferFailed = errors.New("s3: transfer failed")

	// ErrResumeDataInvalid indicates persisted resume state that no longer
	// matches the source; the transfer restarts from scratch
	ErrResumeDataInvalid = errors.New("s3: resume data invalid")

	// ErrSourceChanged indicates the source fingerprint changed since the
	// transfer state was captured
	ErrSourceChanged = errors.New("s3: source changed since transfer started")
)

// Is reports whether any error in err's chain matches target. It mirrors
// the standard library so callers need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsObjectNotFound checks if an error indicates that an object was not found.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsBucketNotFound checks if an error indicates that a bucket was not found.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsAccessDenied checks if an error indicates access was denied.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Storage errors consult their status/code; signing and input validation
// failures never retry; everything else (network resets, timeouts) does.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSigning) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrRangeNotSatisfied) {
		return false
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
