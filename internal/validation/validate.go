// Package validation checks user-supplied bucket names, object keys, and
// metadata before they reach the wire. Everything here mirrors the S3 naming
// rules so bad input fails fast instead of round-tripping to the backend.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tidegate/s3transfer/errors"
)

// maxObjectKeyBytes is the S3 limit on key length.
const maxObjectKeyBytes = 1024

// BucketName validates that a bucket name is DNS-compliant.
// Returns ErrInvalidBucketName wrapped in an *errors.Error otherwise.
func BucketName(bucket string) error {
	if bucket == "" {
		return bucketNameError(bucket, "bucket name cannot be empty")
	}
	if len(bucket) < 3 || len(bucket) > 63 {
		return bucketNameError(bucket, "bucket name must be between 3 and 63 characters long")
	}
	for _, char := range bucket {
		if !isValidBucketChar(char) {
			return bucketNameError(bucket, "bucket name can only contain lowercase letters, numbers, dots, and hyphens")
		}
	}
	if bucket[0] == '-' || bucket[0] == '.' || bucket[len(bucket)-1] == '-' || bucket[len(bucket)-1] == '.' {
		return bucketNameError(bucket, "bucket name cannot start or end with a hyphen or dot")
	}
	if isIPAddress(bucket) {
		return bucketNameError(bucket, "bucket name cannot be formatted as an IP address")
	}
	if hasAdjacentSpecialChars(bucket) {
		return bucketNameError(bucket, "bucket name cannot contain two adjacent periods or hyphens")
	}
	return nil
}

// ObjectKey validates that an object key is acceptable: non-empty, within
// the S3 length limit, free of control characters and traversal sequences.
func ObjectKey(key string) error {
	if key == "" {
		return objectKeyError(key, "object key cannot be empty")
	}
	if len(key) > maxObjectKeyBytes {
		return objectKeyError(key, fmt.Sprintf("object key cannot exceed %d bytes", maxObjectKeyBytes))
	}
	if hasPathTraversal(key) {
		return objectKeyError(key, "object key cannot contain path traversal sequences")
	}
	for _, char := range key {
		if unicode.IsControl(char) {
			return objectKeyError(key, "object key cannot contain control characters")
		}
	}
	return nil
}

// Metadata validates user-defined metadata keys and values. Keys travel as
// HTTP headers, so they are restricted to printable ASCII and must not
// collide with the reserved x-amz namespace.
func Metadata(metadata map[string]string) error {
	for key, value := range metadata {
		if key == "" {
			return metadataError("metadata key cannot be empty")
		}
		if len(key) > 128 {
			return metadataError("metadata key cannot exceed 128 characters")
		}
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "aws:") || strings.HasPrefix(lower, "x-amz-") {
			return metadataError(fmt.Sprintf("metadata key %q uses a reserved prefix", key))
		}
		for _, char := range key {
			if char <= ' ' || char > '~' {
				return metadataError(fmt.Sprintf("metadata key %q must be printable ASCII without spaces", key))
			}
		}
		if len(value) > 2048 {
			return metadataError(fmt.Sprintf("metadata value for %q cannot exceed 2048 characters", key))
		}
		for _, char := range value {
			if unicode.IsControl(char) && char != '\t' {
				return metadataError(fmt.Sprintf("metadata value for %q cannot contain control characters", key))
			}
		}
	}
	return nil
}

func bucketNameError(bucket, msg string) error {
	return errors.NewError("validateBucketName", errors.ErrInvalidBucketName).
		WithBucket(bucket).
		WithMessage(msg)
}

func objectKeyError(key, msg string) error {
	return errors.NewError("validateObjectKey", errors.ErrInvalidObjectKey).
		WithKey(key).
		WithMessage(msg)
}

func metadataError(msg string) error {
	return errors.NewError("validateMetadata", errors.ErrInvalidInput).WithMessage(msg)
}

func isValidBucketChar(char rune) bool {
	return (char >= '0' && char <= '9') || (char >= 'a' && char <= 'z') || char == '.' || char == '-'
}

func hasAdjacentSpecialChars(bucket string) bool {
	for i := 0; i < len(bucket)-1; i++ {
		if (bucket[i] == '.' || bucket[i] == '-') && (bucket[i+1] == '.' || bucket[i+1] == '-') {
			return true
		}
	}
	return false
}

func isIPAddress(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		num := 0
		for _, char := range part {
			if char < '0' || char > '9' {
				return false
			}
			num = num*10 + int(char-'0')
		}
		if num > 255 {
			return false
		}
	}
	return true
}

func hasPathTraversal(key string) bool {
	if strings.Contains(key, "..") {
		return true
	}
	cleaned := filepath.Clean(key)
	return strings.HasPrefix(cleaned, "..") || strings.HasPrefix(cleaned, "/")
}
