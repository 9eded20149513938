// Package errors provides structured errors for the SwiftSearch mediator.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, config document)
//   - 4XX: Validation errors (malformed payloads)
//   - 5XX: Internal and engine errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates engine and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeDiskFull     = "ERR_203_DISK_FULL"
	ErrCodeFileCorrupt  = "ERR_206_FILE_CORRUPT"
	ErrCodeFileRead     = "ERR_207_FILE_READ"
	ErrCodeFileWrite    = "ERR_208_FILE_WRITE"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery = "ERR_403_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeSearchFailed   = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed    = "ERR_505_INDEX_FAILED"
	ErrCodeEncryptFailed  = "ERR_506_ENCRYPT_FAILED"
	ErrCodeEngineNotReady = "ERR_507_ENGINE_NOT_READY"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	// "ERR_" prefix plus three digits
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}
