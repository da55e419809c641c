// Package errors provides structured error handling for zoterag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Data errors (library, index, files)
//   - 3XX: Remote service errors (providers, embedders)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryData indicates library, index, and file data errors.
	CategoryData Category = "DATA"
	// CategoryNetwork indicates remote service errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeProviderUnknown = "ERR_103_PROVIDER_UNKNOWN"
	ErrCodeModelUnknown    = "ERR_104_MODEL_UNKNOWN"
	ErrCodeProfileNotFound = "ERR_105_PROFILE_NOT_FOUND"

	// Data errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodePDFExtract     = "ERR_202_PDF_EXTRACT"
	ErrCodeCatalogRead    = "ERR_203_CATALOG_READ"
	ErrCodeCorruptIndex   = "ERR_204_CORRUPT_INDEX"
	ErrCodeLegacyMetadata = "ERR_205_LEGACY_METADATA"
	ErrCodeIndexBusy      = "ERR_206_INDEX_BUSY"

	// Remote service errors (300-399)
	ErrCodeConnection  = "ERR_301_CONNECTION"
	ErrCodeTimeout     = "ERR_302_TIMEOUT"
	ErrCodeAuth        = "ERR_303_AUTH_REJECTED"
	ErrCodeRateLimited = "ERR_304_RATE_LIMITED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidFilter     = "ERR_402_INVALID_FILTER"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeContextLength     = "ERR_404_CONTEXT_LENGTH"
	ErrCodeDimensionMismatch = "ERR_405_DIMENSION_MISMATCH"
	ErrCodeInvalidName       = "ERR_406_INVALID_NAME"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_504_INDEX_FAILED"
	ErrCodeMigrationFailed = "ERR_505_MIGRATION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "203" from "ERR_203_CATALOG_READ")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryData
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	// Retryable remote errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeConnection, ErrCodeTimeout, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
