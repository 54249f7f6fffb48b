package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Users quote the code; support looks up the technical error
// in the logs.
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - No valid records: every row failed validation
//	         Patterns: "no valid records"
//	VAL002 - Invalid date: a date could not be parsed
//	         Patterns: "invalid date"
//	VAL003 - Invalid number: a number could not be parsed
//	         Patterns: "invalid number"
//	VAL004 - Required field: a required field is empty
//	         Patterns: "is required"
//	VAL005 - Invalid mapping: a column is renamed to a name that is renamed again
//	         Patterns: "invalid column mapping"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large", "request body too large"
//	FILE002 - Invalid CSV
//	          Patterns: "invalid csv", "parse error on line"
//	FILE003 - Invalid workbook
//	          Patterns: "invalid workbook", "zip: not a valid zip file"
//	FILE004 - Encoding error
//	          Patterns: "encoding error", "unsupported encoding"
//	FILE005 - No file
//	          Patterns: "no file provided"
//	FILE006 - Empty file
//	          Patterns: "empty file"
//	FILE007 - Unsupported format
//	          Patterns: "unsupported file format"
//
// # Operation Errors (OPS001-OPS099)
//
//	OPS001 - System busy: too many imports or exports running
//	         Patterns: "too many concurrent operations"
//	OPS002 - Operation not found or expired
//	         Patterns: "operation not found"
//	OPS003 - Unknown entity
//	         Patterns: "unknown entity type"
//	OPS004 - Request cancelled
//	         Patterns: "context canceled"
//	OPS005 - Request timeout
//	         Patterns: "context deadline exceeded"
//	OPS006 - Wrong operation kind
//	         Patterns: "operation kind mismatch"
//
// # Schedule Errors (SCH001-SCH099)
//
//	SCH001 - Schedule not found
//	         Patterns: "schedule not found"
//	SCH002 - Job not found
//	         Patterns: "job not found"
//	SCH003 - Invalid recurrence
//	         Patterns: "invalid recurrence"
//	SCH004 - Invalid schedule
//	         Patterns: "invalid schedule"
//	SCH005 - Scheduler disabled
//	         Patterns: "scheduled exports are disabled"
//
// # Delivery Errors (DLV001-DLV099)
//
//	DLV001 - Artifact not found
//	         Patterns: "artifact not found"
//	DLV002 - Delivery failed
//	         Patterns: "delivery failed"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key
//	        Patterns: "duplicate key", "unique constraint"
//	DB002 - Connection problem
//	        Patterns: "connection refused", "connection reset"
//
// # Requests (REQ001)
//
//	REQ001 - Malformed request
//	         Patterns: "malformed request"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Patterns: "rate limit"
//
// # Unknown (ERR000)
//
// ERR000 is the fallback when nothing matches; check the logs for the
// technical error.

import (
	"fmt"
	"strings"
)

// UserMessage is a user-facing error with a suggested action and a code.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is matched in order; put specific patterns before general
// ones ("context deadline exceeded" before anything matching "deadline").
var errorPatterns = []errorPattern{
	// Validation
	{"no valid records", UserMessage{"No rows passed validation", "Review the row errors, fix the file and upload it again", "VAL001"}},
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024", "VAL002"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Use a plain decimal number", "VAL003"}},
	{"is required", UserMessage{"Required field is empty", "Ensure all required columns have values", "VAL004"}},
	{"invalid column mapping", UserMessage{"Column mapping is invalid", "Map each column straight to its final field name", "VAL005"}},

	// Files
	{"file too large", UserMessage{"File exceeds the maximum size", "Split the file into smaller parts", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum size", "Split the file into smaller parts", "FILE001"}},
	{"invalid csv", UserMessage{"File is not a valid CSV", "Ensure the file is comma-separated with a header row", "FILE002"}},
	{"parse error on line", UserMessage{"File is not a valid CSV", "Check for unbalanced quotes in the file", "FILE002"}},
	{"invalid workbook", UserMessage{"File is not a valid Excel workbook", "Save the file as .xlsx and try again", "FILE003"}},
	{"zip: not a valid zip file", UserMessage{"File is not a valid Excel workbook", "Save the file as .xlsx and try again", "FILE003"}},
	{"unsupported encoding", UserMessage{"File encoding is not supported", "Save the file as UTF-8 or Windows-1252", "FILE004"}},
	{"encoding error", UserMessage{"File contains invalid characters", "Save the file as UTF-8", "FILE004"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a file to upload", "FILE005"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Upload a file with a header row and data rows", "FILE006"}},
	{"unsupported file format", UserMessage{"File format is not supported", "Upload a .csv or .xlsx file", "FILE007"}},

	// Operations
	{"too many concurrent operations", UserMessage{"Too many imports or exports in progress", "Please wait a moment and try again", "OPS001"}},
	{"operation not found", UserMessage{"Operation not found", "The operation may have expired. Please start a new one", "OPS002"}},
	{"unknown entity type", UserMessage{"Unknown record type", "Choose one of the listed entity types", "OPS003"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "OPS004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "OPS005"}},
	{"operation kind mismatch", UserMessage{"Operation is not of the requested kind", "Use the import or export endpoint that started it", "OPS006"}},

	// Schedules
	{"schedule not found", UserMessage{"Scheduled export not found", "Refresh the schedule list", "SCH001"}},
	{"job not found", UserMessage{"Export job not found", "The job may have been pruned from history", "SCH002"}},
	{"invalid recurrence", UserMessage{"Recurrence settings are invalid", "Check the time of day, day and interval", "SCH003"}},
	{"invalid schedule", UserMessage{"Scheduled export settings are invalid", "Check the name, export and delivery settings", "SCH004"}},
	{"scheduled exports are disabled", UserMessage{"Scheduled exports are disabled", "Set SCHEDULE_ENABLED=true and restart", "SCH005"}},

	// Delivery
	{"artifact not found", UserMessage{"Export file not found", "The file may have been removed. Trigger the export again", "DLV001"}},
	{"delivery failed", UserMessage{"Export could not be delivered", "Check the delivery settings", "DLV002"}},

	// Database
	{"duplicate key", UserMessage{"A record with this key already exists", "Enable skip duplicates or update existing", "DB001"}},
	{"unique constraint", UserMessage{"A record with this key already exists", "Enable skip duplicates or update existing", "DB001"}},
	{"connection refused", UserMessage{"Unable to connect to the database", "Please try again in a few moments", "DB002"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},

	{"malformed request", UserMessage{"Request could not be read", "Check the request body and parameters", "REQ001"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Matching is
// case-insensitive on the full error chain text; the first match wins.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
