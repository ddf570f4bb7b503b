package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrUnknownAccount       = errors.New("unknown blood bank")
	ErrUnknownBatch         = errors.New("unknown stock batch")
	ErrAccountExists        = errors.New("blood bank already exists")
	ErrVersionConflict      = errors.New("account version conflict")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrStorage              = errors.New("storage failure")
	ErrInvalidBankID        = errors.New("invalid bank id")
	ErrInvalidBatchID       = errors.New("invalid batch id")
	ErrInvalidBloodType     = errors.New("invalid blood type")
	ErrInvalidComponent     = errors.New("invalid blood component")
	ErrInvalidCity          = errors.New("invalid city")
	ErrInvalidUnits         = errors.New("invalid units")
	ErrInvalidExpiry        = errors.New("invalid expiry date")
	ErrInvalidProfile       = errors.New("invalid blood bank profile")
	ErrInvalidPassword      = errors.New("invalid password")
	ErrInvalidSummary       = errors.New("invalid stock summary")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvalidRequest       = errors.New("invalid request body")

	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// StorageError marks a driver failure as ErrStorage while keeping the cause.
func StorageError(operation string, subject string, code string, cause error) error {
	if cause == nil {
		return nil
	}
	return WrapError(operation, subject, code, fmt.Errorf("%w: %w", ErrStorage, cause))
}

// Category is the transport-neutral class of a failure.
type Category string

const (
	CategoryUnauthorized Category = "unauthorized"
	CategoryNotFound     Category = "not_found"
	CategoryInvalidInput Category = "invalid_input"
	CategoryInternal     Category = "internal_error"
)

var invalidInputErrors = []error{
	ErrInvalidBankID,
	ErrInvalidBatchID,
	ErrInvalidBloodType,
	ErrInvalidComponent,
	ErrInvalidCity,
	ErrInvalidUnits,
	ErrInvalidExpiry,
	ErrInvalidProfile,
	ErrInvalidPassword,
	ErrInvalidRequest,
	ErrAccountExists,
}

// CategoryOf classifies err; nil yields an empty category.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUnauthorized) {
		return CategoryUnauthorized
	}
	if errors.Is(err, ErrUnknownAccount) || errors.Is(err, ErrUnknownBatch) {
		return CategoryNotFound
	}
	for _, candidate := range invalidInputErrors {
		if errors.Is(err, candidate) {
			return CategoryInvalidInput
		}
	}
	return CategoryInternal
}

var userMessages = []struct {
	err     error
	message string
}{
	{err: ErrInvalidCredentials, message: "Invalid credentials"},
	{err: ErrUnauthorized, message: "Not logged in"},
	{err: ErrUnknownBatch, message: "Blood stock not found"},
	{err: ErrUnknownAccount, message: "Blood bank not found"},
	{err: ErrAccountExists, message: "Blood Bank with this email or license number already exists"},
	{err: ErrInvalidUnits, message: "Units must be a positive number"},
	{err: ErrInvalidExpiry, message: "Expiry date is missing or malformed"},
	{err: ErrInvalidBloodType, message: "Unknown blood type"},
	{err: ErrInvalidComponent, message: "Unknown blood component"},
	{err: ErrInvalidCity, message: "Unsupported city"},
	{err: ErrInvalidBatchID, message: "Stock ID is required"},
	{err: ErrInvalidBankID, message: "Blood bank ID is required"},
	{err: ErrInvalidPassword, message: "Password must be at least 6 characters"},
	{err: ErrInvalidProfile, message: "All fields are required"},
	{err: ErrInvalidRequest, message: "Request body is malformed"},
}

// Result is the structured outcome handed to transport layers.
type Result struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Category Category `json:"category,omitempty"`
}

// NewResult converts an operation error into a Result; internal failures get a
// generic message.
func NewResult(err error, successMessage string) Result {
	if err == nil {
		return Result{Success: true, Message: successMessage}
	}
	category := CategoryOf(err)
	message := "Server error occurred"
	if category != CategoryInternal {
		message = "Invalid input"
		for _, candidate := range userMessages {
			if errors.Is(err, candidate.err) {
				message = candidate.message
				break
			}
		}
	}
	return Result{Success: false, Message: message, Category: category}
}
