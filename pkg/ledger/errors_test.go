package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapErrorFormatsCode(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("service", "stock", "lookup", ErrUnknownBatch)
	if wrapped.Error() != "service.stock.lookup: unknown stock batch" {
		test.Fatalf("unexpected message %q", wrapped.Error())
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError")
	}
	if operationError.Operation() != "service" || operationError.Subject() != "stock" || operationError.Code() != "lookup" {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
	if WrapError("a", "b", "c", nil) != nil {
		test.Fatalf("expected nil passthrough")
	}
	if StorageError("a", "b", "c", nil) != nil {
		test.Fatalf("expected nil passthrough for storage errors")
	}
}

func TestCategoryOf(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected Category
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "unauthorized", err: fmt.Errorf("%w: no cookie", ErrUnauthorized), expected: CategoryUnauthorized},
		{name: "bad credentials", err: WrapError("service", "account", "authenticate", ErrInvalidCredentials), expected: CategoryUnauthorized},
		{name: "malformed body", err: fmt.Errorf("%w: unexpected EOF", ErrInvalidRequest), expected: CategoryInvalidInput},
		{name: "unknown batch", err: WrapError("service", "stock", "lookup", ErrUnknownBatch), expected: CategoryNotFound},
		{name: "unknown account", err: ErrUnknownAccount, expected: CategoryNotFound},
		{name: "invalid units", err: WrapError("service", "stock", "invalid", fmt.Errorf("%w: zero", ErrInvalidUnits)), expected: CategoryInvalidInput},
		{name: "duplicate", err: ErrAccountExists, expected: CategoryInvalidInput},
		{name: "conflict", err: WrapError("service", "account", "retries_exhausted", ErrVersionConflict), expected: CategoryInternal},
		{name: "storage", err: StorageError("store", "account", "get", errors.New("boom")), expected: CategoryInternal},
		{name: "unclassified", err: errors.New("surprise"), expected: CategoryInternal},
	}
	for _, testCase := range testCases {
		if got := CategoryOf(testCase.err); got != testCase.expected {
			test.Fatalf("%s: expected %q, got %q", testCase.name, testCase.expected, got)
		}
	}
}

func TestNewResult(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected Result
	}{
		{
			name:     "success",
			expected: Result{Success: true, Message: "Blood stock added"},
		},
		{
			name:     "not found",
			err:      WrapError("service", "stock", "lookup", ErrUnknownBatch),
			expected: Result{Message: "Blood stock not found", Category: CategoryNotFound},
		},
		{
			name:     "invalid units",
			err:      fmt.Errorf("%w: negative", ErrInvalidUnits),
			expected: Result{Message: "Units must be a positive number", Category: CategoryInvalidInput},
		},
		{
			name:     "unauthorized",
			err:      ErrUnauthorized,
			expected: Result{Message: "Not logged in", Category: CategoryUnauthorized},
		},
		{
			name:     "invalid credentials",
			err:      WrapError("service", "account", "authenticate", ErrInvalidCredentials),
			expected: Result{Message: "Invalid credentials", Category: CategoryUnauthorized},
		},
		{
			name:     "malformed body",
			err:      fmt.Errorf("%w: unexpected EOF", ErrInvalidRequest),
			expected: Result{Message: "Request body is malformed", Category: CategoryInvalidInput},
		},
		{
			name:     "internal hides cause",
			err:      StorageError("store", "account", "save", errors.New("password=hunter2")),
			expected: Result{Message: "Server error occurred", Category: CategoryInternal},
		},
	}
	for _, testCase := range testCases {
		if got := NewResult(testCase.err, "Blood stock added"); got != testCase.expected {
			test.Fatalf("%s: expected %+v, got %+v", testCase.name, testCase.expected, got)
		}
	}
}
