package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationLevels(test *testing.T) {
	test.Parallel()
	core, observed := observer.New(zapcore.DebugLevel)
	logger := New(zap.New(core))
	bankID, err := ledger.NewBankID("bank-1")
	if err != nil {
		test.Fatalf("bank id: %v", err)
	}

	testCases := []struct {
		name     string
		entry    ledger.OperationLog
		expected zapcore.Level
	}{
		{
			name:     "success",
			entry:    ledger.OperationLog{Operation: "add_stock", BankID: bankID, BloodType: ledger.BloodTypeAPositive, Units: 4, Attempts: 1, Status: "ok"},
			expected: zapcore.InfoLevel,
		},
		{
			name:     "caller error",
			entry:    ledger.OperationLog{Operation: "update_stock", BankID: bankID, Status: "error", Error: ledger.ErrUnknownBatch},
			expected: zapcore.WarnLevel,
		},
		{
			name:     "internal error",
			entry:    ledger.OperationLog{Operation: "delete_stock", BankID: bankID, Status: "error", Error: ledger.StorageError("store", "account", "save", errors.New("disk full"))},
			expected: zapcore.ErrorLevel,
		},
	}
	for _, testCase := range testCases {
		logger.LogOperation(context.Background(), testCase.entry)
		entries := observed.TakeAll()
		if len(entries) != 1 {
			test.Fatalf("%s: expected one entry, got %d", testCase.name, len(entries))
		}
		if entries[0].Level != testCase.expected {
			test.Fatalf("%s: expected level %s, got %s", testCase.name, testCase.expected, entries[0].Level)
		}
		fields := entries[0].ContextMap()
		if fields["operation"] != testCase.entry.Operation || fields["bank_id"] != "bank-1" {
			test.Fatalf("%s: unexpected fields %v", testCase.name, fields)
		}
	}
}

func TestLogOperationOmitsEmptyFields(test *testing.T) {
	test.Parallel()
	core, observed := observer.New(zapcore.DebugLevel)
	New(zap.New(core)).LogOperation(context.Background(), ledger.OperationLog{Operation: "sweep_expired", Status: "ok"})
	fields := observed.All()[0].ContextMap()
	for _, key := range []string{"bank_id", "batch_id", "blood_type", "units", "attempts", "reconciled", "error"} {
		if _, present := fields[key]; present {
			test.Fatalf("expected %s omitted, got %v", key, fields)
		}
	}
}
