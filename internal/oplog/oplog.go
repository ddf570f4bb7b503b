// Package oplog writes ledger operation events to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger implements ledger.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger; a nil zap logger discards events.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("ledger")}
}

func (operationLogger *Logger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.BankID.IsZero() {
		fields = append(fields, zap.String("bank_id", entry.BankID.String()))
	}
	if batchID := entry.BatchID.String(); batchID != "" {
		fields = append(fields, zap.String("batch_id", batchID))
	}
	if entry.BloodType != "" {
		fields = append(fields, zap.String("blood_type", entry.BloodType.String()))
	}
	if entry.Units != 0 {
		fields = append(fields, zap.Int64("units", entry.Units.Int64()))
	}
	if entry.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", entry.Attempts))
	}
	if entry.Reconciled {
		fields = append(fields, zap.Bool("reconciled", true))
	}
	level := zapcore.InfoLevel
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error), zap.String("category", string(ledger.CategoryOf(entry.Error))))
		level = levelFor(entry.Error)
	}
	operationLogger.logger.Log(level, "ledger operation", fields...)
}

// Caller mistakes are routine; only internal failures are errors.
func levelFor(err error) zapcore.Level {
	if ledger.CategoryOf(err) == ledger.CategoryInternal {
		return zapcore.ErrorLevel
	}
	return zapcore.WarnLevel
}
