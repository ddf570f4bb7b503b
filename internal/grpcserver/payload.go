package grpcserver

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"google.golang.org/protobuf/types/known/structpb"
)

type requestFields struct {
	values map[string]*structpb.Value
}

func newRequestFields(request *structpb.Struct) requestFields {
	return requestFields{values: request.GetFields()}
}

func (fields requestFields) text(name string) string {
	value, ok := fields.values[name]
	if !ok {
		return ""
	}
	return value.GetStringValue()
}

// units accepts a number or a numeric string, mirroring the HTTP body.
func (fields requestFields) units(name string) (ledger.Units, error) {
	value, ok := fields.values[name]
	if !ok {
		return ledger.ParseUnits("")
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_StringValue:
		return ledger.ParseUnits(kind.StringValue)
	case *structpb.Value_NumberValue:
		number := kind.NumberValue
		if math.IsNaN(number) || math.IsInf(number, 0) || number != math.Trunc(number) {
			return 0, fmt.Errorf("%w: %v is not a whole number", ledger.ErrInvalidUnits, number)
		}
		return ledger.ParseUnits(strconv.FormatFloat(number, 'f', 0, 64))
	default:
		return 0, fmt.Errorf("%w: unsupported value", ledger.ErrInvalidUnits)
	}
}

func newResponse(message string, extra map[string]any) (*structpb.Struct, error) {
	payload := map[string]any{"success": true, "message": message}
	for key, value := range extra {
		payload[key] = value
	}
	response, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, mapToGRPCError(ledger.WrapError("grpc", "response", "encode", err))
	}
	return response, nil
}

func batchValue(batch ledger.StockBatch) map[string]any {
	return map[string]any{
		"id":             batch.ID.String(),
		"bloodComponent": batch.Component.String(),
		"bloodType":      batch.BloodType.String(),
		"city":           batch.City.String(),
		"units":          batch.Units.Int64(),
		"expiryDate":     batch.ExpiresAt.UTC().Format(time.RFC3339),
		"addedAt":        batch.AddedAt.UTC().Format(time.RFC3339),
	}
}

func publicInfoValue(info ledger.PublicInfo) map[string]any {
	return map[string]any{
		"bloodBankName": info.Name,
		"hospitalName":  info.Hospital,
		"city":          info.City.String(),
		"contactNo":     info.ContactNo,
		"email":         info.Email,
		"address":       info.Address,
	}
}

func summaryValue(summary ledger.Summary) map[string]any {
	values := make(map[string]any, len(ledger.BloodTypes()))
	for _, bloodType := range ledger.BloodTypes() {
		values[bloodType.String()] = summary.Units(bloodType).Int64()
	}
	return values
}

func availabilityValue(match ledger.AvailabilityMatch) map[string]any {
	value := publicInfoValue(match.Bank)
	stock := make([]any, 0, len(match.Batches))
	var total int64
	for _, batch := range match.Batches {
		total += batch.Units.Int64()
		stock = append(stock, batchValue(batch))
	}
	value["totalUnits"] = total
	value["stock"] = stock
	return value
}
