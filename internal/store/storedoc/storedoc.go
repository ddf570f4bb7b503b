// Package storedoc encodes the embedded parts of a blood bank document (its
// batch list and summary) so every store backend persists the same shape.
package storedoc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
)

const emptyBatchList = "[]"

type batchDocument struct {
	ID           string    `json:"id"`
	Component    string    `json:"bloodComponent"`
	BloodType    string    `json:"bloodType"`
	City         string    `json:"city"`
	Units        int64     `json:"units"`
	ExpiresAt    time.Time `json:"expiryDate"`
	AddedAt      time.Time `json:"addedAt"`
	CountedUnits int64     `json:"countedUnits"`
}

// EncodeBatches renders the batch list as a JSON array.
func EncodeBatches(batches []ledger.StockBatch) ([]byte, error) {
	documents := make([]batchDocument, 0, len(batches))
	for _, batch := range batches {
		documents = append(documents, batchDocument{
			ID:           batch.ID.String(),
			Component:    batch.Component.String(),
			BloodType:    batch.BloodType.String(),
			City:         batch.City.String(),
			Units:        batch.Units.Int64(),
			ExpiresAt:    batch.ExpiresAt.UTC(),
			AddedAt:      batch.AddedAt.UTC(),
			CountedUnits: batch.CountedUnits.Int64(),
		})
	}
	return json.Marshal(documents)
}

// DecodeBatches parses a JSON array written by EncodeBatches. Empty input
// yields an empty list.
func DecodeBatches(raw []byte) ([]ledger.StockBatch, error) {
	if len(raw) == 0 {
		raw = []byte(emptyBatchList)
	}
	var documents []batchDocument
	if err := json.Unmarshal(raw, &documents); err != nil {
		return nil, fmt.Errorf("decode batches: %w", err)
	}
	batches := make([]ledger.StockBatch, 0, len(documents))
	for _, document := range documents {
		batch, err := document.toBatch()
		if err != nil {
			return nil, fmt.Errorf("decode batch %q: %w", document.ID, err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (document batchDocument) toBatch() (ledger.StockBatch, error) {
	batchID, err := ledger.NewBatchID(document.ID)
	if err != nil {
		return ledger.StockBatch{}, err
	}
	component, err := ledger.ParseComponent(document.Component)
	if err != nil {
		return ledger.StockBatch{}, err
	}
	bloodType, err := ledger.ParseBloodType(document.BloodType)
	if err != nil {
		return ledger.StockBatch{}, err
	}
	city, err := ledger.ParseCity(document.City)
	if err != nil {
		return ledger.StockBatch{}, err
	}
	if document.Units < 0 || document.CountedUnits < 0 {
		return ledger.StockBatch{}, fmt.Errorf("%w: negative count", ledger.ErrInvalidUnits)
	}
	return ledger.StockBatch{
		ID:           batchID,
		Component:    component,
		BloodType:    bloodType,
		City:         city,
		Units:        ledger.Units(document.Units),
		ExpiresAt:    document.ExpiresAt.UTC(),
		AddedAt:      document.AddedAt.UTC(),
		CountedUnits: ledger.Units(document.CountedUnits),
	}, nil
}

// EncodeSummary renders the summary as an object holding all eight types.
func EncodeSummary(summary ledger.Summary) ([]byte, error) {
	return json.Marshal(summary)
}

// DecodeSummary parses a summary object; absent types read as zero.
func DecodeSummary(raw []byte) (ledger.Summary, error) {
	var summary ledger.Summary
	if len(raw) == 0 {
		return summary, nil
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return ledger.Summary{}, err
	}
	return summary, nil
}
