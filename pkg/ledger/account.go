package ledger

import "time"

// The summary equals the sum of CountedUnits per blood type, and every
// mutation keeps CountedUnits equal to the batch's contribution at the
// mutation time. Underflow means the persisted summary drifted, so the
// affected type is rebuilt from the batch list rather than clamped.

func (account *Account) findBatch(batchID BatchID) (int, bool) {
	for position, batch := range account.Batches {
		if batch.ID == batchID {
			return position, true
		}
	}
	return -1, false
}

func (account *Account) applyDelta(bloodType BloodType, delta int64, now time.Time) bool {
	if account.Summary.add(bloodType, delta) {
		return false
	}
	account.recomputeType(bloodType, now)
	return true
}

func (account *Account) recomputeType(bloodType BloodType, now time.Time) {
	var total Units
	for position := range account.Batches {
		batch := &account.Batches[position]
		if batch.BloodType != bloodType {
			continue
		}
		batch.CountedUnits = batch.contribution(now)
		total += batch.CountedUnits
	}
	account.Summary.set(bloodType, total)
}

// reconcileLapsed un-counts batches that expired since the last write.
func (account *Account) reconcileLapsed(now time.Time) bool {
	reconciled := false
	for position := range account.Batches {
		batch := &account.Batches[position]
		if batch.CountedUnits == 0 || batch.Available(now) {
			continue
		}
		counted := batch.CountedUnits
		batch.CountedUnits = 0
		if account.applyDelta(batch.BloodType, -counted.Int64(), now) {
			reconciled = true
		}
	}
	return reconciled
}

func (account *Account) appendBatch(batch StockBatch, now time.Time) (StockBatch, bool) {
	batch.CountedUnits = batch.contribution(now)
	account.Batches = append(account.Batches, batch)
	reconciled := account.applyDelta(batch.BloodType, batch.CountedUnits.Int64(), now)
	position := len(account.Batches) - 1
	return account.Batches[position], reconciled
}

func (account *Account) updateBatch(batchID BatchID, units Units, expiresAt time.Time, now time.Time) (StockBatch, bool, error) {
	position, found := account.findBatch(batchID)
	if !found {
		return StockBatch{}, false, ErrUnknownBatch
	}
	batch := &account.Batches[position]
	previouslyCounted := batch.CountedUnits
	batch.Units = units
	batch.ExpiresAt = expiresAt
	batch.CountedUnits = batch.contribution(now)
	delta := batch.CountedUnits.Int64() - previouslyCounted.Int64()
	reconciled := account.applyDelta(batch.BloodType, delta, now)
	return account.Batches[position], reconciled, nil
}

func (account *Account) removeBatch(batchID BatchID, now time.Time) (StockBatch, bool, error) {
	position, found := account.findBatch(batchID)
	if !found {
		return StockBatch{}, false, ErrUnknownBatch
	}
	removed := account.Batches[position]
	account.Batches = append(account.Batches[:position:position], account.Batches[position+1:]...)
	reconciled := account.applyDelta(removed.BloodType, -removed.CountedUnits.Int64(), now)
	return removed, reconciled, nil
}

func (account *Account) removeExpired(now time.Time) int {
	kept := make([]StockBatch, 0, len(account.Batches))
	removed := 0
	for _, batch := range account.Batches {
		if batch.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, batch)
	}
	account.Batches = kept
	return removed
}

// Reconcile rebuilds the whole summary from the batch list.
func (account *Account) Reconcile(now time.Time) {
	for _, bloodType := range bloodTypes {
		account.recomputeType(bloodType, now)
	}
}

// SummaryAt returns the summary with lapsed expiries applied, without
// mutating the account.
func (account Account) SummaryAt(now time.Time) Summary {
	snapshot := account.clone()
	snapshot.reconcileLapsed(now)
	return snapshot.Summary
}

// AvailableBatches returns the batches matching filter that are non-empty and
// unexpired at now.
func (account Account) AvailableBatches(filter AvailabilityFilter, now time.Time) []StockBatch {
	matching := make([]StockBatch, 0)
	for _, batch := range account.Batches {
		if batch.Available(now) && filter.matches(batch) {
			matching = append(matching, batch)
		}
	}
	return matching
}

func (account Account) clone() Account {
	copied := account
	copied.Batches = append([]StockBatch(nil), account.Batches...)
	return copied
}
