package ledger

import (
	"context"
	"sort"
	"time"
)

// QueryAvailability lists banks holding non-empty, unexpired batches that
// match filter. The account-level city narrows the scan.
func (service *Service) QueryAvailability(ctx context.Context, filter AvailabilityFilter) ([]AvailabilityMatch, error) {
	now := service.nowFn()
	var (
		lookup    CacheLookup
		cacheable bool
	)
	if service.cache != nil {
		var err error
		lookup, err = service.cache.Get(ctx, filter)
		switch {
		case err != nil:
			service.logOperation(ctx, OperationLog{Operation: operationCacheRead, Error: err})
		case lookup.Found:
			return pruneUnavailable(lookup.Matches, now), nil
		default:
			cacheable = true
		}
	}
	accounts, err := service.store.ListAccounts(ctx, AccountFilter{City: filter.City})
	if err != nil {
		return nil, err
	}
	matches := matchAvailability(accounts, filter, now)
	if cacheable {
		if err := service.cache.Put(ctx, lookup.Generation, filter, matches); err != nil {
			service.logOperation(ctx, OperationLog{Operation: operationCacheWrite, Error: err})
		}
	}
	return matches, nil
}

// Stats aggregates unexpired stock across every bank.
func (service *Service) Stats(ctx context.Context) (Stats, error) {
	accounts, err := service.store.ListAccounts(ctx, AccountFilter{})
	if err != nil {
		return Stats{}, err
	}
	now := service.nowFn()
	var byType Summary
	for _, account := range accounts {
		for _, batch := range account.Batches {
			byType.add(batch.BloodType, batch.contribution(now).Int64())
		}
	}
	return Stats{
		BloodBanks:     len(accounts),
		TotalUnits:     byType.Total(),
		UnitsByType:    byType,
		MostNeededType: mostNeeded(byType),
	}, nil
}

func matchAvailability(accounts []Account, filter AvailabilityFilter, now time.Time) []AvailabilityMatch {
	matches := make([]AvailabilityMatch, 0)
	for _, account := range accounts {
		if filter.City != "" && account.Profile.City != filter.City {
			continue
		}
		batches := account.AvailableBatches(filter, now)
		if len(batches) == 0 {
			continue
		}
		matches = append(matches, AvailabilityMatch{Bank: account.PublicInfo(), Batches: batches})
	}
	return matches
}

func pruneUnavailable(matches []AvailabilityMatch, now time.Time) []AvailabilityMatch {
	pruned := make([]AvailabilityMatch, 0, len(matches))
	for _, match := range matches {
		batches := make([]StockBatch, 0, len(match.Batches))
		for _, batch := range match.Batches {
			if batch.Available(now) {
				batches = append(batches, batch)
			}
		}
		if len(batches) == 0 {
			continue
		}
		pruned = append(pruned, AvailabilityMatch{Bank: match.Bank, Batches: batches})
	}
	return pruned
}

// mostNeeded picks the type with the fewest positive units.
func mostNeeded(summary Summary) string {
	type typeCount struct {
		bloodType BloodType
		units     Units
	}
	available := make([]typeCount, 0, bloodTypeCount)
	for _, bloodType := range bloodTypes {
		if units := summary.Units(bloodType); units > 0 {
			available = append(available, typeCount{bloodType: bloodType, units: units})
		}
	}
	if len(available) == 0 {
		return mostNeededUnknown
	}
	sort.SliceStable(available, func(left, right int) bool {
		return available[left].units < available[right].units
	})
	return available[0].bloodType.String()
}

func (service *Service) invalidateAvailability(ctx context.Context) {
	if service.cache == nil {
		return
	}
	if err := service.cache.Invalidate(ctx); err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationCacheEvict, Error: err})
	}
}
