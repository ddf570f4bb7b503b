package ledger

import (
	"context"
	"time"
)

// SweepExpired deletes expired batches from every account and rebuilds each
// touched summary. Accounts are swept one at a time, each under its own
// compare-and-swap, so a failure leaves earlier accounts committed.
func (service *Service) SweepExpired(ctx context.Context) (SweepReport, error) {
	accounts, err := service.store.ListAccounts(ctx, AccountFilter{})
	if err != nil {
		return SweepReport{}, err
	}
	report := SweepReport{AccountsScanned: len(accounts)}
	now := service.nowFn()
	for _, account := range accounts {
		if !hasExpired(account, now) {
			continue
		}
		removed := 0
		_, _, sweepError := service.mutateAccount(ctx, account.ID, func(current *Account, mutationTime time.Time) (bool, error) {
			removed = current.removeExpired(mutationTime)
			current.Reconcile(mutationTime)
			return false, nil
		})
		service.logOperation(ctx, OperationLog{
			Operation: operationSweepExpired,
			BankID:    account.ID,
			Error:     sweepError,
		})
		if sweepError != nil {
			return report, sweepError
		}
		if removed > 0 {
			report.AccountsUpdated++
			report.BatchesRemoved += removed
		}
	}
	return report, nil
}

func hasExpired(account Account, now time.Time) bool {
	for _, batch := range account.Batches {
		if batch.Expired(now) {
			return true
		}
	}
	return false
}
