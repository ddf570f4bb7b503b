package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

type stubStore struct {
	mutex          sync.Mutex
	accounts       map[BankID]Account
	getErr         error
	saveErr        error
	listErr        error
	createErr      error
	saveCalls      int
	conflictsToRun int
	beforeSave     func(bankID BankID)
	afterList      func()
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[BankID]Account)}
}

func (store *stubStore) CreateAccount(ctx context.Context, account Account) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.createErr != nil {
		return store.createErr
	}
	for _, existing := range store.accounts {
		if existing.Profile.Email == account.Profile.Email || existing.Profile.LicenseNo == account.Profile.LicenseNo {
			return ErrAccountExists
		}
	}
	store.accounts[account.ID] = account.clone()
	return nil
}

func (store *stubStore) GetAccount(ctx context.Context, bankID BankID) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getErr != nil {
		return Account{}, store.getErr
	}
	account, ok := store.accounts[bankID]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return account.clone(), nil
}

func (store *stubStore) FindAccountByEmail(ctx context.Context, email string) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getErr != nil {
		return Account{}, store.getErr
	}
	for _, account := range store.accounts {
		if account.Profile.Email == email {
			return account.clone(), nil
		}
	}
	return Account{}, ErrUnknownAccount
}

func (store *stubStore) SaveAccount(ctx context.Context, account Account, expectedVersion int64) error {
	if store.beforeSave != nil {
		store.beforeSave(account.ID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.saveCalls++
	if store.saveErr != nil {
		return store.saveErr
	}
	current, ok := store.accounts[account.ID]
	if !ok {
		return ErrUnknownAccount
	}
	if store.conflictsToRun > 0 {
		store.conflictsToRun--
		return ErrVersionConflict
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	account = account.clone()
	account.Version = expectedVersion + 1
	store.accounts[account.ID] = account
	return nil
}

func (store *stubStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	accounts, err := store.listAccounts(filter)
	if store.afterList != nil {
		store.afterList()
	}
	return accounts, err
}

func (store *stubStore) listAccounts(filter AccountFilter) ([]Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.listErr != nil {
		return nil, store.listErr
	}
	accounts := make([]Account, 0, len(store.accounts))
	for _, account := range store.accounts {
		if filter.City != "" && account.Profile.City != filter.City {
			continue
		}
		accounts = append(accounts, account.clone())
	}
	sort.Slice(accounts, func(left, right int) bool {
		return accounts[left].Profile.Name < accounts[right].Profile.Name
	})
	return accounts, nil
}

func (store *stubStore) seed(test *testing.T, name string, city City) BankID {
	test.Helper()
	bankID := mustBankID(test, "bank-"+name)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.accounts[bankID] = Account{
		ID: bankID,
		Profile: Profile{
			Name:      name,
			Hospital:  name + " Hospital",
			Email:     name + "@example.com",
			LicenseNo: "LIC-" + name,
			ContactNo: "555-0100",
			Address:   "1 Main Road",
			City:      city,
		},
		PasswordHash: "secret-hash",
		Batches:      []StockBatch{},
	}
	return bankID
}

func (store *stubStore) mustAccount(test *testing.T, bankID BankID) Account {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, ok := store.accounts[bankID]
	if !ok {
		test.Fatalf("account %s not found", bankID.String())
	}
	return account.clone()
}

func (store *stubStore) put(account Account) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.accounts[account.ID] = account.clone()
}

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (clock *testClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.now = clock.now.Add(duration)
}

func sequentialIDs() func() string {
	var mutex sync.Mutex
	next := 0
	return func() string {
		mutex.Lock()
		defer mutex.Unlock()
		next++
		return fmt.Sprintf("id-%d", next)
	}
}

func mustNewService(test *testing.T, store Store, clock *testClock, options ...ServiceOption) *Service {
	test.Helper()
	allOptions := append([]ServiceOption{WithIDGenerator(sequentialIDs())}, options...)
	service, err := NewService(store, clock.Now, allOptions...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustBankID(test *testing.T, raw string) BankID {
	test.Helper()
	value, err := NewBankID(raw)
	if err != nil {
		test.Fatalf("bank id: %v", err)
	}
	return value
}

func mustBatchID(test *testing.T, raw string) BatchID {
	test.Helper()
	value, err := NewBatchID(raw)
	if err != nil {
		test.Fatalf("batch id: %v", err)
	}
	return value
}

func mustUnits(test *testing.T, raw int64) Units {
	test.Helper()
	value, err := NewUnits(raw)
	if err != nil {
		test.Fatalf("units: %v", err)
	}
	return value
}

func mustStockInput(test *testing.T, component Component, bloodType BloodType, city City, units int64, expiresAt time.Time) StockInput {
	test.Helper()
	input, err := NewStockInput(component.String(), bloodType.String(), city.String(), units, expiresAt)
	if err != nil {
		test.Fatalf("stock input: %v", err)
	}
	return input
}

func mustAddStock(test *testing.T, service *Service, bankID BankID, input StockInput) StockBatch {
	test.Helper()
	batch, err := service.AddStock(context.Background(), bankID, input)
	if err != nil {
		test.Fatalf("add stock: %v", err)
	}
	return batch
}

// assertSummaryConsistent checks the stored summary against the batch list.
func assertSummaryConsistent(test *testing.T, account Account, now time.Time) {
	test.Helper()
	for _, bloodType := range BloodTypes() {
		var expected Units
		for _, batch := range account.Batches {
			if batch.BloodType == bloodType && batch.Units > 0 && batch.ExpiresAt.After(now) {
				expected += batch.Units
			}
		}
		if got := account.Summary.Units(bloodType); got != expected {
			test.Fatalf("summary[%s]=%d, batches sum to %d", bloodType, got, expected)
		}
		if account.Summary.Units(bloodType) < 0 {
			test.Fatalf("summary[%s] negative", bloodType)
		}
	}
}
