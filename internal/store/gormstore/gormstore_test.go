package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var storeTestNow = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

func newSQLiteStore(test *testing.T) *Store {
	test.Helper()
	path := filepath.Join(test.TempDir(), "lifeblox.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	store := New(db)
	if err := store.Migrate(context.Background()); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return store
}

func newAccount(test *testing.T, id string, email string, license string, city ledger.City) ledger.Account {
	test.Helper()
	bankID, err := ledger.NewBankID(id)
	if err != nil {
		test.Fatalf("bank id: %v", err)
	}
	return ledger.Account{
		ID: bankID,
		Profile: ledger.Profile{
			Name:          id,
			Hospital:      id + " Hospital",
			Category:      "Private",
			ContactPerson: "Registrar",
			Email:         email,
			ContactNo:     "555-0101",
			LicenseNo:     license,
			Address:       "12 Ring Road",
			Pincode:       "400001",
			City:          city,
		},
		PasswordHash: "hash",
		Batches:      []ledger.StockBatch{},
		CreatedAt:    storeTestNow,
	}
}

func TestCreateAndGetAccount(test *testing.T) {
	store := newSQLiteStore(test)
	account := newAccount(test, "bank-a", "a@example.com", "LIC-A", ledger.CityMumbai)
	if err := store.CreateAccount(context.Background(), account); err != nil {
		test.Fatalf("create: %v", err)
	}

	loaded, err := store.GetAccount(context.Background(), account.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.ID != account.ID || loaded.Profile != account.Profile || loaded.PasswordHash != "hash" {
		test.Fatalf("unexpected account: %+v", loaded)
	}
	if loaded.Version != 0 || len(loaded.Batches) != 0 || loaded.Summary.Total() != 0 {
		test.Fatalf("expected empty ledger at version 0, got %+v", loaded)
	}

	missing, err := ledger.NewBankID("missing")
	if err != nil {
		test.Fatalf("bank id: %v", err)
	}
	if _, err := store.GetAccount(context.Background(), missing); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected unknown account, got %v", err)
	}
}

func TestFindAccountByEmail(test *testing.T) {
	store := newSQLiteStore(test)
	account := newAccount(test, "bank-a", "a@example.com", "LIC-A", ledger.CityMumbai)
	if err := store.CreateAccount(context.Background(), account); err != nil {
		test.Fatalf("create: %v", err)
	}

	loaded, err := store.FindAccountByEmail(context.Background(), " A@Example.com ")
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if loaded.ID != account.ID || loaded.PasswordHash != "hash" {
		test.Fatalf("unexpected account: %+v", loaded)
	}
	if _, err := store.FindAccountByEmail(context.Background(), "b@example.com"); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected unknown account, got %v", err)
	}
}

func TestCreateAccountRejectsDuplicates(test *testing.T) {
	store := newSQLiteStore(test)
	if err := store.CreateAccount(context.Background(), newAccount(test, "bank-a", "a@example.com", "LIC-A", ledger.CityDelhi)); err != nil {
		test.Fatalf("create: %v", err)
	}
	testCases := []struct {
		name    string
		account ledger.Account
	}{
		{name: "same email", account: newAccount(test, "bank-b", "a@example.com", "LIC-B", ledger.CityDelhi)},
		{name: "same license", account: newAccount(test, "bank-c", "c@example.com", "LIC-A", ledger.CityDelhi)},
	}
	for _, testCase := range testCases {
		err := store.CreateAccount(context.Background(), testCase.account)
		if !errors.Is(err, ledger.ErrAccountExists) {
			test.Fatalf("%s: expected account exists, got %v", testCase.name, err)
		}
	}
}

func TestSaveAccountCompareAndSwap(test *testing.T) {
	store := newSQLiteStore(test)
	account := newAccount(test, "bank-a", "a@example.com", "LIC-A", ledger.CityDelhi)
	if err := store.CreateAccount(context.Background(), account); err != nil {
		test.Fatalf("create: %v", err)
	}
	batchID, err := ledger.NewBatchID("batch-1")
	if err != nil {
		test.Fatalf("batch id: %v", err)
	}
	account.Batches = []ledger.StockBatch{{
		ID:           batchID,
		Component:    ledger.ComponentWholeBlood,
		BloodType:    ledger.BloodTypeAPositive,
		City:         ledger.CityDelhi,
		Units:        10,
		ExpiresAt:    storeTestNow.Add(24 * time.Hour),
		AddedAt:      storeTestNow,
		CountedUnits: 10,
	}}
	account.Summary, err = ledger.NewSummary(map[ledger.BloodType]ledger.Units{ledger.BloodTypeAPositive: 10})
	if err != nil {
		test.Fatalf("summary: %v", err)
	}

	if err := store.SaveAccount(context.Background(), account, 0); err != nil {
		test.Fatalf("save: %v", err)
	}
	if err := store.SaveAccount(context.Background(), account, 0); !errors.Is(err, ledger.ErrVersionConflict) {
		test.Fatalf("expected version conflict for stale write, got %v", err)
	}

	loaded, err := store.GetAccount(context.Background(), account.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Version != 1 {
		test.Fatalf("expected version 1, got %d", loaded.Version)
	}
	if loaded.Summary.Units(ledger.BloodTypeAPositive) != 10 || len(loaded.Batches) != 1 {
		test.Fatalf("unexpected ledger: %+v", loaded)
	}
	if !loaded.Batches[0].ExpiresAt.Equal(account.Batches[0].ExpiresAt) || loaded.Batches[0].CountedUnits != 10 {
		test.Fatalf("unexpected batch: %+v", loaded.Batches[0])
	}

	ghost := newAccount(test, "ghost", "g@example.com", "LIC-G", ledger.CityDelhi)
	if err := store.SaveAccount(context.Background(), ghost, 0); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected unknown account, got %v", err)
	}
}

func TestListAccountsFiltersByCity(test *testing.T) {
	store := newSQLiteStore(test)
	for _, account := range []ledger.Account{
		newAccount(test, "zeta", "z@example.com", "LIC-Z", ledger.CityDelhi),
		newAccount(test, "alpha", "a@example.com", "LIC-A", ledger.CityDelhi),
		newAccount(test, "mid", "m@example.com", "LIC-M", ledger.CityMumbai),
	} {
		if err := store.CreateAccount(context.Background(), account); err != nil {
			test.Fatalf("create: %v", err)
		}
	}

	delhi, err := store.ListAccounts(context.Background(), ledger.AccountFilter{City: ledger.CityDelhi})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(delhi) != 2 || delhi[0].Profile.Name != "alpha" || delhi[1].Profile.Name != "zeta" {
		test.Fatalf("unexpected delhi accounts: %+v", delhi)
	}
	all, err := store.ListAccounts(context.Background(), ledger.AccountFilter{})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		test.Fatalf("expected three accounts, got %d", len(all))
	}
}

func TestServiceOverSQLite(test *testing.T) {
	store := newSQLiteStore(test)
	account := newAccount(test, "bank-a", "a@example.com", "LIC-A", ledger.CityDelhi)
	if err := store.CreateAccount(context.Background(), account); err != nil {
		test.Fatalf("create: %v", err)
	}
	service, err := ledger.NewService(store, func() time.Time { return storeTestNow })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	input, err := ledger.NewStockInput("Whole Blood", "A+", "Delhi", 10, storeTestNow.Add(30*24*time.Hour))
	if err != nil {
		test.Fatalf("input: %v", err)
	}
	first, err := service.AddStock(context.Background(), account.ID, input)
	if err != nil {
		test.Fatalf("add: %v", err)
	}
	input.Units = 5
	if _, err := service.AddStock(context.Background(), account.ID, input); err != nil {
		test.Fatalf("add: %v", err)
	}
	if err := service.DeleteStock(context.Background(), account.ID, first.ID); err != nil {
		test.Fatalf("delete: %v", err)
	}

	matches, err := service.QueryAvailability(context.Background(), ledger.AvailabilityFilter{BloodType: ledger.BloodTypeAPositive, City: ledger.CityDelhi})
	if err != nil {
		test.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || len(matches[0].Batches) != 1 || matches[0].Batches[0].Units != 5 {
		test.Fatalf("unexpected matches: %+v", matches)
	}
	view, err := service.AccountView(context.Background(), account.ID)
	if err != nil {
		test.Fatalf("view: %v", err)
	}
	if view.Summary.Units(ledger.BloodTypeAPositive) != 5 {
		test.Fatalf("expected summary 5, got %d", view.Summary.Units(ledger.BloodTypeAPositive))
	}
}
