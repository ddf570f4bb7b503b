package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service contains the ledger logic over a Store.
type Service struct {
	store        Store
	nowFn        func() time.Time
	newID        func() string
	maxAttempts  int
	passwordCost int
	cache        AvailabilityCache
	loggers      []OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:        store,
		nowFn:        now,
		newID:        uuid.NewString,
		maxAttempts:  defaultMaxAttempts,
		passwordCost: defaultPasswordCost,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be positive", ErrInvalidServiceConfig)
	}
	if service.newID == nil {
		return nil, fmt.Errorf("%w: id generator is nil", ErrInvalidServiceConfig)
	}
	return service, nil
}

// AddStock appends a new batch to the bank's ledger.
func (service *Service) AddStock(ctx context.Context, bankID BankID, input StockInput) (StockBatch, error) {
	var created StockBatch
	attempts, reconciled, operationError := service.validateThenMutate(ctx, bankID, input.validate, func(account *Account, now time.Time) (bool, error) {
		batchID, err := NewBatchID(service.newID())
		if err != nil {
			return false, err
		}
		batch, reconciled := account.appendBatch(StockBatch{
			ID:        batchID,
			Component: input.Component,
			BloodType: input.BloodType,
			City:      input.City,
			Units:     input.Units,
			ExpiresAt: input.ExpiresAt,
			AddedAt:   now,
		}, now)
		created = batch
		return reconciled, nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationAddStock,
		BankID:     bankID,
		BatchID:    created.ID,
		BloodType:  input.BloodType,
		Units:      input.Units,
		Attempts:   attempts,
		Reconciled: reconciled,
		Error:      operationError,
	})
	if operationError != nil {
		return StockBatch{}, operationError
	}
	return created, nil
}

// UpdateStock replaces a batch's units and expiry.
func (service *Service) UpdateStock(ctx context.Context, bankID BankID, batchID BatchID, units Units, expiresAt time.Time) (StockBatch, error) {
	validate := func() error {
		if _, err := NewBatchID(batchID.String()); err != nil {
			return err
		}
		if _, err := NewUnits(units.Int64()); err != nil {
			return err
		}
		_, err := NewExpiry(expiresAt)
		return err
	}
	var updated StockBatch
	attempts, reconciled, operationError := service.validateThenMutate(ctx, bankID, validate, func(account *Account, now time.Time) (bool, error) {
		batch, reconciled, err := account.updateBatch(batchID, units, expiresAt.UTC(), now)
		if err != nil {
			return false, WrapError("service", "stock", "lookup", err)
		}
		updated = batch
		return reconciled, nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUpdateStock,
		BankID:     bankID,
		BatchID:    batchID,
		BloodType:  updated.BloodType,
		Units:      units,
		Attempts:   attempts,
		Reconciled: reconciled,
		Error:      operationError,
	})
	if operationError != nil {
		return StockBatch{}, operationError
	}
	return updated, nil
}

// DeleteStock removes a batch from the bank's ledger.
func (service *Service) DeleteStock(ctx context.Context, bankID BankID, batchID BatchID) error {
	validate := func() error {
		_, err := NewBatchID(batchID.String())
		return err
	}
	var removed StockBatch
	attempts, reconciled, operationError := service.validateThenMutate(ctx, bankID, validate, func(account *Account, now time.Time) (bool, error) {
		batch, reconciled, err := account.removeBatch(batchID, now)
		if err != nil {
			return false, WrapError("service", "stock", "lookup", err)
		}
		removed = batch
		return reconciled, nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationDeleteStock,
		BankID:     bankID,
		BatchID:    batchID,
		BloodType:  removed.BloodType,
		Units:      removed.Units,
		Attempts:   attempts,
		Reconciled: reconciled,
		Error:      operationError,
	})
	return operationError
}

// AccountView returns the bank's ledger with the summary evaluated at now.
func (service *Service) AccountView(ctx context.Context, bankID BankID) (AccountView, error) {
	if _, err := NewBankID(bankID.String()); err != nil {
		return AccountView{}, err
	}
	account, err := service.store.GetAccount(ctx, bankID)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		BankID:  account.ID,
		Info:    account.PublicInfo(),
		Batches: append([]StockBatch(nil), account.Batches...),
		Summary: account.SummaryAt(service.nowFn()),
	}, nil
}

// RegisterBank creates a blood bank account with an empty ledger.
func (service *Service) RegisterBank(ctx context.Context, registration Registration) (Account, error) {
	account, operationError := service.registerBank(ctx, registration)
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterBank,
		BankID:    account.ID,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	account.PasswordHash = ""
	return account, nil
}

func (service *Service) registerBank(ctx context.Context, registration Registration) (Account, error) {
	validated, err := NewRegistration(registration.Profile, registration.Password)
	if err != nil {
		return Account{}, err
	}
	bankID, err := NewBankID(service.newID())
	if err != nil {
		return Account{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(validated.Password), service.passwordCost)
	if err != nil {
		return Account{}, WrapError("service", "account", "hash_password", err)
	}
	account := Account{
		ID:           bankID,
		Profile:      validated.Profile,
		PasswordHash: string(hash),
		Batches:      []StockBatch{},
		CreatedAt:    service.nowFn().UTC(),
	}
	if err := service.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// AuthenticateBank checks a dashboard login and returns the bank it belongs
// to. Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (service *Service) AuthenticateBank(ctx context.Context, email string, password string) (BankID, error) {
	bankID, operationError := service.authenticateBank(ctx, email, password)
	service.logOperation(ctx, OperationLog{
		Operation: operationAuthenticate,
		BankID:    bankID,
		Error:     operationError,
	})
	return bankID, operationError
}

func (service *Service) authenticateBank(ctx context.Context, email string, password string) (BankID, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" || password == "" {
		return BankID{}, WrapError("service", "account", "authenticate", ErrInvalidCredentials)
	}
	account, err := service.store.FindAccountByEmail(ctx, normalized)
	if errors.Is(err, ErrUnknownAccount) {
		return BankID{}, WrapError("service", "account", "authenticate", ErrInvalidCredentials)
	}
	if err != nil {
		return BankID{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return BankID{}, WrapError("service", "account", "authenticate", ErrInvalidCredentials)
		}
		return BankID{}, WrapError("service", "account", "compare_password", err)
	}
	return account.ID, nil
}

func (service *Service) validateThenMutate(ctx context.Context, bankID BankID, validate func() error, mutate func(account *Account, now time.Time) (bool, error)) (int, bool, error) {
	if _, err := NewBankID(bankID.String()); err != nil {
		return 0, false, err
	}
	if err := validate(); err != nil {
		return 0, false, WrapError("service", "stock", "invalid", err)
	}
	return service.mutateAccount(ctx, bankID, mutate)
}

// mutateAccount runs a compare-and-swap read-modify-write against one account,
// redoing the whole cycle when another writer committed first.
func (service *Service) mutateAccount(ctx context.Context, bankID BankID, mutate func(account *Account, now time.Time) (bool, error)) (int, bool, error) {
	var lastConflict error
	for attempt := 1; attempt <= service.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, false, WrapError("service", "account", "canceled", err)
		}
		account, err := service.store.GetAccount(ctx, bankID)
		if err != nil {
			return attempt, false, err
		}
		expectedVersion := account.Version
		now := service.nowFn()
		reconciled := account.reconcileLapsed(now)
		mutationReconciled, err := mutate(&account, now)
		if err != nil {
			return attempt, false, err
		}
		err = service.store.SaveAccount(ctx, account, expectedVersion)
		if err == nil {
			service.invalidateAvailability(ctx)
			return attempt, reconciled || mutationReconciled, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return attempt, false, err
		}
		lastConflict = err
	}
	return service.maxAttempts, false, WrapError("service", "account", "retries_exhausted", lastConflict)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}
