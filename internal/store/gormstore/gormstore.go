package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/internal/store/storedoc"
	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectSchema    = "schema"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeEncode       = "encode"
	errorCodeFindByEmail  = "find_by_email"
	errorCodeGet          = "get"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeMigrate      = "migrate"
	errorCodeSave         = "save"
	errorCodeConflict     = "conflict"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the blood_banks table.
func (store *Store) Migrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(&BloodBank{}); err != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	model, err := toModel(account)
	if err != nil {
		return ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeEncode, err)
	}
	model.Version = 0
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, bankID ledger.BankID) (ledger.Account, error) {
	var model BloodBank
	err := store.db.WithContext(ctx).
		Where("bank_id = ?", bankID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeGet, err)
	}
	account, err := fromModel(model)
	if err != nil {
		return ledger.Account{}, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

// FindAccountByEmail looks an account up by its normalized login email.
func (store *Store) FindAccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	var model BloodBank
	err := store.db.WithContext(ctx).
		Where("email = ?", ledger.NormalizeEmail(email)).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeFindByEmail, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeFindByEmail, err)
	}
	account, err := fromModel(model)
	if err != nil {
		return ledger.Account{}, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

// SaveAccount writes the ledger fields only when the stored version still
// equals expectedVersion.
func (store *Store) SaveAccount(ctx context.Context, account ledger.Account, expectedVersion int64) error {
	batches, err := storedoc.EncodeBatches(account.Batches)
	if err != nil {
		return ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeEncode, err)
	}
	summary, err := storedoc.EncodeSummary(account.Summary)
	if err != nil {
		return ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeEncode, err)
	}
	result := store.db.WithContext(ctx).
		Model(&BloodBank{}).
		Where("bank_id = ? AND version = ?", account.ID.String(), expectedVersion).
		Updates(map[string]interface{}{
			"batches":    datatypes.JSON(batches),
			"summary":    datatypes.JSON(summary),
			"version":    expectedVersion + 1,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := store.db.WithContext(ctx).Model(&BloodBank{}).Where("bank_id = ?", account.ID.String()).Count(&count).Error; err != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeSave, err)
	}
	if count == 0 {
		return ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeSave, ledger.ErrUnknownAccount)
	}
	return ledger.WrapError(errorOperationStore, errorSubjectAccount, errorCodeConflict, ledger.ErrVersionConflict)
}

func (store *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	query := store.db.WithContext(ctx).Model(&BloodBank{})
	if filter.City != "" {
		query = query.Where("city = ?", filter.City.String())
	}
	var rows []BloodBank
	if err := query.Order("name ASC, bank_id ASC").Find(&rows).Error; err != nil {
		return nil, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		account, err := fromModel(row)
		if err != nil {
			return nil, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func toModel(account ledger.Account) (BloodBank, error) {
	batches, err := storedoc.EncodeBatches(account.Batches)
	if err != nil {
		return BloodBank{}, err
	}
	summary, err := storedoc.EncodeSummary(account.Summary)
	if err != nil {
		return BloodBank{}, err
	}
	createdAt := account.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	profile := account.Profile
	return BloodBank{
		BankID:        account.ID.String(),
		Name:          profile.Name,
		Hospital:      profile.Hospital,
		Category:      profile.Category,
		ContactPerson: profile.ContactPerson,
		Email:         profile.Email,
		ContactNo:     profile.ContactNo,
		LicenseNo:     profile.LicenseNo,
		Address:       profile.Address,
		Pincode:       profile.Pincode,
		City:          profile.City.String(),
		PasswordHash:  account.PasswordHash,
		Batches:       datatypes.JSON(batches),
		Summary:       datatypes.JSON(summary),
		Version:       account.Version,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}, nil
}

func fromModel(model BloodBank) (ledger.Account, error) {
	bankID, err := ledger.NewBankID(model.BankID)
	if err != nil {
		return ledger.Account{}, err
	}
	city, err := ledger.ParseCity(model.City)
	if err != nil {
		return ledger.Account{}, err
	}
	batches, err := storedoc.DecodeBatches(model.Batches)
	if err != nil {
		return ledger.Account{}, err
	}
	summary, err := storedoc.DecodeSummary(model.Summary)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{
		ID: bankID,
		Profile: ledger.Profile{
			Name:          model.Name,
			Hospital:      model.Hospital,
			Category:      model.Category,
			ContactPerson: model.ContactPerson,
			Email:         model.Email,
			ContactNo:     model.ContactNo,
			LicenseNo:     model.LicenseNo,
			Address:       model.Address,
			Pincode:       model.Pincode,
			City:          city,
		},
		PasswordHash: model.PasswordHash,
		Batches:      batches,
		Summary:      summary,
		Version:      model.Version,
		CreatedAt:    model.CreatedAt.UTC(),
	}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
