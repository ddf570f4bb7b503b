package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/internal/store/storedoc"
	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectSchema    = "schema"
	errorCodeConflict     = "conflict"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeEncode       = "encode"
	errorCodeFindByEmail  = "find_by_email"
	errorCodeGet          = "get"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeMigrate      = "migrate"
	errorCodeSave         = "save"

	sqlCreateSchema = `
		create table if not exists blood_banks (
			bank_id text primary key,
			name text not null,
			hospital text not null,
			category text not null,
			contact_person text not null,
			email text not null,
			contact_no text not null,
			license_no text not null,
			address text not null,
			pincode text not null,
			city text not null,
			password_hash text not null,
			batches jsonb not null default '[]'::jsonb,
			summary jsonb not null default '{}'::jsonb,
			version bigint not null default 0,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now(),
			constraint blood_banks_email_key unique (email),
			constraint blood_banks_license_no_key unique (license_no)
		);
		create index if not exists idx_blood_banks_city on blood_banks(city);
	`

	sqlInsertAccount = `
		insert into blood_banks(
			bank_id, name, hospital, category, contact_person, email, contact_no,
			license_no, address, pincode, city, password_hash, batches, summary, version, created_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb, 0, $15)
	`

	sqlSelectColumns = `
		select
			bank_id, name, hospital, category, contact_person, email, contact_no,
			license_no, address, pincode, city, password_hash,
			batches::text, summary::text, version, created_at
		from blood_banks
	`

	sqlSelectAccount = sqlSelectColumns + ` where bank_id = $1`

	sqlSelectAccountByEmail = sqlSelectColumns + ` where email = $1`

	sqlListAccounts = sqlSelectColumns + `
		where ($1 = '' or city = $1)
		order by name asc, bank_id asc
	`

	sqlCompareAndSwap = `
		update blood_banks
		set batches = $3::jsonb, summary = $4::jsonb, version = $2 + 1, updated_at = now()
		where bank_id = $1 and version = $2
	`

	sqlAccountExists = `select exists(select 1 from blood_banks where bank_id = $1)`
)

// Store implements ledger.Store using a pgx connection pool (autocommit).
// The CAS update is a single statement, so no explicit transaction is needed.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the blood_banks table when it is missing.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	batches, err := storedoc.EncodeBatches(account.Batches)
	if err != nil {
		return wrapStoreError(errorCodeEncode, err)
	}
	summary, err := storedoc.EncodeSummary(account.Summary)
	if err != nil {
		return wrapStoreError(errorCodeEncode, err)
	}
	createdAt := account.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	profile := account.Profile
	_, err = store.pool.Exec(ctx, sqlInsertAccount,
		account.ID.String(),
		profile.Name,
		profile.Hospital,
		profile.Category,
		profile.ContactPerson,
		profile.Email,
		profile.ContactNo,
		profile.LicenseNo,
		profile.Address,
		profile.Pincode,
		profile.City.String(),
		account.PasswordHash,
		string(batches),
		string(summary),
		createdAt,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, bankID ledger.BankID) (ledger.Account, error) {
	account, err := scanAccount(store.pool.QueryRow(ctx, sqlSelectAccount, bankID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeGet, err)
	}
	return account, nil
}

func (store *Store) FindAccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	account, err := scanAccount(store.pool.QueryRow(ctx, sqlSelectAccountByEmail, ledger.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorCodeFindByEmail, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeFindByEmail, err)
	}
	return account, nil
}

func (store *Store) SaveAccount(ctx context.Context, account ledger.Account, expectedVersion int64) error {
	batches, err := storedoc.EncodeBatches(account.Batches)
	if err != nil {
		return wrapStoreError(errorCodeEncode, err)
	}
	summary, err := storedoc.EncodeSummary(account.Summary)
	if err != nil {
		return wrapStoreError(errorCodeEncode, err)
	}
	tag, err := store.pool.Exec(ctx, sqlCompareAndSwap, account.ID.String(), expectedVersion, string(batches), string(summary))
	if err != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeSave, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := store.pool.QueryRow(ctx, sqlAccountExists, account.ID.String()).Scan(&exists); err != nil {
		return ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeSave, err)
	}
	if !exists {
		return wrapStoreError(errorCodeSave, ledger.ErrUnknownAccount)
	}
	return wrapStoreError(errorCodeConflict, ledger.ErrVersionConflict)
}

func (store *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	rows, err := store.pool.Query(ctx, sqlListAccounts, filter.City.String())
	if err != nil {
		return nil, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeList, err)
	}
	defer rows.Close()
	accounts := make([]ledger.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StorageError(errorOperationStore, errorSubjectAccount, errorCodeList, err)
	}
	return accounts, nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		bankIDValue  string
		profile      ledger.Profile
		cityValue    string
		passwordHash string
		batchesJSON  string
		summaryJSON  string
		version      int64
		createdAt    time.Time
	)
	err := row.Scan(
		&bankIDValue,
		&profile.Name,
		&profile.Hospital,
		&profile.Category,
		&profile.ContactPerson,
		&profile.Email,
		&profile.ContactNo,
		&profile.LicenseNo,
		&profile.Address,
		&profile.Pincode,
		&cityValue,
		&passwordHash,
		&batchesJSON,
		&summaryJSON,
		&version,
		&createdAt,
	)
	if err != nil {
		return ledger.Account{}, err
	}
	bankID, err := ledger.NewBankID(bankIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	profile.City, err = ledger.ParseCity(cityValue)
	if err != nil {
		return ledger.Account{}, err
	}
	batches, err := storedoc.DecodeBatches([]byte(batchesJSON))
	if err != nil {
		return ledger.Account{}, err
	}
	summary, err := storedoc.DecodeSummary([]byte(summaryJSON))
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{
		ID:           bankID,
		Profile:      profile,
		PasswordHash: passwordHash,
		Batches:      batches,
		Summary:      summary,
		Version:      version,
		CreatedAt:    createdAt.UTC(),
	}, nil
}

func wrapStoreError(code string, err error) error {
	return ledger.WrapError(errorOperationStore, errorSubjectAccount, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
