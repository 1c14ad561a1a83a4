package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coreybb/datapusher/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const accountColumns = `account_id, email, account_name, app_secret_token, website`

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account models.Account
		website sql.NullString
	)
	if err := row.Scan(&account.ID, &account.Email, &account.Name, &account.AppSecretToken, &website); err != nil {
		return nil, err
	}
	if website.Valid {
		account.Website = &website.String
	}
	return &account, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateAccount inserts the account and sets its ID from the store.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (email, account_name, app_secret_token, website)
		VALUES ($1, $2, $3, $4)
		RETURNING account_id
	`
	err := r.db.QueryRowContext(ctx, query,
		account.Email, account.Name, account.AppSecretToken, nullableString(account.Website),
	).Scan(&account.ID)
	if err != nil {
		if isUniqueViolation(err, "email") {
			return fmt.Errorf("failed to insert account %s: %w", account.Email, ErrDuplicateEmail)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, accountID int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}
	return account, nil
}

// GetAccountByToken resolves the account owning an app secret token.
func (r *AccountRepository) GetAccountByToken(ctx context.Context, token string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE app_secret_token = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account not found for token: %w", err)
		}
		return nil, fmt.Errorf("failed to get account by token: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) GetAccounts(ctx context.Context) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY account_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}
	return accounts, nil
}

// UpdateAccount writes the mutable fields (name and website) of the account.
func (r *AccountRepository) UpdateAccount(ctx context.Context, account *models.Account) error {
	query := `UPDATE accounts SET account_name = $1, website = $2 WHERE account_id = $3`
	res, err := r.db.ExecContext(ctx, query, account.Name, nullableString(account.Website), account.ID)
	if err != nil {
		return fmt.Errorf("failed to update account %d: %w", account.ID, err)
	}
	return expectAffected(res, "account")
}

// DeleteAccount removes the account; its destinations go with it.
func (r *AccountRepository) DeleteAccount(ctx context.Context, accountID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account %d: %w", accountID, err)
	}
	return expectAffected(res, "account")
}

func expectAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %w", entity, sql.ErrNoRows)
	}
	return nil
}
