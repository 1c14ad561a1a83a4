package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coreybb/datapusher/models"
)

type DestinationRepository struct {
	db *sql.DB
}

func NewDestinationRepository(db *sql.DB) *DestinationRepository {
	return &DestinationRepository{db: db}
}

const destinationColumns = `destination_id, account_id, url, http_method, headers`

func scanDestination(row rowScanner) (*models.Destination, error) {
	var (
		dest    models.Destination
		headers []byte
	)
	if err := row.Scan(&dest.ID, &dest.AccountID, &dest.URL, &dest.HTTPMethod, &headers); err != nil {
		return nil, err
	}
	dest.Headers = map[string]string{}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &dest.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers of destination %d: %w", dest.ID, err)
		}
	}
	return &dest, nil
}

func encodeHeaders(headers map[string]string) (string, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("failed to encode headers: %w", err)
	}
	return string(raw), nil
}

// CreateDestination inserts dest after confirming its account exists.
// An unknown account yields an error wrapping sql.ErrNoRows.
func (r *DestinationRepository) CreateDestination(ctx context.Context, dest *models.Destination) error {
	var accountID int64
	err := r.db.QueryRowContext(ctx, `SELECT account_id FROM accounts WHERE account_id = $1`, dest.AccountID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("account not found: %w", err)
		}
		return fmt.Errorf("failed to check account %d: %w", dest.AccountID, err)
	}

	headers, err := encodeHeaders(dest.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO destinations (account_id, url, http_method, headers)
		VALUES ($1, $2, $3, $4)
		RETURNING destination_id
	`
	if err := r.db.QueryRowContext(ctx, query, dest.AccountID, dest.URL, dest.HTTPMethod, headers).Scan(&dest.ID); err != nil {
		return fmt.Errorf("failed to insert destination: %w", err)
	}
	return nil
}

func (r *DestinationRepository) GetDestinationByID(ctx context.Context, destinationID int64) (*models.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE destination_id = $1`
	dest, err := scanDestination(r.db.QueryRowContext(ctx, query, destinationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("destination not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get destination by ID: %w", err)
	}
	return dest, nil
}

// GetDestinationsByAccountID returns every destination of the account, or an
// empty slice when it has none.
func (r *DestinationRepository) GetDestinationsByAccountID(ctx context.Context, accountID int64) ([]models.Destination, error) {
	query := `
		SELECT ` + destinationColumns + `
		FROM destinations
		WHERE account_id = $1
		ORDER BY destination_id
	`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations for account %d: %w", accountID, err)
	}
	defer rows.Close()

	destinations := []models.Destination{}
	for rows.Next() {
		dest, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan destination row for account %d: %w", accountID, err)
		}
		destinations = append(destinations, *dest)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating destination rows for account %d: %w", accountID, err)
	}
	return destinations, nil
}

// UpdateDestination writes url, method and headers of an existing destination.
func (r *DestinationRepository) UpdateDestination(ctx context.Context, dest *models.Destination) error {
	headers, err := encodeHeaders(dest.Headers)
	if err != nil {
		return err
	}
	query := `UPDATE destinations SET url = $1, http_method = $2, headers = $3 WHERE destination_id = $4`
	res, err := r.db.ExecContext(ctx, query, dest.URL, dest.HTTPMethod, headers, dest.ID)
	if err != nil {
		return fmt.Errorf("failed to update destination %d: %w", dest.ID, err)
	}
	return expectAffected(res, "destination")
}

func (r *DestinationRepository) DeleteDestination(ctx context.Context, destinationID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM destinations WHERE destination_id = $1`, destinationID)
	if err != nil {
		return fmt.Errorf("failed to delete destination %d: %w", destinationID, err)
	}
	return expectAffected(res, "destination")
}
