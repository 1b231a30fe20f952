package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	referral "github.com/phbpx/referral-api"
)

// lib/pq errorCodeNames
// https://github.com/lib/pq/blob/master/error.go#L178
const uniqueViolation = "23505"

const (
	findReferrer = `SELECT id FROM referrer WHERE email = $1 OR whatsapp = $2 LIMIT 1`
	findClient   = `SELECT id FROM client WHERE email = $1 OR whatsapp = $2 LIMIT 1`

	insertReferrer = `
	INSERT INTO referrer (
		id, name, whatsapp, email, heard_about
	) VALUES (
		$1, $2, $3, $4, $5
	)`

	insertClient = `
	INSERT INTO client (
		id, name, whatsapp, email, service_type, description, referrer_id
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7
	)`
)

type ReferralService struct {
	db *sqlx.DB
}

func NewReferralService(db *sqlx.DB) referral.ReferralService {
	return &ReferralService{
		db: db,
	}
}

// Submit runs the referrer lookup-or-insert and the client insert in one
// transaction. Nothing survives unless the commit is reached.
func (rs ReferralService) Submit(ctx context.Context, referrer referral.Referrer, client referral.Client) (string, error) {
	tx, err := rs.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	referrerID, err := resolveReferrer(ctx, tx, referrer)
	if err != nil {
		return "", err
	}

	var existing string
	err = tx.GetContext(ctx, &existing, findClient, client.Email, client.Phone)
	switch {
	case err == nil:
		return "", referral.ErrDuplicateClient
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("find client: %w", err)
	}

	_, err = tx.ExecContext(ctx, insertClient,
		uuid.NewString(),
		client.Name,
		client.Phone,
		client.Email,
		client.ServiceType,
		client.Description,
		referrerID,
	)
	if err != nil {
		var pqerr *pq.Error
		if errors.As(err, &pqerr) && pqerr.Code == uniqueViolation {
			return "", referral.ErrDuplicateClient
		}
		return "", fmt.Errorf("insert client: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	committed = true

	return referrerID, nil
}

// resolveReferrer returns the id of the referrer sharing email or phone,
// inserting a new row when there is none.
func resolveReferrer(ctx context.Context, tx *sqlx.Tx, referrer referral.Referrer) (string, error) {
	var id string
	err := tx.GetContext(ctx, &id, findReferrer, referrer.Email, referrer.Phone)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find referrer: %w", err)
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, insertReferrer,
		id,
		referrer.Name,
		referrer.Phone,
		referrer.Email,
		referrer.Source,
	)
	if err != nil {
		return "", fmt.Errorf("insert referrer: %w", err)
	}

	return id, nil
}
