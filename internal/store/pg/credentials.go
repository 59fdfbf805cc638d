package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"postwise.io/internal/ids"
	"postwise.io/internal/social"
)

// Credentials implements social.CredentialStore.
type Credentials struct {
	db *sql.DB
}

var _ social.CredentialStore = (*Credentials)(nil)

const credentialColumns = `id, user_id, platform, account_id, account_name, access_token, expires_at, created_at, updated_at`

func (s *Credentials) Get(ctx context.Context, userID string, platform social.Platform) (social.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+credentialColumns+`
		from social_credentials
		where user_id=$1 and platform=$2
	`, userID, string(platform))
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return social.Credential{}, social.ErrNotFound
	}
	return cred, err
}

// Upsert keeps the row identity and created_at of an existing (user, platform) credential.
func (s *Credentials) Upsert(ctx context.Context, cred *social.Credential) error {
	if cred == nil || cred.UserID == "" || cred.Platform == "" {
		return social.ErrInvalidInput
	}
	now := time.Now().UTC()
	return s.db.QueryRowContext(ctx, `
		insert into social_credentials(id, user_id, platform, account_id, account_name, access_token, expires_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		on conflict (user_id, platform) do update
		set account_id = excluded.account_id,
		    account_name = excluded.account_name,
		    access_token = excluded.access_token,
		    expires_at = excluded.expires_at,
		    updated_at = excluded.updated_at
		returning id, created_at, updated_at
	`, ids.NewAt(now), cred.UserID, string(cred.Platform), cred.AccountID, cred.AccountName,
		cred.AccessToken, cred.ExpiresAt, now).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
}

func (s *Credentials) ListByUser(ctx context.Context, userID string) ([]social.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+credentialColumns+`
		from social_credentials
		where user_id=$1
		order by platform asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []social.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cred)
	}
	return res, rows.Err()
}

func (s *Credentials) Delete(ctx context.Context, userID string, platform social.Platform) error {
	res, err := s.db.ExecContext(ctx, `delete from social_credentials where user_id=$1 and platform=$2`, userID, string(platform))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return social.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (social.Credential, error) {
	var (
		c        social.Credential
		platform string
		expires  sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &platform, &c.AccountID, &c.AccountName, &c.AccessToken, &expires, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return social.Credential{}, err
	}
	c.Platform = social.Platform(platform)
	c.ExpiresAt = nullTime(expires)
	return c, nil
}
