package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"postwise.io/internal/ids"
	"postwise.io/internal/social"
)

// Posts implements social.PostStore over the contents table.
type Posts struct {
	db *sql.DB
}

var _ social.PostStore = (*Posts)(nil)

const postColumns = `id, owner_id, platform, text, hashtags, image_url, status, scheduled_at, published_at, failure_reason, external_id, created_at, updated_at`

func (s *Posts) Create(ctx context.Context, post *social.Post) error {
	if post == nil || post.OwnerID == "" || post.Platform == "" {
		return social.ErrInvalidInput
	}
	now := time.Now().UTC()
	if post.ID == "" {
		post.ID = ids.NewAt(now)
	}
	if post.Status == "" {
		post.Status = social.StatusDraft
	}
	tags := post.Hashtags
	if tags == nil {
		tags = []string{}
	}
	hashtags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode hashtags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into contents(id, owner_id, platform, text, hashtags, image_url, status, scheduled_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`, post.ID, post.OwnerID, string(post.Platform), post.Text, string(hashtags), post.ImageURL,
		string(post.Status), post.ScheduledAt, now)
	if err != nil {
		return err
	}
	post.CreatedAt = now
	post.UpdatedAt = now
	return nil
}

func (s *Posts) Get(ctx context.Context, id string) (social.Post, error) {
	row := s.db.QueryRowContext(ctx, `select `+postColumns+` from contents where id=$1`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return social.Post{}, social.ErrNotFound
	}
	return p, err
}

func (s *Posts) FindDue(ctx context.Context, now time.Time, limit int) ([]social.Post, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+postColumns+`
		from contents
		where status='scheduled' and scheduled_at <= $1
		order by scheduled_at asc, created_at asc
		limit $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []social.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateStatus is a compare-and-set on status; zero affected rows means the
// post is gone or another writer moved it first.
func (s *Posts) UpdateStatus(ctx context.Context, id string, expected []social.Status, upd social.StatusUpdate) error {
	if len(expected) == 0 {
		return social.ErrInvalidInput
	}
	in, inArgs := statusPlaceholders(6, expected)
	args := append([]any{id, string(upd.Status), upd.PublishedAt, upd.FailureReason, upd.ExternalID}, inArgs...)
	res, err := s.db.ExecContext(ctx, `
		update contents
		set status=$2,
		    published_at=coalesce($3, published_at),
		    failure_reason=$4,
		    external_id=case when $5 = '' then external_id else $5 end,
		    updated_at=now()
		where id=$1 and status in (`+in+`)
	`, args...)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id)
}

func (s *Posts) Reschedule(ctx context.Context, id string, at time.Time) error {
	in, inArgs := statusPlaceholders(3, social.Reschedulable)
	args := append([]any{id, at.UTC()}, inArgs...)
	res, err := s.db.ExecContext(ctx, `
		update contents
		set status='scheduled', scheduled_at=$2, failure_reason='', updated_at=now()
		where id=$1 and status in (`+in+`)
	`, args...)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id)
}

func (s *Posts) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `select status from contents where id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return social.ErrNotFound
	}
	if err != nil {
		return err
	}
	return social.ErrStatusConflict
}

func scanPost(row scanner) (social.Post, error) {
	var (
		p         social.Post
		platform  string
		status    string
		hashtags  []byte
		scheduled sql.NullTime
		published sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &platform, &p.Text, &hashtags, &p.ImageURL, &status,
		&scheduled, &published, &p.FailureReason, &p.ExternalID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return social.Post{}, err
	}
	if len(hashtags) > 0 {
		if err := json.Unmarshal(hashtags, &p.Hashtags); err != nil {
			return social.Post{}, fmt.Errorf("decode hashtags of %s: %w", p.ID, err)
		}
	}
	p.Platform = social.Platform(platform)
	p.Status = social.Status(status)
	p.ScheduledAt = nullTime(scheduled)
	p.PublishedAt = nullTime(published)
	return p, nil
}
