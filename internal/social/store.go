package social

import (
	"context"
	"time"
)

// CredentialStore persists OAuth credentials keyed by (user, platform).
type CredentialStore interface {
	// Get returns ErrNotFound when the user has not connected the platform.
	Get(ctx context.Context, userID string, platform Platform) (Credential, error)
	// Upsert inserts or replaces the credential for (cred.UserID, cred.Platform).
	Upsert(ctx context.Context, cred *Credential) error
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	Delete(ctx context.Context, userID string, platform Platform) error
}

// StatusUpdate describes the fields written by a status transition.
type StatusUpdate struct {
	Status        Status
	PublishedAt   *time.Time
	FailureReason string
	ExternalID    string
}

// PostStore is the view of the content repository used by the publish path.
type PostStore interface {
	Create(ctx context.Context, post *Post) error
	Get(ctx context.Context, id string) (Post, error)
	// FindDue returns up to limit posts with status scheduled and
	// scheduled_at <= now, in the store's default order.
	FindDue(ctx context.Context, now time.Time, limit int) ([]Post, error)
	// UpdateStatus applies upd only while the post is in one of the expected
	// states and returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id string, expected []Status, upd StatusUpdate) error
	// Reschedule moves a draft, failed or scheduled post back to scheduled.
	Reschedule(ctx context.Context, id string, at time.Time) error
}

// Reschedulable lists the states a post may be rescheduled from.
var Reschedulable = []Status{StatusDraft, StatusScheduled, StatusFailed}
