package social

import (
	"strings"
	"time"
)

// Platform names a social network a post can be delivered to.
type Platform string

const (
	Facebook  Platform = "facebook"
	Instagram Platform = "instagram"
	LinkedIn  Platform = "linkedin"
)

var displayNames = map[Platform]string{
	Facebook:  "Facebook",
	Instagram: "Instagram",
	LinkedIn:  "LinkedIn",
}

// ParsePlatform normalises a user supplied platform name.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := displayNames[p]; !ok {
		return "", ErrUnsupportedPlatform
	}
	return p, nil
}

// IsSupported reports whether the platform has a known integration.
func IsSupported(raw string) bool {
	_, err := ParsePlatform(raw)
	return err == nil
}

// DisplayName returns the human readable platform name.
func (p Platform) DisplayName() string {
	if name, ok := displayNames[p]; ok {
		return name
	}
	return string(p)
}

func (p Platform) String() string { return string(p) }

// Status is the publish lifecycle state of a post.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// Credential is the stored OAuth grant for one (user, platform) pair.
type Credential struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Platform    Platform   `json:"platform"`
	AccountID   string     `json:"account_id"`
	AccountName string     `json:"account_name,omitempty"`
	AccessToken string     `json:"-"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Expired reports whether the credential expiry lies strictly before now.
// Credentials without an expiry never expire.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Post is the part of a content record the publish path reads and writes.
type Post struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Platform      Platform   `json:"platform"`
	Text          string     `json:"text"`
	Hashtags      []string   `json:"hashtags"`
	ImageURL      string     `json:"image_url,omitempty"`
	Status        Status     `json:"status"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ExternalID    string     `json:"external_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Content returns the publishable body of the post.
func (p Post) Content() Content {
	return Content{Text: p.Text, Hashtags: p.Hashtags, ImageURL: p.ImageURL}
}

// Content is the normalised body handed to the publish router.
type Content struct {
	Text     string
	Hashtags []string
	ImageURL string
}

// PublishResult identifies a post created on the remote platform.
type PublishResult struct {
	ID       string   `json:"id"`
	Platform Platform `json:"platform"`
}
