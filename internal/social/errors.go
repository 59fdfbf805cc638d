package social

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("social: not found")
	ErrInvalidInput        = errors.New("social: invalid input")
	ErrUnsupportedPlatform = errors.New("social: unsupported platform")
	ErrStatusConflict      = errors.New("social: post status changed concurrently")
)

// OAuth exchange stages.
const (
	StageCodeExchange      = "code-exchange"
	StageTokenUpgrade      = "token-upgrade"
	StageAccountResolution = "account-resolution"
)

// OAuthError reports a failed authorization code exchange. The user has to
// restart authorization; codes are single-use so nothing is retried.
type OAuthError struct {
	Platform Platform
	Stage    string
	// Code is a short machine readable reason such as "no_pages".
	Code    string
	Message string
	Err     error
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s oauth %s failed: %s", e.Platform, e.Stage, e.Message)
}

func (e *OAuthError) Unwrap() error { return e.Err }

// PublishError is returned by the publish router for any adapter failure.
type PublishError struct {
	Platform Platform
	Reason   string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("Failed to publish to %s: %s", e.Platform, e.Reason)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PreconditionError is raised before any network call when content cannot be
// published as-is, e.g. an Instagram post without an image.
type PreconditionError struct {
	Platform Platform
	Message  string
}

func (e *PreconditionError) Error() string { return e.Message }

// CredentialMissingError means the owner never connected the platform.
type CredentialMissingError struct {
	UserID   string
	Platform Platform
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("No %s account connected", e.Platform)
}

// CredentialExpiredError means the stored access token is past its expiry.
type CredentialExpiredError struct {
	UserID    string
	Platform  Platform
	ExpiredAt time.Time
}

func (e *CredentialExpiredError) Error() string {
	return fmt.Sprintf("%s access token expired at %s, please reconnect your account",
		e.Platform.DisplayName(), e.ExpiredAt.UTC().Format(time.RFC3339))
}
