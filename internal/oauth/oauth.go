// Package oauth completes server-side authorization code exchanges for the
// supported social platforms and stores the resulting credentials.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"postwise.io/internal/audit"
	"postwise.io/internal/obs"
	"postwise.io/internal/social"
)

var (
	// ErrNoPages means the Meta user manages no Facebook page.
	ErrNoPages = errors.New("oauth: no facebook pages available")
	// ErrNoInstagram means the selected page has no linked Instagram business account.
	ErrNoInstagram = errors.New("oauth: no instagram business account linked")
)

// Error codes surfaced to the accounts page.
const (
	CodeNoPages     = "no_pages"
	CodeNoInstagram = "no_instagram"
)

// Config carries the client credentials of one platform application.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Grant is the outcome of a successful exchange.
type Grant struct {
	AccessToken string
	// ExpiresAt is nil for tokens without a declared lifetime.
	ExpiresAt   *time.Time
	AccountID   string
	DisplayName string
}

// Exchanger turns an authorization code into a publishing credential.
type Exchanger interface {
	Platform() social.Platform
	Exchange(ctx context.Context, code string) (Grant, error)
}

// Service routes callbacks to the platform exchanger and persists the grant.
type Service struct {
	creds      social.CredentialStore
	exchangers map[social.Platform]Exchanger
	log        *logrus.Logger
}

// NewService wires the given exchangers. A later exchanger for the same
// platform replaces an earlier one.
func NewService(creds social.CredentialStore, exchangers ...Exchanger) *Service {
	s := &Service{
		creds:      creds,
		exchangers: make(map[social.Platform]Exchanger, len(exchangers)),
		log:        obs.Logger(),
	}
	for _, ex := range exchangers {
		s.exchangers[ex.Platform()] = ex
	}
	return s
}

// Supports reports whether an exchanger is registered for platform.
func (s *Service) Supports(platform social.Platform) bool {
	_, ok := s.exchangers[platform]
	return ok
}

// Complete exchanges code for userID and upserts the (user, platform)
// credential. Nothing is stored when any exchange step fails.
func (s *Service) Complete(ctx context.Context, userID string, platform social.Platform, code string) (social.Credential, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return social.Credential{}, social.ErrInvalidInput
	}
	ex, ok := s.exchangers[platform]
	if !ok {
		return social.Credential{}, social.ErrUnsupportedPlatform
	}

	grant, err := ex.Exchange(ctx, code)
	if err != nil {
		obs.ObserveOAuth(platform.String(), "failure")
		s.log.WithFields(logrus.Fields{
			"platform": platform.String(),
			"user_id":  userID,
			"error":    err.Error(),
		}).Warn("oauth_exchange_failed")
		return social.Credential{}, err
	}

	cred := &social.Credential{
		UserID:      userID,
		Platform:    platform,
		AccountID:   grant.AccountID,
		AccountName: grant.DisplayName,
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		obs.ObserveOAuth(platform.String(), "failure")
		return social.Credential{}, fmt.Errorf("store %s credential: %w", platform, err)
	}
	obs.ObserveOAuth(platform.String(), "success")

	fields := map[string]any{
		"platform":   platform.String(),
		"account_id": cred.AccountID,
	}
	if cred.ExpiresAt != nil {
		fields["expires_at"] = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_ = audit.LogEvent(ctx, "social.credential_connected", fields)
	return *cred, nil
}

// ErrorCode returns the short reason used in the callback redirect.
func ErrorCode(err error) string {
	var oe *social.OAuthError
	if errors.As(err, &oe) && oe.Code != "" {
		return oe.Code
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func stageError(p social.Platform, stage string, err error) error {
	return &social.OAuthError{Platform: p, Stage: stage, Message: err.Error(), Err: err}
}

func expiryFrom(now time.Time, seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	at := now.Add(time.Duration(seconds) * time.Second).UTC()
	return &at
}
