package oauth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"postwise.io/internal/platform"
	"postwise.io/internal/social"
)

const personURNPrefix = "urn:li:person:"

// LinkedIn exchanges codes against the LinkedIn OAuth 2.0 endpoints and
// resolves the member id used as the post author.
type LinkedIn struct {
	cfg     Config
	authURL string
	apiURL  string
	client  *platform.Client
	now     func() time.Time
}

// NewLinkedIn builds the exchanger. authURL is the oauth/v2 base, apiURL the v2 REST base.
func NewLinkedIn(cfg Config, authURL, apiURL string, client *platform.Client) *LinkedIn {
	return &LinkedIn{
		cfg:     cfg,
		authURL: strings.TrimRight(authURL, "/"),
		apiURL:  strings.TrimRight(apiURL, "/"),
		client:  client,
		now:     time.Now,
	}
}

func (l *LinkedIn) Platform() social.Platform { return social.LinkedIn }

func (l *LinkedIn) Exchange(ctx context.Context, code string) (Grant, error) {
	var tok tokenResponse
	_, err := l.client.Do(ctx, platform.Request{
		Method: "POST",
		URL:    l.authURL + "/accessToken",
		Form: url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {l.cfg.ClientID},
			"client_secret": {l.cfg.ClientSecret},
			"redirect_uri":  {l.cfg.RedirectURI},
		},
	}, &tok)
	if err == nil && tok.AccessToken == "" {
		err = errors.New("no access token in response")
	}
	if err != nil {
		return Grant{}, stageError(social.LinkedIn, social.StageCodeExchange, err)
	}

	var profile struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	_, err = l.client.Do(ctx, platform.Request{
		URL:    l.apiURL + "/userinfo",
		Bearer: tok.AccessToken,
	}, &profile)
	if err == nil && strings.TrimSpace(profile.Sub) == "" {
		err = errors.New("profile has no member id")
	}
	if err != nil {
		return Grant{}, stageError(social.LinkedIn, social.StageAccountResolution, err)
	}

	return Grant{
		AccessToken: tok.AccessToken,
		ExpiresAt:   expiryFrom(l.now(), tok.ExpiresIn),
		AccountID:   AuthorURN(profile.Sub),
		DisplayName: profile.Name,
	}, nil
}

// AuthorURN normalises a LinkedIn member id into a person URN.
func AuthorURN(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "urn:li:") {
		return id
	}
	return personURNPrefix + id
}
