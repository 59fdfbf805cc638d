package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"postwise.io/internal/obs"
	"postwise.io/internal/platform"
	"postwise.io/internal/social"
)

// Page is a Facebook page managed by the authorizing user.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

// PageSelector picks the page to publish as. pages is never empty.
type PageSelector func(pages []Page) (Page, error)

// FirstPage selects the first page Graph returns.
func FirstPage(pages []Page) (Page, error) {
	return pages[0], nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Meta exchanges codes for Facebook and Instagram. Both share the Graph
// flow; Instagram adds the business account lookup.
type Meta struct {
	network    social.Platform
	cfg        Config
	graphURL   string
	client     *platform.Client
	selectPage PageSelector
	now        func() time.Time
}

// MetaOption configures Meta.
type MetaOption func(*Meta)

// WithPageSelector overrides the default first-page choice.
func WithPageSelector(sel PageSelector) MetaOption {
	return func(m *Meta) {
		if sel != nil {
			m.selectPage = sel
		}
	}
}

// WithMetaClock overrides the clock used to compute token expiry.
func WithMetaClock(now func() time.Time) MetaOption {
	return func(m *Meta) {
		if now != nil {
			m.now = now
		}
	}
}

// NewFacebook returns the Facebook page exchanger.
func NewFacebook(cfg Config, graphURL string, client *platform.Client, opts ...MetaOption) *Meta {
	return newMeta(social.Facebook, cfg, graphURL, client, opts)
}

// NewInstagram returns the Instagram business account exchanger.
func NewInstagram(cfg Config, graphURL string, client *platform.Client, opts ...MetaOption) *Meta {
	return newMeta(social.Instagram, cfg, graphURL, client, opts)
}

func newMeta(p social.Platform, cfg Config, graphURL string, client *platform.Client, opts []MetaOption) *Meta {
	m := &Meta{
		network:    p,
		cfg:        cfg,
		graphURL:   strings.TrimRight(graphURL, "/"),
		client:     client,
		selectPage: FirstPage,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Meta) Platform() social.Platform { return m.network }

// Exchange runs code exchange, long-lived upgrade, page resolution and, for
// Instagram, the business account lookup. Any failure aborts the flow.
func (m *Meta) Exchange(ctx context.Context, code string) (Grant, error) {
	var short tokenResponse
	_, err := m.client.Do(ctx, platform.Request{
		URL: m.graphURL + "/oauth/access_token",
		Query: url.Values{
			"client_id":     {m.cfg.ClientID},
			"redirect_uri":  {m.cfg.RedirectURI},
			"client_secret": {m.cfg.ClientSecret},
			"code":          {code},
		},
	}, &short)
	if err == nil && short.AccessToken == "" {
		err = errors.New("no access token in response")
	}
	if err != nil {
		return Grant{}, stageError(m.network, social.StageCodeExchange, err)
	}

	var long tokenResponse
	_, err = m.client.Do(ctx, platform.Request{
		URL: m.graphURL + "/oauth/access_token",
		Query: url.Values{
			"grant_type":        {"fb_exchange_token"},
			"client_id":         {m.cfg.ClientID},
			"client_secret":     {m.cfg.ClientSecret},
			"fb_exchange_token": {short.AccessToken},
		},
	}, &long)
	if err == nil && long.AccessToken == "" {
		err = errors.New("no access token in response")
	}
	if err != nil {
		return Grant{}, stageError(m.network, social.StageTokenUpgrade, err)
	}
	expiresAt := expiryFrom(m.now(), long.ExpiresIn)

	page, err := m.resolvePage(ctx, long.AccessToken)
	if err != nil {
		return Grant{}, err
	}

	grant := Grant{
		AccessToken: page.AccessToken,
		ExpiresAt:   expiresAt,
		AccountID:   page.ID,
		DisplayName: page.Name,
	}
	if m.network != social.Instagram {
		return grant, nil
	}

	igID, err := m.instagramAccount(ctx, page)
	if err != nil {
		return Grant{}, err
	}
	grant.AccountID = igID
	return grant, nil
}

func (m *Meta) resolvePage(ctx context.Context, userToken string) (Page, error) {
	var pages struct {
		Data []Page `json:"data"`
	}
	_, err := m.client.Do(ctx, platform.Request{
		URL:   m.graphURL + "/me/accounts",
		Query: url.Values{"access_token": {userToken}},
	}, &pages)
	if err != nil {
		return Page{}, stageError(m.network, social.StageAccountResolution, err)
	}
	if len(pages.Data) == 0 {
		return Page{}, &social.OAuthError{
			Platform: m.network,
			Stage:    social.StageAccountResolution,
			Code:     CodeNoPages,
			Message:  "no Facebook pages found for this account",
			Err:      ErrNoPages,
		}
	}
	page, err := m.selectPage(pages.Data)
	if err != nil {
		return Page{}, stageError(m.network, social.StageAccountResolution, err)
	}
	if len(pages.Data) > 1 {
		obs.Logger().WithFields(logrus.Fields{
			"platform": m.network.String(),
			"pages":    len(pages.Data),
			"page_id":  page.ID,
		}).Info("oauth_page_selected")
	}
	return page, nil
}

func (m *Meta) instagramAccount(ctx context.Context, page Page) (string, error) {
	var linked struct {
		ID      string `json:"id"`
		Account *struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
	}
	_, err := m.client.Do(ctx, platform.Request{
		URL: fmt.Sprintf("%s/%s", m.graphURL, url.PathEscape(page.ID)),
		Query: url.Values{
			"fields":       {"instagram_business_account"},
			"access_token": {page.AccessToken},
		},
	}, &linked)
	if err != nil || linked.Account == nil || linked.Account.ID == "" {
		return "", &social.OAuthError{
			Platform: m.network,
			Stage:    social.StageAccountResolution,
			Code:     CodeNoInstagram,
			Message:  "no Instagram business account linked to the selected page",
			Err:      errors.Join(ErrNoInstagram, err),
		}
	}
	return linked.Account.ID, nil
}
