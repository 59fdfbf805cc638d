package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"postwise.io/internal/auth"
	"postwise.io/internal/dispatch"
	"postwise.io/internal/lock"
	"postwise.io/internal/oauth"
	"postwise.io/internal/social"
	"postwise.io/internal/store/memory"
)

const (
	testAuthSecret = "test-secret"
	testCronSecret = "cron-secret"
	testAppURL     = "https://app.example.com"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []social.Content
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, platform social.Platform, accessToken, accountID string, content social.Content) (social.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, content)
	if p.err != nil {
		return social.PublishResult{}, &social.PublishError{Platform: platform, Reason: p.err.Error(), Err: p.err}
	}
	return social.PublishResult{ID: "remote-" + accountID, Platform: platform}, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeExchanger struct {
	platform social.Platform
	grant    oauth.Grant
	err      error
}

func (f fakeExchanger) Platform() social.Platform { return f.platform }

func (f fakeExchanger) Exchange(ctx context.Context, code string) (oauth.Grant, error) {
	if f.err != nil {
		return oauth.Grant{}, f.err
	}
	return f.grant, nil
}

type heldLocker struct{}

func (heldLocker) TryAcquire(context.Context, string, time.Duration) (lock.Release, error) {
	return nil, lock.ErrHeld
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	posts  *memory.Posts
	creds  *memory.Credentials
	pub    *fakePublisher
	tokens *auth.Tokens
	state  *oauth.StateCodec
}

func newTestAPI(t *testing.T, tweaks ...func(*Deps)) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokens(testAuthSecret)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	posts := memory.NewPosts()
	creds := memory.NewCredentials()
	pub := &fakePublisher{}
	state := oauth.NewStateCodec(testAuthSecret, time.Minute)

	deps := Deps{
		Version:     "test",
		Tokens:      tokens,
		Dispatcher:  dispatch.New(posts, creds, pub),
		OAuth:       oauth.NewService(creds, fakeExchanger{platform: social.LinkedIn, grant: oauth.Grant{AccessToken: "tok", AccountID: "li-1", DisplayName: "Ada"}}),
		State:       state,
		Credentials: creds,
		Posts:       posts,
		CronSecret:  testCronSecret,
		AppURL:      testAppURL,
		CallbackURL: "https://api.example.com/v1/social/callback",
	}
	for _, tw := range tweaks {
		tw(&deps)
	}
	api := New(deps, WithRateLimit(100, 100))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &apiClient{
		baseURL: srv.URL,
		client:  client,
		t:       t,
		posts:   posts,
		creds:   creds,
		pub:     pub,
		tokens:  tokens,
		state:   state,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) bearer(user string) map[string]string {
	c.t.Helper()
	token, err := c.tokens.GenerateToken(user, nil, time.Hour)
	if err != nil {
		c.t.Fatalf("generate token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) seedPost(owner string, platform social.Platform, status social.Status, at *time.Time) social.Post {
	c.t.Helper()
	p := &social.Post{OwnerID: owner, Platform: platform, Text: "Launch day!", Hashtags: []string{"go"}, Status: status, ScheduledAt: at}
	if err := c.posts.Create(context.Background(), p); err != nil {
		c.t.Fatalf("seed post: %v", err)
	}
	return *p
}

func (c *apiClient) seedCredential(owner string, platform social.Platform, expiresAt *time.Time) {
	c.t.Helper()
	cred := &social.Credential{UserID: owner, Platform: platform, AccountID: "acct-" + owner, AccessToken: "tok", ExpiresAt: expiresAt}
	if err := c.creds.Upsert(context.Background(), cred); err != nil {
		c.t.Fatalf("seed credential: %v", err)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected healthz: %d %v", resp.StatusCode, body)
	}

	resp = api.get("/readyz", nil, nil)
	body = decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("unexpected readyz: %d %v", resp.StatusCode, body)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/nope", nil, api.bearer("u1"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestPublishFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedCredential("u1", social.LinkedIn, nil)
	post := api.seedPost("u1", social.LinkedIn, social.StatusDraft, nil)

	resp := api.post("/v1/social/publish", map[string]any{
		"contentId": post.ID,
		"platform":  "linkedin",
	}, api.bearer("u1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["success"] != true || body["postId"] != post.ID || body["id"] != "remote-acct-u1" || body["platform"] != "linkedin" {
		t.Fatalf("unexpected body: %v", body)
	}

	stored, err := api.posts.Get(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if stored.Status != social.StatusPublished || stored.PublishedAt == nil {
		t.Fatalf("post not marked published: %+v", stored)
	}

	// Publishing again is a conflict and does not reach the platform.
	resp = api.post("/v1/social/publish", map[string]any{
		"contentId": post.ID,
		"platform":  "linkedin",
	}, api.bearer("u1"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if api.pub.count() != 1 {
		t.Fatalf("expected one publish call, got %d", api.pub.count())
	}
}

func TestPublishErrors(t *testing.T) {
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name   string
		setup  func(api *apiClient) (body map[string]any, headers map[string]string)
		status int
	}{
		{
			name: "unauthenticated",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				return map[string]any{"contentId": "x", "platform": "linkedin"}, nil
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "missing input",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				return map[string]any{"platform": "linkedin"}, api.bearer("u1")
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unsupported platform",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				return map[string]any{"contentId": "x", "platform": "myspace"}, api.bearer("u1")
			},
			status: http.StatusBadRequest,
		},
		{
			name: "not found",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				return map[string]any{"contentId": "missing", "platform": "linkedin"}, api.bearer("u1")
			},
			status: http.StatusNotFound,
		},
		{
			name: "other owner",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				post := api.seedPost("u2", social.LinkedIn, social.StatusDraft, nil)
				return map[string]any{"contentId": post.ID, "platform": "linkedin"}, api.bearer("u1")
			},
			status: http.StatusNotFound,
		},
		{
			name: "no account connected",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				post := api.seedPost("u1", social.LinkedIn, social.StatusDraft, nil)
				return map[string]any{"contentId": post.ID, "platform": "linkedin"}, api.bearer("u1")
			},
			status: http.StatusBadRequest,
		},
		{
			name: "expired token",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				api.seedCredential("u1", social.LinkedIn, &past)
				post := api.seedPost("u1", social.LinkedIn, social.StatusDraft, nil)
				return map[string]any{"contentId": post.ID, "platform": "linkedin"}, api.bearer("u1")
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "publish failure",
			setup: func(api *apiClient) (map[string]any, map[string]string) {
				api.pub.err = errors.New("LinkedIn publish error: boom")
				api.seedCredential("u1", social.LinkedIn, nil)
				post := api.seedPost("u1", social.LinkedIn, social.StatusDraft, nil)
				return map[string]any{"contentId": post.ID, "platform": "linkedin"}, api.bearer("u1")
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newTestAPI(t)
			body, headers := tc.setup(api)
			resp := api.post("/v1/social/publish", body, headers)
			payload := decode[map[string]any](t, resp)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d (%v)", tc.status, resp.StatusCode, payload)
			}
			if msg, _ := payload["error"].(string); msg == "" {
				t.Fatalf("expected error message, got %v", payload)
			}
		})
	}
}

func TestPublishFailureMarksPostFailed(t *testing.T) {
	api := newTestAPI(t)
	api.pub.err = errors.New("LinkedIn publish error: boom")
	api.seedCredential("u1", social.LinkedIn, nil)
	post := api.seedPost("u1", social.LinkedIn, social.StatusDraft, nil)

	resp := api.post("/v1/social/publish", map[string]any{"contentId": post.ID, "platform": "linkedin"}, api.bearer("u1"))
	body := decode[map[string]any](t, resp)
	if !strings.Contains(body["error"].(string), "boom") {
		t.Fatalf("expected adapter reason in error, got %v", body)
	}

	stored, _ := api.posts.Get(context.Background(), post.ID)
	if stored.Status != social.StatusFailed || stored.FailureReason == "" {
		t.Fatalf("post not marked failed: %+v", stored)
	}
}

func TestSweepRequiresCronSecret(t *testing.T) {
	api := newTestAPI(t)
	due := time.Now().Add(-time.Minute)
	api.seedCredential("u1", social.LinkedIn, nil)
	api.seedPost("u1", social.LinkedIn, social.StatusScheduled, &due)

	for _, headers := range []map[string]string{nil, {"Authorization": "Bearer wrong"}} {
		resp := api.post("/v1/social/publisher", nil, headers)
		body := decode[map[string]any](t, resp)
		if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Unauthorized" {
			t.Fatalf("expected 401 Unauthorized, got %d %v", resp.StatusCode, body)
		}
	}
	if api.pub.count() != 0 {
		t.Fatalf("unauthorized sweep must not publish")
	}
}

func TestSweepPublishesDuePosts(t *testing.T) {
	api := newTestAPI(t)
	due := time.Now().Add(-time.Minute)
	later := time.Now().Add(time.Hour)
	api.seedCredential("u1", social.LinkedIn, nil)
	api.seedPost("u1", social.LinkedIn, social.StatusScheduled, &due)
	api.seedPost("u1", social.Facebook, social.StatusScheduled, &due)
	api.seedPost("u1", social.LinkedIn, social.StatusScheduled, &later)

	resp := api.get("/v1/social/publisher", nil, map[string]string{"Authorization": "Bearer " + testCronSecret})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["success"] != true || body["processed"] != float64(2) || body["published"] != float64(1) || body["failed"] != float64(1) {
		t.Fatalf("unexpected sweep body: %v", body)
	}
	errs, _ := body["errors"].([]any)
	if len(errs) != 1 || !strings.Contains(errs[0].(string), "No facebook account connected") {
		t.Fatalf("unexpected sweep errors: %v", body["errors"])
	}
}

func TestSweepWithoutSecretIsOpen(t *testing.T) {
	api := newTestAPI(t, func(d *Deps) { d.CronSecret = "" })
	resp := api.post("/v1/social/publisher", nil, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["processed"] != float64(0) {
		t.Fatalf("unexpected response: %d %v", resp.StatusCode, body)
	}
	if errs, ok := body["errors"].([]any); !ok || len(errs) != 0 {
		t.Fatalf("expected empty errors array, got %v", body["errors"])
	}
}

func TestSweepInProgressReturns409(t *testing.T) {
	api := newTestAPI(t, func(d *Deps) {
		d.Dispatcher = dispatch.New(d.Posts, d.Credentials, &fakePublisher{}, dispatch.WithLocker(heldLocker{}))
	})
	resp := api.post("/v1/social/publisher", nil, map[string]string{"Authorization": "Bearer " + testCronSecret})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestSweepRejectsOtherMethods(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodDelete, "/v1/social/publisher", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != "GET, POST" {
		t.Fatalf("unexpected Allow header %q", allow)
	}
}

func callbackTarget(t *testing.T, resp *http.Response) url.Values {
	t.Helper()
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testAppURL+"/dashboard/accounts" {
		t.Fatalf("unexpected redirect target %q", got)
	}
	return loc.Query()
}

func TestCallbackConnectsAccount(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/social/state", url.Values{"platform": {"linkedin"}}, api.bearer("u1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected state status: %d", resp.StatusCode)
	}
	issued := decode[map[string]any](t, resp)
	state, _ := issued["state"].(string)
	if state == "" || issued["redirectUri"] == "" {
		t.Fatalf("unexpected state payload: %v", issued)
	}

	q := callbackTarget(t, api.get("/v1/social/callback", url.Values{"code": {"abc"}, "state": {state}}, nil))
	if q.Get("success") != "true" {
		t.Fatalf("expected success redirect, got %v", q)
	}

	cred, err := api.creds.Get(context.Background(), "u1", social.LinkedIn)
	if err != nil {
		t.Fatalf("credential not stored: %v", err)
	}
	if cred.AccountID != "li-1" || cred.AccountName != "Ada" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestCallbackErrors(t *testing.T) {
	api := newTestAPI(t, func(d *Deps) {
		d.OAuth = oauth.NewService(d.Credentials,
			fakeExchanger{platform: social.LinkedIn, grant: oauth.Grant{AccessToken: "tok", AccountID: "li-1"}},
			fakeExchanger{platform: social.Facebook, err: &social.OAuthError{
				Platform: social.Facebook, Stage: social.StageAccountResolution, Code: oauth.CodeNoPages, Message: "no pages",
			}},
		)
	})
	fbState, err := api.state.Encode(oauth.State{UserID: "u1", Platform: social.Facebook})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	igState, err := api.state.Encode(oauth.State{UserID: "u1", Platform: social.Instagram})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := []struct {
		name   string
		params url.Values
		want   string
	}{
		{"provider error", url.Values{"error": {"access_denied"}}, "access_denied"},
		{"missing code", url.Values{"state": {fbState}}, "missing_params"},
		{"missing state", url.Values{"code": {"abc"}}, "missing_params"},
		{"bad state", url.Values{"code": {"abc"}, "state": {"garbage"}}, "invalid_state"},
		{"unconfigured platform", url.Values{"code": {"abc"}, "state": {igState}}, "invalid_platform"},
		{"exchange failure", url.Values{"code": {"abc"}, "state": {fbState}}, "no_pages"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := callbackTarget(t, api.get("/v1/social/callback", tc.params, nil))
			if q.Get("error") != tc.want {
				t.Fatalf("expected error=%s, got %v", tc.want, q)
			}
		})
	}

	if creds, _ := api.creds.ListByUser(context.Background(), "u1"); len(creds) != 0 {
		t.Fatalf("failed callbacks must not store credentials: %+v", creds)
	}
}

func TestAccountsListAndDisconnect(t *testing.T) {
	api := newTestAPI(t)
	past := time.Now().Add(-time.Hour)
	api.seedCredential("u1", social.LinkedIn, nil)
	api.seedCredential("u1", social.Facebook, &past)
	api.seedCredential("u2", social.Instagram, nil)

	resp := api.get("/v1/social/accounts", nil, api.bearer("u1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decode[struct {
		Accounts []map[string]any `json:"accounts"`
	}](t, resp)
	if len(body.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %v", body.Accounts)
	}
	for _, acc := range body.Accounts {
		if _, leaked := acc["accessToken"]; leaked {
			t.Fatalf("access token exposed: %v", acc)
		}
		if acc["platform"] == "facebook" && acc["expired"] != true {
			t.Fatalf("expected facebook credential to be expired: %v", acc)
		}
	}

	resp = api.do(http.MethodDelete, "/v1/social/accounts/facebook", nil, api.bearer("u1"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected delete status: %d", resp.StatusCode)
	}
	if _, err := api.creds.Get(context.Background(), "u1", social.Facebook); !errors.Is(err, social.ErrNotFound) {
		t.Fatalf("expected credential removed, got %v", err)
	}

	resp = api.do(http.MethodDelete, "/v1/social/accounts/facebook", nil, api.bearer("u1"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodDelete, "/v1/social/accounts/myspace", nil, api.bearer("u1"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown platform, got %d", resp.StatusCode)
	}
}

func TestScheduleReschedulesFailedPost(t *testing.T) {
	api := newTestAPI(t)
	post := api.seedPost("u1", social.LinkedIn, social.StatusFailed, nil)
	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	resp := api.post("/v1/content/schedule", map[string]any{
		"contentId":   post.ID,
		"scheduledAt": at.Format(time.RFC3339),
	}, api.bearer("u1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	stored, _ := api.posts.Get(context.Background(), post.ID)
	if stored.Status != social.StatusScheduled || stored.ScheduledAt == nil || !stored.ScheduledAt.Equal(at) {
		t.Fatalf("post not rescheduled: %+v", stored)
	}
}

func TestScheduleErrors(t *testing.T) {
	api := newTestAPI(t)
	published := api.seedPost("u1", social.LinkedIn, social.StatusPublished, nil)
	foreign := api.seedPost("u2", social.LinkedIn, social.StatusDraft, nil)
	when := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	cases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"bad time", map[string]any{"contentId": published.ID, "scheduledAt": "tomorrow"}, http.StatusBadRequest},
		{"missing id", map[string]any{"scheduledAt": when}, http.StatusBadRequest},
		{"unknown field", map[string]any{"contentId": published.ID, "scheduledAt": when, "extra": 1}, http.StatusBadRequest},
		{"foreign post", map[string]any{"contentId": foreign.ID, "scheduledAt": when}, http.StatusNotFound},
		{"published post", map[string]any{"contentId": published.ID, "scheduledAt": when}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post("/v1/content/schedule", tc.body, api.bearer("u1"))
			resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}
