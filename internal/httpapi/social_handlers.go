package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postwise.io/internal/audit"
	"postwise.io/internal/auth"
	"postwise.io/internal/dispatch"
	"postwise.io/internal/oauth"
	"postwise.io/internal/obs"
	"postwise.io/internal/social"
)

type publishRequest struct {
	ContentID string `json:"contentId"`
	Platform  string `json:"platform"`
}

type publishResponse struct {
	Success  bool   `json:"success"`
	PostID   string `json:"postId"`
	ID       string `json:"id"`
	Platform string `json:"platform"`
}

type sweepResponse struct {
	Success bool `json:"success"`
	dispatch.SweepResult
}

type scheduleRequest struct {
	ContentID   string `json:"contentId"`
	ScheduledAt string `json:"scheduledAt"`
}

type accountView struct {
	ID          string     `json:"id"`
	Platform    string     `json:"platform"`
	AccountID   string     `json:"accountId"`
	AccountName string     `json:"accountName,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Expired     bool       `json:"expired"`
	ConnectedAt time.Time  `json:"connectedAt"`
}

// handleSweep runs one scheduled publishing sweep. Meant for an external cron.
func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	if !a.cronAuthorized(r) && !a.adminAuthorized(r) {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if a.deps.Dispatcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "publisher unavailable")
		return
	}

	res, err := a.deps.Dispatcher.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, dispatch.ErrSweepInProgress) {
			writeError(w, r, http.StatusConflict, "sweep already in progress")
			return
		}
		obs.Logger().WithError(err).Error("sweep_failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, sweepResponse{Success: true, SweepResult: res})
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		handleSocialError(w, r, auth.ErrUnauthorized)
		return
	}
	if a.deps.Dispatcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "publisher unavailable")
		return
	}

	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ContentID = strings.TrimSpace(req.ContentID)
	if req.ContentID == "" || strings.TrimSpace(req.Platform) == "" {
		writeError(w, r, http.StatusBadRequest, "contentId and platform are required")
		return
	}
	platform, err := social.ParsePlatform(req.Platform)
	if err != nil {
		handleSocialError(w, r, err)
		return
	}

	res, err := a.deps.Dispatcher.PublishNow(r.Context(), userID, req.ContentID, platform)
	if err != nil {
		handleSocialError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publishResponse{
		Success:  true,
		PostID:   req.ContentID,
		ID:       res.ID,
		Platform: res.Platform.String(),
	})
}

// handleCallback completes an OAuth authorization and always answers with a
// redirect back to the dashboard.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	if providerErr := strings.TrimSpace(q.Get("error")); providerErr != "" {
		a.redirectAccounts(w, r, "error", providerErr)
		return
	}
	code, rawState := strings.TrimSpace(q.Get("code")), strings.TrimSpace(q.Get("state"))
	if code == "" || rawState == "" {
		a.redirectAccounts(w, r, "error", "missing_params")
		return
	}
	if a.deps.State == nil || a.deps.OAuth == nil {
		a.redirectAccounts(w, r, "error", "invalid_platform")
		return
	}
	st, err := a.deps.State.Decode(rawState)
	if err != nil {
		a.redirectAccounts(w, r, "error", "invalid_state")
		return
	}
	if !a.deps.OAuth.Supports(st.Platform) {
		a.redirectAccounts(w, r, "error", "invalid_platform")
		return
	}

	ctx := auth.ContextWithUser(r.Context(), st.UserID, nil)
	if _, err := a.deps.OAuth.Complete(ctx, st.UserID, st.Platform, code); err != nil {
		a.redirectAccounts(w, r, "error", oauth.ErrorCode(err))
		return
	}
	a.redirectAccounts(w, r, "success", "true")
}

func (a *API) redirectAccounts(w http.ResponseWriter, r *http.Request, key, value string) {
	target := strings.TrimRight(a.deps.AppURL, "/") + "/dashboard/accounts?" + url.Values{key: {value}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// handleState issues the signed state the frontend puts into its consent URL.
func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		handleSocialError(w, r, auth.ErrUnauthorized)
		return
	}
	platform, err := social.ParsePlatform(r.URL.Query().Get("platform"))
	if err != nil {
		handleSocialError(w, r, err)
		return
	}
	if a.deps.State == nil {
		writeError(w, r, http.StatusServiceUnavailable, "oauth unavailable")
		return
	}
	state, err := a.deps.State.Encode(oauth.State{UserID: userID, Platform: platform})
	if err != nil {
		handleSocialError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":       state,
		"platform":    platform.String(),
		"redirectUri": a.deps.CallbackURL,
	})
}

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		handleSocialError(w, r, auth.ErrUnauthorized)
		return
	}
	creds, err := a.deps.Credentials.ListByUser(r.Context(), userID)
	if err != nil {
		handleSocialError(w, r, err)
		return
	}
	now := time.Now()
	items := make([]accountView, 0, len(creds))
	for _, c := range creds {
		items = append(items, accountView{
			ID:          c.ID,
			Platform:    c.Platform.String(),
			AccountID:   c.AccountID,
			AccountName: c.AccountName,
			ExpiresAt:   c.ExpiresAt,
			Expired:     c.Expired(now),
			ConnectedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": items})
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/social/accounts/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		handleSocialError(w, r, auth.ErrUnauthorized)
		return
	}
	platform, err := social.ParsePlatform(raw)
	if err != nil {
		handleSocialError(w, r, err)
		return
	}
	if err := a.deps.Credentials.Delete(r.Context(), userID, platform); err != nil {
		if errors.Is(err, social.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "No "+platform.String()+" account connected")
			return
		}
		handleSocialError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "social.credential_disconnected", map[string]any{"platform": platform.String()})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "platform": platform.String()})
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		handleSocialError(w, r, auth.ErrUnauthorized)
		return
	}

	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ContentID = strings.TrimSpace(req.ContentID)
	if req.ContentID == "" || strings.TrimSpace(req.ScheduledAt) == "" {
		writeError(w, r, http.StatusBadRequest, "contentId and scheduledAt are required")
		return
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "scheduledAt must be an RFC3339 timestamp")
		return
	}

	post, err := a.deps.Posts.Get(r.Context(), req.ContentID)
	if err != nil {
		handleSocialError(w, r, err)
		return
	}
	if post.OwnerID != userID {
		handleSocialError(w, r, social.ErrNotFound)
		return
	}
	if err := a.deps.Posts.Reschedule(r.Context(), post.ID, at.UTC()); err != nil {
		handleSocialError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "social.post_scheduled", map[string]any{
		"post_id":      post.ID,
		"scheduled_at": at.UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"contentId":   post.ID,
		"status":      social.StatusScheduled,
		"scheduledAt": at.UTC().Format(time.RFC3339),
	})
}
