package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"postwise.io/internal/platform"
	"postwise.io/internal/social"
)

// Facebook publishes page posts through the Graph API.
type Facebook struct {
	graphURL string
	client   *platform.Client
}

func NewFacebook(graphURL string, client *platform.Client) *Facebook {
	return &Facebook{graphURL: strings.TrimRight(graphURL, "/"), client: client}
}

func (f *Facebook) Platform() social.Platform { return social.Facebook }

// Publish posts to the page feed, or to the photos edge when an image is attached.
func (f *Facebook) Publish(ctx context.Context, req Request) (Result, error) {
	edge := "feed"
	body := map[string]string{"message": req.Message}
	if req.ImageURL != "" {
		edge = "photos"
		body["url"] = req.ImageURL
	}

	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	_, err := f.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/%s/%s", f.graphURL, url.PathEscape(req.AccountID), edge),
		Bearer: req.AccessToken,
		JSON:   body,
	}, &out)
	if err != nil {
		return Result{}, fmt.Errorf("Facebook publish error: %w", err)
	}
	if out.ID == "" {
		return Result{}, errors.New("Facebook publish error: no post id in response")
	}
	return Result{ID: out.ID}, nil
}
