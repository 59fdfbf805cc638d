package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"postwise.io/internal/platform"
	"postwise.io/internal/social"
)

const restliProtocolVersion = "2.0.0"

// LinkedIn publishes member shares through the UGC posts API.
type LinkedIn struct {
	apiURL string
	client *platform.Client
}

func NewLinkedIn(apiURL string, client *platform.Client) *LinkedIn {
	return &LinkedIn{apiURL: strings.TrimRight(apiURL, "/"), client: client}
}

func (l *LinkedIn) Platform() social.Platform { return social.LinkedIn }

type ugcMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

type ugcShareContent struct {
	ShareCommentary struct {
		Text string `json:"text"`
	} `json:"shareCommentary"`
	ShareMediaCategory string     `json:"shareMediaCategory"`
	Media              []ugcMedia `json:"media,omitempty"`
}

type ugcPost struct {
	Author          string                     `json:"author"`
	LifecycleState  string                     `json:"lifecycleState"`
	SpecificContent map[string]ugcShareContent `json:"specificContent"`
	Visibility      map[string]string          `json:"visibility"`
}

func newUGCPost(author, message, imageURL string) ugcPost {
	share := ugcShareContent{ShareMediaCategory: "NONE"}
	share.ShareCommentary.Text = message
	if imageURL != "" {
		share.ShareMediaCategory = "IMAGE"
		share.Media = []ugcMedia{{Status: "READY", OriginalURL: imageURL}}
	}
	return ugcPost{
		Author:          author,
		LifecycleState:  "PUBLISHED",
		SpecificContent: map[string]ugcShareContent{"com.linkedin.ugc.ShareContent": share},
		Visibility:      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
}

func (l *LinkedIn) Publish(ctx context.Context, req Request) (Result, error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := l.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		URL:    l.apiURL + "/ugcPosts",
		Bearer: req.AccessToken,
		Header: map[string]string{"X-Restli-Protocol-Version": restliProtocolVersion},
		JSON:   newUGCPost(req.AccountID, req.Message, req.ImageURL),
	}, &out)
	if err != nil {
		return Result{}, fmt.Errorf("LinkedIn publish error: %w", err)
	}
	id := out.ID
	if id == "" && resp != nil {
		id = resp.Header.Get("X-Restli-Id")
	}
	if id == "" {
		return Result{}, errors.New("LinkedIn publish error: no post id in response")
	}
	return Result{ID: id}, nil
}
