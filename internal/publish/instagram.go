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

// Instagram publishes through the two-step container flow: create a media
// container, then publish it. A container left behind by a failed second
// step is not cleaned up.
type Instagram struct {
	graphURL string
	client   *platform.Client
}

func NewInstagram(graphURL string, client *platform.Client) *Instagram {
	return &Instagram{graphURL: strings.TrimRight(graphURL, "/"), client: client}
}

func (i *Instagram) Platform() social.Platform { return social.Instagram }

func (i *Instagram) RequiresImage() bool { return true }

func (i *Instagram) Publish(ctx context.Context, req Request) (Result, error) {
	// The Router rejects imageless posts before this point; the check here
	// covers callers that use the adapter directly.
	if strings.TrimSpace(req.ImageURL) == "" {
		return Result{}, &social.PreconditionError{Platform: social.Instagram, Message: "Instagram requires an image"}
	}
	base := fmt.Sprintf("%s/%s", i.graphURL, url.PathEscape(req.AccountID))

	var container struct {
		ID string `json:"id"`
	}
	_, err := i.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		URL:    base + "/media",
		Bearer: req.AccessToken,
		JSON:   map[string]string{"image_url": req.ImageURL, "caption": req.Message},
	}, &container)
	if err == nil && container.ID == "" {
		err = errors.New("no creation id in response")
	}
	if err != nil {
		return Result{}, fmt.Errorf("Instagram media creation error: %w", err)
	}

	var published struct {
		ID string `json:"id"`
	}
	_, err = i.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		URL:    base + "/media_publish",
		Bearer: req.AccessToken,
		JSON:   map[string]string{"creation_id": container.ID},
	}, &published)
	if err == nil && published.ID == "" {
		err = errors.New("no media id in response")
	}
	if err != nil {
		return Result{}, fmt.Errorf("Instagram publish error: %w", err)
	}
	return Result{ID: published.ID}, nil
}
