package publish

import (
	"context"
	"fmt"
	"strings"

	"postwise.io/internal/social"
)

// Router builds the message for a post and hands it to the platform adapter.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Publish delivers content using the given credential parts. Every failure,
// including an unknown platform or a missing image, is returned as a
// *social.PublishError.
func (r *Router) Publish(ctx context.Context, platform social.Platform, accessToken, accountID string, content social.Content) (social.PublishResult, error) {
	adapter, ok := r.registry.Lookup(platform)
	if !ok {
		return social.PublishResult{}, &social.PublishError{
			Platform: platform,
			Reason:   fmt.Sprintf("unsupported platform %q", platform),
			Err:      social.ErrUnsupportedPlatform,
		}
	}

	if ir, ok := adapter.(ImageRequirer); ok && ir.RequiresImage() && strings.TrimSpace(content.ImageURL) == "" {
		pre := &social.PreconditionError{
			Platform: platform,
			Message:  platform.DisplayName() + " requires an image",
		}
		return social.PublishResult{}, &social.PublishError{Platform: platform, Reason: pre.Message, Err: pre}
	}

	res, err := adapter.Publish(ctx, Request{
		AccessToken: accessToken,
		AccountID:   accountID,
		Message:     social.BuildMessage(content.Text, content.Hashtags),
		ImageURL:    content.ImageURL,
	})
	if err != nil {
		return social.PublishResult{}, &social.PublishError{Platform: platform, Reason: err.Error(), Err: err}
	}
	return social.PublishResult{ID: res.ID, Platform: platform}, nil
}
