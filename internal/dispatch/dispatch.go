// Package dispatch moves posts through the publish lifecycle, either on
// demand or in periodic sweeps over due scheduled posts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"postwise.io/internal/audit"
	"postwise.io/internal/lock"
	"postwise.io/internal/obs"
	"postwise.io/internal/social"
)

const (
	// DefaultBatchSize caps how many due posts one sweep picks up.
	DefaultBatchSize = 50

	// DefaultCallTimeout matches the platform client's per-request limit.
	DefaultCallTimeout = 15 * time.Second

	sweepLockKey    = "social-sweep"
	minSweepLockTTL = 15 * time.Minute

	// Terminal status writes outlive the caller's context, bounded by this.
	statusWriteTimeout = 10 * time.Second
	// Instagram needs two platform calls per post.
	callsPerPost = 2

	triggerManual = "manual"
	triggerSweep  = "sweep"
)

// ErrSweepInProgress is returned when another sweep holds the lock.
var ErrSweepInProgress = errors.New("dispatch: sweep already in progress")

// Publisher delivers content to a platform. *publish.Router implements it.
type Publisher interface {
	Publish(ctx context.Context, platform social.Platform, accessToken, accountID string, content social.Content) (social.PublishResult, error)
}

// SweepResult summarises one sweep. Errors holds one message per post that
// did not publish.
type SweepResult struct {
	Processed int      `json:"processed"`
	Published int      `json:"published"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// Dispatcher publishes posts and records their outcome. It only reads
// credentials.
type Dispatcher struct {
	posts     social.PostStore
	creds     social.CredentialStore
	publisher Publisher
	locker    lock.Locker
	batch     int
	callLimit time.Duration
	now       func() time.Time
	log       *logrus.Logger
}

// Option configures Dispatcher.
type Option func(*Dispatcher)

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batch = n
		}
	}
}

// WithLocker replaces the in-process sweep lock, e.g. with a Redis lease.
func WithLocker(l lock.Locker) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.locker = l
		}
	}
}

// WithCallTimeout tells the dispatcher how long one platform call may take.
// It bounds each sweep post and sizes the sweep lease.
func WithCallTimeout(limit time.Duration) Option {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.callLimit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func New(posts social.PostStore, creds social.CredentialStore, publisher Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		posts:     posts,
		creds:     creds,
		publisher: publisher,
		locker:    lock.NewLocal(),
		batch:     DefaultBatchSize,
		callLimit: DefaultCallTimeout,
		now:       time.Now,
		log:       obs.Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var claimable = []social.Status{social.StatusDraft, social.StatusScheduled, social.StatusFailed}

// PublishNow publishes one post owned by userID immediately. Once the post
// is claimed, any failure marks it failed using postID, and the error is
// returned to the caller. A failed post may be published again.
func (d *Dispatcher) PublishNow(ctx context.Context, userID, postID string, platform social.Platform) (social.PublishResult, error) {
	post, err := d.posts.Get(ctx, postID)
	if err != nil {
		return social.PublishResult{}, err
	}
	if post.OwnerID != userID {
		return social.PublishResult{}, social.ErrNotFound
	}

	err = d.posts.UpdateStatus(ctx, postID, claimable, social.StatusUpdate{Status: social.StatusPublishing})
	if err != nil {
		return social.PublishResult{}, fmt.Errorf("claim post %s: %w", postID, err)
	}

	res, err := d.publishClaimed(ctx, userID, platform, post.Content())
	if err != nil {
		obs.ObservePublish(platform.String(), triggerManual, "failure")
		d.markFailed(ctx, postID, err.Error())
		_ = audit.LogEvent(ctx, "social.post_failed", map[string]any{
			"post_id":  postID,
			"platform": platform.String(),
			"reason":   err.Error(),
		})
		return social.PublishResult{}, err
	}

	at := d.now().UTC()
	if err := d.markPublished(ctx, postID, at, res.ID); err != nil {
		return social.PublishResult{}, err
	}
	obs.ObservePublish(platform.String(), triggerManual, "success")
	_ = audit.LogEvent(ctx, "social.post_published", map[string]any{
		"post_id":     postID,
		"platform":    platform.String(),
		"external_id": res.ID,
	})
	return res, nil
}

func (d *Dispatcher) publishClaimed(ctx context.Context, userID string, platform social.Platform, content social.Content) (social.PublishResult, error) {
	cred, err := d.creds.Get(ctx, userID, platform)
	if errors.Is(err, social.ErrNotFound) {
		return social.PublishResult{}, &social.CredentialMissingError{UserID: userID, Platform: platform}
	}
	if err != nil {
		return social.PublishResult{}, fmt.Errorf("load %s credential: %w", platform, err)
	}
	if cred.Expired(d.now()) {
		return social.PublishResult{}, &social.CredentialExpiredError{UserID: userID, Platform: platform, ExpiredAt: *cred.ExpiresAt}
	}
	return d.publisher.Publish(ctx, platform, cred.AccessToken, cred.AccountID, content)
}

// Sweep publishes every due scheduled post, up to the batch size, one at a
// time. Per-post failures are recorded on the post and in the result; only
// a failure to list due posts aborts the sweep.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	began := time.Now()
	start := d.now().UTC()
	result := SweepResult{Errors: []string{}}

	release, err := d.locker.TryAcquire(ctx, sweepLockKey, d.sweepLockTTL())
	if errors.Is(err, lock.ErrHeld) {
		return result, ErrSweepInProgress
	}
	if err != nil {
		return result, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			d.log.WithError(err).Warn("sweep_lock_release_failed")
		}
	}()

	due, err := d.posts.FindDue(ctx, start, d.batch)
	if err != nil {
		return result, fmt.Errorf("find due posts: %w", err)
	}

	for _, post := range due {
		if ctx.Err() != nil {
			break
		}
		result.Processed++
		d.sweepOne(ctx, post, start, &result)
	}

	elapsed := time.Since(began)
	obs.ObserveSweep(elapsed, len(due))
	d.log.WithFields(logrus.Fields{
		"processed":   result.Processed,
		"published":   result.Published,
		"failed":      result.Failed,
		"duration_ms": elapsed.Milliseconds(),
	}).Info("sweep_complete")
	return result, ctx.Err()
}

func (d *Dispatcher) sweepOne(ctx context.Context, post social.Post, start time.Time, result *SweepResult) {
	err := d.posts.UpdateStatus(ctx, post.ID, []social.Status{social.StatusScheduled}, social.StatusUpdate{Status: social.StatusPublishing})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Post %s: skipped: %v", post.ID, err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.postBudget())
	defer cancel()

	fail := func(msg string) {
		result.Failed++
		result.Errors = append(result.Errors, msg)
		obs.ObservePublish(post.Platform.String(), triggerSweep, "failure")
		d.markFailed(ctx, post.ID, msg)
	}

	cred, err := d.creds.Get(ctx, post.OwnerID, post.Platform)
	switch {
	case errors.Is(err, social.ErrNotFound):
		fail(fmt.Sprintf("No %s account connected for post %s", post.Platform, post.ID))
		return
	case err != nil:
		fail(fmt.Sprintf("Post %s: %v", post.ID, err))
		return
	case cred.Expired(start):
		fail(fmt.Sprintf("Expired token for post %s", post.ID))
		return
	}

	res, err := d.publisher.Publish(ctx, post.Platform, cred.AccessToken, cred.AccountID, post.Content())
	if err != nil {
		fail(fmt.Sprintf("Post %s: %v", post.ID, err))
		return
	}

	if err := d.markPublished(ctx, post.ID, start, res.ID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Post %s: %v", post.ID, err))
	}
	result.Published++
	obs.ObservePublish(post.Platform.String(), triggerSweep, "success")
	d.log.WithFields(logrus.Fields{
		"post_id":     post.ID,
		"platform":    post.Platform.String(),
		"external_id": res.ID,
	}).Info("post_published")
}

// postBudget bounds the credential lookup and platform calls of one post.
func (d *Dispatcher) postBudget() time.Duration {
	return callsPerPost * d.callLimit
}

// sweepLockTTL outlasts a full batch in which every post uses its whole
// budget, so the lease cannot lapse while a sweep is still running.
func (d *Dispatcher) sweepLockTTL() time.Duration {
	ttl := time.Duration(d.batch)*(d.postBudget()+2*statusWriteTimeout) + time.Minute
	if ttl < minSweepLockTTL {
		return minSweepLockTTL
	}
	return ttl
}

// statusContext detaches a terminal status write from ctx. Once a post is
// claimed it must leave publishing even if the caller went away.
func statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}

func (d *Dispatcher) markPublished(ctx context.Context, postID string, at time.Time, externalID string) error {
	ctx, cancel := statusContext(ctx)
	defer cancel()
	err := d.posts.UpdateStatus(ctx, postID, []social.Status{social.StatusPublishing}, social.StatusUpdate{
		Status:      social.StatusPublished,
		PublishedAt: &at,
		ExternalID:  externalID,
	})
	if err != nil {
		d.log.WithError(err).WithField("post_id", postID).Error("mark_published_failed")
		return fmt.Errorf("record published post %s: %w", postID, err)
	}
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, postID, reason string) {
	ctx, cancel := statusContext(ctx)
	defer cancel()
	err := d.posts.UpdateStatus(ctx, postID, []social.Status{social.StatusPublishing}, social.StatusUpdate{
		Status:        social.StatusFailed,
		FailureReason: reason,
	})
	if err != nil {
		d.log.WithError(err).WithField("post_id", postID).Error("mark_failed_failed")
	}
}
