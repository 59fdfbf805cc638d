// Package memory keeps credentials and posts in process memory. It backs
// the service when no database is configured and doubles as the test fake
// for the dispatcher.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"postwise.io/internal/ids"
	"postwise.io/internal/social"
)

type credKey struct {
	userID   string
	platform social.Platform
}

// Credentials implements social.CredentialStore.
type Credentials struct {
	mu    sync.RWMutex
	items map[credKey]social.Credential
	now   func() time.Time
}

var _ social.CredentialStore = (*Credentials)(nil)

// NewCredentials creates an empty credential store.
func NewCredentials() *Credentials {
	return &Credentials{items: make(map[credKey]social.Credential), now: time.Now}
}

func (s *Credentials) Get(ctx context.Context, userID string, platform social.Platform) (social.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.items[credKey{userID, platform}]
	if !ok {
		return social.Credential{}, social.ErrNotFound
	}
	return cloneCredential(cred), nil
}

func (s *Credentials) Upsert(ctx context.Context, cred *social.Credential) error {
	if cred == nil || cred.UserID == "" || cred.Platform == "" {
		return social.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := credKey{cred.UserID, cred.Platform}
	if existing, ok := s.items[key]; ok {
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.ID = ids.NewAt(now)
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	s.items[key] = cloneCredential(*cred)
	return nil
}

func (s *Credentials) ListByUser(ctx context.Context, userID string) ([]social.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []social.Credential
	for key, cred := range s.items {
		if key.userID == userID {
			out = append(out, cloneCredential(cred))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *Credentials) Delete(ctx context.Context, userID string, platform social.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey{userID, platform}
	if _, ok := s.items[key]; !ok {
		return social.ErrNotFound
	}
	delete(s.items, key)
	return nil
}

// Posts implements social.PostStore. FindDue returns posts in insertion order.
type Posts struct {
	mu    sync.RWMutex
	items map[string]*social.Post
	order []string
	now   func() time.Time
}

var _ social.PostStore = (*Posts)(nil)

// NewPosts creates an empty post store.
func NewPosts() *Posts {
	return &Posts{items: make(map[string]*social.Post), now: time.Now}
}

func (s *Posts) Create(ctx context.Context, post *social.Post) error {
	if post == nil || post.OwnerID == "" || post.Platform == "" {
		return social.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if post.ID == "" {
		post.ID = ids.NewAt(now)
	}
	if _, exists := s.items[post.ID]; exists {
		return social.ErrInvalidInput
	}
	if post.Status == "" {
		post.Status = social.StatusDraft
	}
	post.CreatedAt = now
	post.UpdatedAt = now
	cp := clonePost(*post)
	s.items[post.ID] = &cp
	s.order = append(s.order, post.ID)
	return nil
}

func (s *Posts) Get(ctx context.Context, id string) (social.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return social.Post{}, social.ErrNotFound
	}
	return clonePost(*p), nil
}

func (s *Posts) FindDue(ctx context.Context, now time.Time, limit int) ([]social.Post, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []social.Post
	for _, id := range s.order {
		p := s.items[id]
		if p.Status != social.StatusScheduled || p.ScheduledAt == nil || p.ScheduledAt.After(now) {
			continue
		}
		res = append(res, clonePost(*p))
		if len(res) >= limit {
			break
		}
	}
	return res, nil
}

func (s *Posts) UpdateStatus(ctx context.Context, id string, expected []social.Status, upd social.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return social.ErrNotFound
	}
	if !statusIn(p.Status, expected) {
		return social.ErrStatusConflict
	}
	p.Status = upd.Status
	if upd.PublishedAt != nil {
		at := *upd.PublishedAt
		p.PublishedAt = &at
	}
	p.FailureReason = upd.FailureReason
	if upd.ExternalID != "" {
		p.ExternalID = upd.ExternalID
	}
	p.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Posts) Reschedule(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return social.ErrNotFound
	}
	if !statusIn(p.Status, social.Reschedulable) {
		return social.ErrStatusConflict
	}
	at = at.UTC()
	p.Status = social.StatusScheduled
	p.ScheduledAt = &at
	p.FailureReason = ""
	p.UpdatedAt = s.now().UTC()
	return nil
}

func statusIn(st social.Status, set []social.Status) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func cloneCredential(c social.Credential) social.Credential {
	if c.ExpiresAt != nil {
		at := *c.ExpiresAt
		c.ExpiresAt = &at
	}
	return c
}

func clonePost(p social.Post) social.Post {
	if p.Hashtags != nil {
		p.Hashtags = append([]string(nil), p.Hashtags...)
	}
	if p.ScheduledAt != nil {
		at := *p.ScheduledAt
		p.ScheduledAt = &at
	}
	if p.PublishedAt != nil {
		at := *p.PublishedAt
		p.PublishedAt = &at
	}
	return p
}
