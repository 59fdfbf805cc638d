package oauth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"postwise.io/internal/social"
)

const (
	stateAudience   = "postwise-oauth-state"
	defaultStateTTL = 10 * time.Minute
)

// ErrInvalidState rejects tampered, expired or malformed state values.
var ErrInvalidState = errors.New("oauth: invalid state")

// State binds a callback to the user who started authorization.
type State struct {
	UserID   string
	Platform social.Platform
}

type stateClaims struct {
	Platform string `json:"platform"`
	jwt.RegisteredClaims
}

// StateCodec signs the state parameter so the callback can trust it.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec returns a codec; ttl <= 0 selects the default lifetime.
func NewStateCodec(secret string, ttl time.Duration) *StateCodec {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (c *StateCodec) Encode(st State) (string, error) {
	if strings.TrimSpace(st.UserID) == "" || !social.IsSupported(string(st.Platform)) {
		return "", social.ErrInvalidInput
	}
	now := c.now().UTC()
	claims := stateClaims{
		Platform: string(st.Platform),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   st.UserID,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *StateCodec) Decode(raw string) (State, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return State{}, ErrInvalidState
	}
	var claims stateClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return State{}, ErrInvalidState
	}
	p, err := social.ParsePlatform(claims.Platform)
	if err != nil {
		return State{}, ErrInvalidState
	}
	return State{UserID: claims.Subject, Platform: p}, nil
}
