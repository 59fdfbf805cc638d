package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"postwise.io/internal/auth"
	"postwise.io/internal/dispatch"
	"postwise.io/internal/oauth"
	"postwise.io/internal/obs"
	"postwise.io/internal/social"
)

// ReadyProbe pings the backing services that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis goredis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Ready       ReadyProbe
	Version     string
	Tokens      *auth.Tokens
	Dispatcher  *dispatch.Dispatcher
	OAuth       *oauth.Service
	State       *oauth.StateCodec
	Credentials social.CredentialStore
	Posts       social.PostStore
	// CronSecret guards the sweep trigger; empty leaves it open.
	CronSecret  string
	AppURL      string
	CallbackURL string
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps

	rateBurst  int
	ratePerSec int
	maxBody    int64
	origins    []string
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst, perSec int) Option {
	return func(a *API) {
		if burst > 0 && perSec > 0 {
			a.rateBurst, a.ratePerSec = burst, perSec
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithAllowedOrigins adds browser origins allowed by CORS.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.origins = append(a.origins, origins...) }
}

func New(deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		deps:       deps,
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// social publishing
	a.mux.HandleFunc("/v1/social/publisher", a.handleSweep)
	a.mux.HandleFunc("/v1/social/publish", a.handlePublish)
	a.mux.HandleFunc("/v1/social/callback", a.handleCallback)
	a.mux.HandleFunc("/v1/social/state", a.handleState)
	a.mux.HandleFunc("/v1/social/accounts", a.handleAccounts)
	a.mux.HandleFunc("/v1/social/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/content/schedule", a.handleSchedule)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "postwise-api",
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "postwise-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
