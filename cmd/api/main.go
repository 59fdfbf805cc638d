package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"postwise.io/internal/auth"
	"postwise.io/internal/config"
	"postwise.io/internal/dispatch"
	"postwise.io/internal/httpapi"
	"postwise.io/internal/lock"
	"postwise.io/internal/oauth"
	"postwise.io/internal/obs"
	"postwise.io/internal/platform"
	"postwise.io/internal/publish"
	"postwise.io/internal/social"
	"postwise.io/internal/store/memory"
	"postwise.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		creds social.CredentialStore
		posts social.PostStore
		ready httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.WithError(err).Fatal("open db")
		}
		defer store.Close()
		creds, posts = store.Credentials(), store.Posts()
		ready.DB = store.DB()
	} else {
		log.Warn("PG_DSN not set, using in-memory stores")
		creds, posts = memory.NewCredentials(), memory.NewPosts()
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		locker = lock.NewRedis(rdb, "")
		ready.Redis = rdb
	}

	client := platform.NewClient(cfg.HTTPClientTimeout)
	callback := cfg.CallbackURL()
	metaCfg := oauth.Config{ClientID: cfg.Meta.AppID, ClientSecret: cfg.Meta.AppSecret, RedirectURI: callback}
	liCfg := oauth.Config{ClientID: cfg.LinkedIn.ClientID, ClientSecret: cfg.LinkedIn.ClientSecret, RedirectURI: callback}

	oauthSvc := oauth.NewService(creds,
		oauth.NewFacebook(metaCfg, cfg.Meta.GraphURL, client),
		oauth.NewInstagram(metaCfg, cfg.Meta.GraphURL, client),
		oauth.NewLinkedIn(liCfg, cfg.LinkedIn.AuthURL, cfg.LinkedIn.APIURL, client),
	)
	router := publish.NewRouter(publish.NewRegistry(
		publish.NewFacebook(cfg.Meta.GraphURL, client),
		publish.NewInstagram(cfg.Meta.GraphURL, client),
		publish.NewLinkedIn(cfg.LinkedIn.APIURL, client),
	))
	dispatcher := dispatch.New(posts, creds, router,
		dispatch.WithBatchSize(cfg.SweepBatchSize),
		dispatch.WithLocker(locker),
		dispatch.WithCallTimeout(cfg.HTTPClientTimeout),
	)

	deps := httpapi.Deps{
		Ready:       ready,
		Version:     version,
		Dispatcher:  dispatcher,
		OAuth:       oauthSvc,
		Credentials: creds,
		Posts:       posts,
		CronSecret:  cfg.CronSecret,
		AppURL:      cfg.AppURL,
		CallbackURL: callback,
	}
	if tokens, err := auth.NewTokens(cfg.AuthSecret); err == nil {
		deps.Tokens = tokens
		deps.State = oauth.NewStateCodec(cfg.AuthSecret, 0)
	} else {
		log.WithError(err).Warn("user endpoints and oauth callback disabled")
	}
	if cfg.CronSecret == "" {
		log.Warn("CRON_SECRET not set, sweep trigger is unauthenticated")
	}

	api := httpapi.New(deps,
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitPerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.AppURL),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"version": version, "addr": srv.Addr}).Info("starting postwise-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grpcSrv := httpapi.NewGRPCServer(ready)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("listen grpc")
		}
		g.Go(func() error {
			log.WithField("addr", cfg.GRPCAddr).Info("starting grpc health service")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if cfg.SweepInterval > 0 {
			log.WithField("interval", cfg.SweepInterval.String()).Info("in-process sweep scheduler enabled")
		}
		return dispatch.NewScheduler(dispatcher, cfg.SweepInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	log.Info("stopped")
}
