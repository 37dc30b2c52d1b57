package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pl "github.com/panyam/passlink"
	"github.com/panyam/passlink/config"
	"github.com/panyam/passlink/oauth2"
	"github.com/panyam/passlink/stores/fs"
	"github.com/panyam/passlink/stores/gae"
	gormstore "github.com/panyam/passlink/stores/gorm"
	redisstore "github.com/panyam/passlink/stores/redis"
)

var (
	loadCfg      = config.Load
	newLogger    = config.NewLogger
	connectRedis = redisstore.Connect
	openDB       = gormstore.Open
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := loadCfg(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("passlinkd listening", zap.String("addr", cfg.App.ListenAddr), zap.String("env", cfg.App.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// app is everything the server needs, built from config
type app struct {
	handler http.Handler
	server  *pl.Server
	email   *pl.ConsoleEmailSender
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type storage struct {
	users    pl.UserStore
	codes    pl.VerificationCodeStore
	links    pl.MagicLinkStore
	sessions scs.Store
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, registry *prometheus.Registry) (*app, error) {
	a := &app{}

	st, err := a.openStorage(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var locker pl.Locker = pl.NewKeyedMutex()
	if cfg.Redis.URL != "" {
		client, err := connectRedis(ctx, cfg.Redis.URL, cfg.Redis.Password)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		locker, st.sessions = newRedisBackends(client, logger)
		logger.Info("using redis for sessions and locks")
	}

	metrics := pl.NewMetrics(registry)
	codec := pl.NewTokenCodec([]byte(cfg.Auth.JWTSecret), "passlink", nil)
	a.email = &pl.ConsoleEmailSender{Logger: logger}

	sessions := pl.NewSessionManager(pl.SessionConfig{
		CookieName: cfg.Session.CookieName,
		ExpiresIn:  cfg.Session.TTL,
		Secure:     cfg.Session.Secure,
	}, st.sessions, st.users, nil)
	sessions.Logger = logger
	sessions.Metrics = metrics

	verification := &pl.VerificationFlow{
		Codec:            codec,
		Users:            st.users,
		Codes:            st.codes,
		Email:            a.email,
		BaseURL:          cfg.App.URL,
		Logger:           logger,
		Metrics:          metrics,
		Cooldown:         cfg.Auth.VerifyCooldown,
		RequireCodeMatch: cfg.Auth.RequireCodeMatch,
	}
	magicLinks := &pl.MagicLinkFlow{
		Codec:           codec,
		Users:           st.users,
		Links:           st.links,
		Email:           a.email,
		Locker:          locker,
		BaseURL:         cfg.App.URL,
		Logger:          logger,
		Metrics:         metrics,
		RequestCooldown: cfg.Auth.MagicLinkCooldown,
	}
	accounts := &pl.AccountFlow{
		Users:                    st.users,
		Sessions:                 sessions,
		Verification:             verification,
		Logger:                   logger,
		RequireEmailVerification: cfg.Auth.RequireEmailVerification,
	}

	a.server = &pl.Server{
		Sessions:     sessions,
		Verification: verification,
		MagicLinks:   magicLinks,
		Accounts:     accounts,
		Logger:       logger,
	}
	a.addOAuthProviders(cfg, logger)

	router := a.server.Router()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	a.handler = a.server
	return a, nil
}

func newRedisBackends(client *goredis.Client, logger *zap.Logger) (pl.Locker, scs.Store) {
	locker := redisstore.NewLocker(client)
	locker.Logger = logger
	return locker, redisstore.NewSessionStore(client)
}

func (a *app) openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	switch cfg.DB.Driver {
	case "postgres", "sqlite":
		db, err := openDB(cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { sqlDB.Close() })
		}
		sessionStore := gormstore.NewSessionStore(db)
		a.startSessionCleanup(ctx, sessionStore, logger)
		return &storage{
			users:    gormstore.NewUserStore(db),
			codes:    gormstore.NewVerificationCodeStore(db),
			links:    gormstore.NewMagicLinkStore(db),
			sessions: sessionStore,
		}, nil
	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.DB.DatastoreProject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		ns := cfg.DB.DatastoreNamespace
		return &storage{
			users: gae.NewUserStore(client, ns),
			codes: gae.NewVerificationCodeStore(client, ns),
			links: gae.NewMagicLinkStore(client, ns),
		}, nil
	default:
		return &storage{
			users: fs.NewFSUserStore(cfg.DB.DataDir),
			codes: fs.NewFSVerificationCodeStore(cfg.DB.DataDir),
			links: fs.NewFSMagicLinkStore(cfg.DB.DataDir),
		}, nil
	}
}

// startSessionCleanup purges expired session rows hourly until ctx is done
func (a *app) startSessionCleanup(ctx context.Context, store *gormstore.SessionStore, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	a.closers = append(a.closers, cancel)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := store.DeleteExpired(ctx); err != nil {
					logger.Warn("session cleanup failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("expired sessions removed", zap.Int64("count", n))
				}
			}
		}
	}()
}

func (a *app) addOAuthProviders(cfg *config.Config, logger *zap.Logger) {
	callback := func(name string) string {
		return cfg.App.URL + "/auth/" + name + "/callback"
	}
	var providers []*oauth2.Provider
	if cfg.OAuth.GithubClientID != "" {
		providers = append(providers, oauth2.NewGithubOAuth2(cfg.OAuth.GithubClientID, cfg.OAuth.GithubClientSecret, callback("github"), a.server.CompleteOAuth))
	}
	if cfg.OAuth.GoogleClientID != "" {
		providers = append(providers, oauth2.NewGoogleOAuth2(cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, callback("google"), a.server.CompleteOAuth))
	}
	if cfg.OAuth.DiscordClientID != "" {
		providers = append(providers, oauth2.NewDiscordOAuth2(cfg.OAuth.DiscordClientID, cfg.OAuth.DiscordClientSecret, callback("discord"), a.server.CompleteOAuth))
	}
	for _, p := range providers {
		p.Logger = logger
		a.server.AddProvider(p.Name, p)
		logger.Info("oauth provider enabled", zap.String("provider", p.Name))
	}
}
