package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"

	"github.com/ajramos/mailguard/internal/backend"
	"github.com/ajramos/mailguard/internal/background"
	"github.com/ajramos/mailguard/internal/badge"
	"github.com/ajramos/mailguard/internal/config"
	"github.com/ajramos/mailguard/internal/credential"
	"github.com/ajramos/mailguard/internal/db"
	"github.com/ajramos/mailguard/internal/firebase"
	"github.com/ajramos/mailguard/internal/logging"
	"github.com/ajramos/mailguard/internal/services"
)

// app is everything a command needs: the configuration, the logger and a
// client of the background, either in process or over HTTP
type app struct {
	manager *config.Manager
	cfg     *config.Config
	logger  *log.Logger
	client  *background.Client

	// set for in-process backgrounds only
	hub    *background.Hub
	router *background.Router
	store  *db.Store

	closers []func()
}

type appOptions struct {
	// indicator receives usage updates; nil keeps them quiet
	indicator io.Writer
}

// getConfigPath returns the configuration file path using the following priority:
// 1. CLI flag
// 2. Environment variable MAILGUARD_CONFIG
// 3. Default path ~/.config/mailguard/config.json
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return config.ExpandPath(flagValue)
	}
	if envPath := os.Getenv("MAILGUARD_CONFIG"); envPath != "" {
		return config.ExpandPath(envPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads path into manager, or the defaults when there is no file yet
func loadConfig(manager *config.Manager, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return manager.LoadFromDefaults()
	}
	return manager.LoadFromFile(path)
}

func newApp(ctx context.Context, cmd *cli.Command, opts appOptions) (*app, error) {
	manager := config.NewManager()
	if err := loadConfig(manager, getConfigPath(cmd.String("config"))); err != nil {
		return nil, err
	}
	cfg := manager.GetConfig()

	logger, closeLog := logging.Open(cfg.GetLogPath(), "[mailguard] ", nil)
	if cmd.Bool("verbose") {
		logger = logging.Tee(logger, os.Stderr)
	}
	a := &app{manager: manager, cfg: cfg, logger: logger, closers: []func(){closeLog}}

	if cmd.Bool("remote") {
		base := "http://" + cfg.Server.Addr
		a.client = background.NewClient(background.NewHTTPTransport(base, cfg.GetBackendTimeout()+10*time.Second, logger))
		return a, nil
	}

	if err := a.startBackground(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// startBackground wires the services behind an in-process router
func (a *app) startBackground(ctx context.Context, opts appOptions) error {
	cfg := a.cfg

	store, err := db.Open(ctx, cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })
	kv := db.NewKVStore(store)

	var sessions services.SessionStore = services.NewKVSessionStore(kv)
	if cfg.Session.UseKeyring {
		ring, err := credential.Open()
		if err != nil {
			a.logger.Printf("Warning: keyring unavailable, keeping the session in the database: %v", err)
		} else {
			sessions = credential.NewSessionStore(ring)
		}
	}

	auth := firebase.NewAuthClient(cfg.Identity.APIKey, cfg.Identity.AuthURL, cfg.Identity.TokenURL, cfg.GetBackendTimeout())
	sessionSvc := services.NewSessionService(auth, sessions, cfg.GetRefreshBuffer(), a.logger)

	var limits services.LimitStore
	if cfg.Identity.ProjectID != "" {
		var fsOpts []option.ClientOption
		if cfg.Identity.FirestoreURL != "" {
			fsOpts = append(fsOpts, option.WithEndpoint(cfg.Identity.FirestoreURL))
		}
		store, err := firebase.NewLimitStore(ctx, cfg.Identity.ProjectID, sessionSvc.TokenSource(ctx), fsOpts...)
		if err != nil {
			a.logger.Printf("Warning: remote limits unavailable: %v", err)
		} else {
			limits = store
		}
	}

	var indicator services.UsageIndicator
	if opts.indicator != nil {
		indicator = badge.NewTerminal(opts.indicator, "usage ")
	}
	quotaSvc := services.NewQuotaService(kv, limits, sessions, indicator, cfg.Quota.BaseLimit, cfg.Quota.ExtensionStep, a.logger)
	sessionSvc.SetQuotaService(quotaSvc)

	remote := backend.NewClient(cfg.Backend.URL, cfg.GetBackendTimeout(), cfg.GetHealthTimeout())
	analysisSvc := services.NewAnalysisService(remote, sessionSvc, quotaSvc, a.logger)
	trustSvc := services.NewTrustService(kv, a.logger)

	a.hub = background.NewHub(a.logger)
	a.router = background.NewRouter(background.Services{
		Session:  sessionSvc,
		Quota:    quotaSvc,
		Analysis: analysisSvc,
		Trust:    trustSvc,
		Settings: a.manager,
	}, a.hub, a.logger)
	a.manager.OnLanguageChange(func(language string) {
		a.router.Notify(background.Notice{Action: background.NoticeSettingsUpdated, Language: language}, "")
	})
	a.client = background.NewClient(background.NewLocalTransport(a.router, a.hub))
	return nil
}

// Close releases storage and the log file
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// language returns the --language flag or the configured language
func (a *app) language(cmd *cli.Command) string {
	if l := strings.TrimSpace(cmd.String("language")); l != "" {
		return l
	}
	return a.cfg.Language
}

// withApp runs fn with a ready app and closes it afterwards
func withApp(opts appOptions, fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := newApp(ctx, cmd, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a)
	}
}
