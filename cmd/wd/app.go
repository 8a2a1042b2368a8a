package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/auth"
	"github.com/ehrlich-b/wingdesk/internal/config"
	"github.com/ehrlich-b/wingdesk/internal/core"
	"github.com/ehrlich-b/wingdesk/internal/logger"
	"github.com/ehrlich-b/wingdesk/internal/store"
	"github.com/ehrlich-b/wingdesk/internal/ws"
)

// app holds everything a command needs once config and credentials are loaded.
type app struct {
	cfg     *config.Config
	client  *api.Client
	auth    *auth.Authenticator
	history *store.Store
	core    *core.Core
	out     io.Writer
}

// loadApp reads the config and builds the API client. The workspace core is
// only built by withCore.
func loadApp() (*app, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	client := api.NewClient(cfg.APIBase(),
		api.WithTimeout(cfg.RequestTimeout()),
		api.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	)
	return &app{
		cfg:    cfg,
		client: client,
		auth:   auth.NewAuthenticator(client, auth.NewTokenStore(cfg.Dir)),
		out:    os.Stdout,
	}, nil
}

// withCore restores the stored token and wires the workspace core.
func (a *app) withCore() error {
	if _, err := a.auth.Restore(); err != nil {
		return err
	}
	if !a.cfg.History.Disabled {
		if err := config.EnsureDir(a.cfg.Dir); err != nil {
			return err
		}
		st, err := store.Open(a.cfg.HistoryPath())
		if err != nil {
			// transcripts still work, they just are not kept
			logger.Warn("open history", "path", a.cfg.HistoryPath(), "err", err)
		} else {
			a.history = st
		}
	}

	channels := ws.NewRegistry(a.cfg.WSBase())
	channels.SetToken(a.client.Token())

	opts := core.Options{
		Backend:  a.client,
		Channels: channels,
		Auth:     a.auth,
		Notify:   a.printNotice,
	}
	if a.history != nil {
		opts.History = a.history
	}
	a.core = core.New(opts)
	return nil
}

func (a *app) Close() {
	if a.core != nil {
		a.core.End()
	}
	if a.history != nil {
		a.history.Close()
	}
}

func (a *app) printNotice(n core.Notice) {
	switch n.Level {
	case core.LevelError:
		color.New(color.FgRed).Fprintln(os.Stderr, n.String())
	case core.LevelWarn:
		color.New(color.FgYellow).Fprintln(os.Stderr, n.String())
	default:
		color.New(color.Faint).Fprintln(os.Stderr, n.String())
	}
	if n.AuthLost {
		fmt.Fprintln(os.Stderr, "run: wd login")
	}
}
